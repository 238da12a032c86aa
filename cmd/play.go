package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"EchoFM/config"
	"EchoFM/core/playback"
	"EchoFM/core/provider"

	"github.com/spf13/cobra"
)

var playKeyword string

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "本机播放",
	Long: `搜索歌曲并通过本机音频设备播放，经由本地EchoFM服务器的音频代理取流。
需要先启动 echofm server。

播放中可输入命令：
  p      播放/暂停
  n      下一首
  b      上一首
  s <秒> 跳转
  v <音量> 设置音量(0-100)
  q      退出`,
	Run: func(cmd *cobra.Command, args []string) {
		if playKeyword == "" {
			fmt.Println("请输入要搜索的歌曲名称 (-k)")
			os.Exit(1)
		}

		cfg := config.Load()
		ctx := context.Background()

		sc := provider.NewSoundCloudProvider(cfg.SoundCloudAPIURL, cfg.SoundCloudClientID, nil)

		fmt.Printf("正在搜索: %s\n", playKeyword)
		tracks, err := sc.Search(ctx, playKeyword, 3)
		if err != nil {
			log.Fatalf("搜索失败: %v", err)
		}
		if len(tracks) == 0 {
			fmt.Println("未找到相关歌曲")
			return
		}

		fmt.Printf("\n找到 %d 首歌曲:\n", len(tracks))
		for i, t := range tracks {
			fmt.Printf("%d. %s - %s [%s]\n", i+1, t.Title, t.Artist, t.Duration)
		}

		device := playback.NewBeepDevice()
		engine := playback.NewEngine(device, nil, func(trackID string) string {
			return fmt.Sprintf("http://localhost:%s/api/audio/%s", cfg.Port, trackID)
		})

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go engine.Run(runCtx)

		// 首条结果开播，其余进队列
		if err := engine.Load(ctx, tracks[0]); err != nil {
			log.Fatalf("播放失败: %v", err)
		}
		for _, t := range tracks[1:] {
			engine.Enqueue(t)
		}

		scanner := bufio.NewScanner(os.Stdin)
		for {
			st := engine.State()
			if st.Current != nil {
				fmt.Printf("[%s] %s - %s (%.0f/%.0fs)\n> ",
					st.Transport, st.Current.Title, st.Current.Artist, st.Position, st.Duration)
			} else {
				fmt.Print("[stopped]\n> ")
			}

			if !scanner.Scan() {
				return
			}
			line := strings.TrimSpace(scanner.Text())
			fields := strings.Fields(line)
			if len(fields) == 0 {
				continue
			}

			switch fields[0] {
			case "p":
				engine.Toggle()
			case "n":
				if err := engine.SkipNext(ctx); err != nil {
					fmt.Printf("切歌失败: %v\n", err)
				}
			case "b":
				if err := engine.SkipPrev(ctx); err != nil {
					fmt.Printf("切歌失败: %v\n", err)
				}
			case "s":
				if len(fields) < 2 {
					continue
				}
				sec, err := strconv.ParseFloat(fields[1], 64)
				if err != nil {
					continue
				}
				if err := engine.Seek(sec); err != nil {
					fmt.Printf("跳转失败: %v\n", err)
				}
			case "v":
				if len(fields) < 2 {
					continue
				}
				vol, err := strconv.Atoi(fields[1])
				if err != nil {
					continue
				}
				engine.SetVolume(vol)
			case "q":
				engine.Stop()
				return
			}
		}
	},
}

func init() {
	playCmd.Flags().StringVarP(&playKeyword, "keyword", "k", "", "搜索关键词")
	rootCmd.AddCommand(playCmd)
}
