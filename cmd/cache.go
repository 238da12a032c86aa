package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"EchoFM/cache"
	"EchoFM/config"
	"EchoFM/db"
	"EchoFM/storage"

	"github.com/minio/minio-go/v7"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "音频缓存管理",
	Long:  `管理整曲音频缓存，当前支持清空全部缓存条目。`,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "清空音频缓存",
	Long:  `删除Redis与MinIO中留存的全部整曲音频缓存条目。`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()

		if err := db.ConnectRedis(cfg); err != nil {
			log.Fatalf("无法连接到Redis: %v", err)
		}
		defer db.CloseRedis()

		var minioClient *minio.Client
		if err := storage.InitMinio(cfg); err != nil {
			fmt.Printf("MinIO不可用，只清空Redis层: %v\n", err)
		} else {
			minioClient = storage.GetMinioClient()
		}

		audioCache := cache.NewAudioCache(db.RedisClient, minioClient, cfg.MinioBucket)

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		if err := audioCache.Clear(ctx); err != nil {
			log.Fatalf("清空缓存失败: %v", err)
		}
		fmt.Println("音频缓存已清空。")
	},
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
