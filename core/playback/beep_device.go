package playback

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"EchoFM/logger"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
)

const (
	speakerBufferSize   = 250 * time.Millisecond
	positionInterval    = time.Second
	volumeCurveExponent = 0.5
	minVolumeDB         = -10.0
)

// BeepDevice 基于 beep/speaker 的本机音频设备
// 整曲下载后解码，以支持按秒寻址
type BeepDevice struct {
	mu          sync.Mutex
	httpClient  *http.Client
	events      chan Event
	cancel      context.CancelFunc
	streamer    beep.StreamSeekCloser
	format      beep.Format
	ctrl        *beep.Ctrl
	volume      *effects.Volume
	speakerInit bool
	sampleRate  beep.SampleRate

	volumePercent int
	muted         bool

	// 递增代际，旧音频的回调与进度上报以此作废
	gen uint64
}

// NewBeepDevice 创建本机音频设备
func NewBeepDevice() *BeepDevice {
	return &BeepDevice{
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
		events:        make(chan Event, 16),
		volumePercent: 100,
	}
}

// Load 下载并播放给定流地址，返回前终止旧音频
func (d *BeepDevice) Load(ctx context.Context, streamURL string) (uint64, error) {
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.gen++
	gen := d.gen
	if d.speakerInit {
		speaker.Clear()
	}
	if d.streamer != nil {
		d.streamer.Close()
		d.streamer = nil
	}
	d.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return gen, fmt.Errorf("create stream request: %w", err)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return gen, fmt.Errorf("fetch stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return gen, fmt.Errorf("stream returned status %d", resp.StatusCode)
	}

	// 整曲读入内存，mp3 解码器基于 ReadSeeker 才能支持寻址
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gen, fmt.Errorf("read stream body: %w", err)
	}

	streamer, format, err := mp3.Decode(nopSeekCloser{bytes.NewReader(body)})
	if err != nil {
		return gen, fmt.Errorf("decode mp3 stream: %w", err)
	}

	if err := d.initSpeaker(format.SampleRate); err != nil {
		streamer.Close()
		return gen, err
	}

	playCtx, cancel := context.WithCancel(context.Background())

	d.mu.Lock()
	if d.gen != gen {
		// 加载期间被新的 Load 超越
		d.mu.Unlock()
		cancel()
		streamer.Close()
		return gen, nil
	}
	d.cancel = cancel
	d.streamer = streamer
	d.format = format

	d.volume = &effects.Volume{
		Streamer: streamer,
		Base:     2,
		Volume:   percentToGain(float64(d.volumePercent)),
		Silent:   d.muted || d.volumePercent == 0,
	}
	d.ctrl = &beep.Ctrl{Streamer: d.volume}
	ctrl := d.ctrl
	d.mu.Unlock()

	duration := format.SampleRate.D(streamer.Len()).Seconds()

	speaker.Play(beep.Seq(ctrl, beep.Callback(func() {
		d.emit(gen, Event{Kind: EventEnded})
	})))

	d.emit(gen, Event{Kind: EventMetadataLoaded, Duration: duration})

	go d.reportPosition(playCtx, gen)

	logger.Debug("设备开始播放",
		logger.String("url", streamURL),
		logger.Float64("duration", duration))
	return gen, nil
}

// Pause 暂停播放
func (d *BeepDevice) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctrl == nil {
		return
	}
	speaker.Lock()
	d.ctrl.Paused = true
	speaker.Unlock()
}

// Resume 恢复播放
func (d *BeepDevice) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctrl == nil {
		return
	}
	speaker.Lock()
	d.ctrl.Paused = false
	speaker.Unlock()
}

// Stop 停止播放并释放当前音频
func (d *BeepDevice) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.gen++
	if d.speakerInit {
		speaker.Clear()
	}
	if d.streamer != nil {
		d.streamer.Close()
		d.streamer = nil
	}
	d.ctrl = nil
	d.volume = nil
}

// Seek 跳转到指定秒数
func (d *BeepDevice) Seek(seconds float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.streamer == nil {
		return nil
	}

	pos := d.format.SampleRate.N(time.Duration(seconds * float64(time.Second)))
	if pos < 0 {
		pos = 0
	}
	if pos >= d.streamer.Len() {
		pos = d.streamer.Len() - 1
	}

	speaker.Lock()
	err := d.streamer.Seek(pos)
	speaker.Unlock()
	if err != nil {
		return fmt.Errorf("seek stream: %w", err)
	}
	return nil
}

// SetVolume 设置音量与静音状态，未在播放时仅记录
func (d *BeepDevice) SetVolume(percent int, muted bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.volumePercent = percent
	d.muted = muted

	if d.volume == nil {
		return
	}

	speaker.Lock()
	d.volume.Volume = percentToGain(float64(percent))
	d.volume.Silent = muted || percent == 0
	speaker.Unlock()
}

// Events 设备事件通道
func (d *BeepDevice) Events() <-chan Event {
	return d.events
}

func (d *BeepDevice) initSpeaker(sampleRate beep.SampleRate) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.speakerInit || sampleRate != d.sampleRate {
		if err := speaker.Init(sampleRate, sampleRate.N(speakerBufferSize)); err != nil {
			return fmt.Errorf("init speaker: %w", err)
		}
		d.sampleRate = sampleRate
		d.speakerInit = true
	}
	return nil
}

// reportPosition 约每秒上报一次播放进度
func (d *BeepDevice) reportPosition(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(positionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.mu.Lock()
			if d.gen != gen || d.streamer == nil {
				d.mu.Unlock()
				return
			}
			speaker.Lock()
			pos := d.format.SampleRate.D(d.streamer.Position()).Seconds()
			speaker.Unlock()
			d.mu.Unlock()

			d.emit(gen, Event{Kind: EventPosition, Seconds: pos})
		}
	}
}

// emit 投递事件并打上加载代际，代际过期或通道拥塞时丢弃
func (d *BeepDevice) emit(gen uint64, ev Event) {
	d.mu.Lock()
	stale := d.gen != gen
	d.mu.Unlock()
	if stale {
		return
	}

	ev.Gen = gen
	select {
	case d.events <- ev:
	default:
	}
}

// percentToGain 百分比音量到指数增益的映射
func percentToGain(p float64) float64 {
	if p <= 0 {
		return minVolumeDB
	}
	if p >= 100 {
		return 0
	}
	normalized := p / 100.0
	adjusted := math.Pow(normalized, volumeCurveExponent)
	return (1.0 - adjusted) * minVolumeDB
}

type nopSeekCloser struct {
	*bytes.Reader
}

func (nopSeekCloser) Close() error { return nil }
