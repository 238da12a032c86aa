package playback

import (
	"context"
	"fmt"
	"sync"

	"EchoFM/logger"
	"EchoFM/model"
)

// Transport 播放状态机的三个传输状态
type Transport int

const (
	TransportStopped Transport = iota
	TransportPlaying
	TransportPaused
)

func (t Transport) String() string {
	switch t {
	case TransportStopped:
		return "stopped"
	case TransportPlaying:
		return "playing"
	case TransportPaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Catalog 自动连播的目录回退源，可为 nil
type Catalog interface {
	NextAfter(ctx context.Context, trackID string) (*model.Track, error)
}

// Status 引擎状态快照
type Status struct {
	Current   *model.Track
	Transport Transport
	Position  float64
	Duration  float64
	Volume    int
	Muted     bool
}

// 切歌时离场歌曲的去向
type leaveDest int

const (
	leaveToHistory leaveDest = iota
	leaveToQueueFront
	leaveDiscard
)

// Engine 单设备播放引擎
// 持有当前歌曲、FIFO 待播队列与 LIFO 历史栈，全部操作经一把互斥锁串行化
// 不变量：至多一首当前歌曲；队列与历史不含当前歌曲；Playing 必有当前歌曲
type Engine struct {
	mu        sync.Mutex
	device    Device
	catalog   Catalog
	streamURL func(trackID string) string

	current   *model.Track
	transport Transport
	position  float64
	duration  float64
	volume    int
	muted     bool
	queue     []model.Track
	history   []model.Track

	// 每次 Load 递增；被后续 Load 超越的完成与事件一律作废
	generation uint64
	// 最近一次 Load 对应的设备加载代际，旧代际的设备事件一律丢弃
	deviceGen uint64
}

// NewEngine 创建播放引擎，streamURL 将歌曲标识映射为可播放的代理地址
func NewEngine(device Device, catalog Catalog, streamURL func(trackID string) string) *Engine {
	return &Engine{
		device:    device,
		catalog:   catalog,
		streamURL: streamURL,
		transport: TransportStopped,
		volume:    100,
	}
}

// Run 消费设备事件直到上下文取消
// 引擎的事件处理只在这一个 goroutine 上进行
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-e.device.Events():
			if !ok {
				return
			}
			e.HandleEvent(ctx, ev)
		}
	}
}

// Load 中断当前播放并加载给定歌曲，原当前歌曲入历史栈顶
// 设备加载失败时引擎回到 Stopped，不重试
func (e *Engine) Load(ctx context.Context, track model.Track) error {
	return e.load(ctx, track, leaveToHistory)
}

func (e *Engine) load(ctx context.Context, track model.Track, dest leaveDest) error {
	return e.loadGuarded(ctx, track, dest, 0)
}

// loadGuarded 带代际前提的加载
// expect 非零时要求引擎代际仍等于 expect，期间有过新的 Load 即放弃
func (e *Engine) loadGuarded(ctx context.Context, track model.Track, dest leaveDest, expect uint64) error {
	e.mu.Lock()

	if expect != 0 && e.generation != expect {
		e.mu.Unlock()
		return nil
	}

	e.generation++
	gen := e.generation

	if e.current != nil && e.current.ID != track.ID {
		switch dest {
		case leaveToHistory:
			e.history = append([]model.Track{*e.current}, e.history...)
		case leaveToQueueFront:
			e.queue = append([]model.Track{*e.current}, e.queue...)
		}
	}

	// 当前歌曲不得同时存在于队列或历史中
	e.queue = removeTrack(e.queue, track.ID)
	e.history = removeTrack(e.history, track.ID)

	e.current = &track
	e.position = 0
	e.duration = 0
	url := e.streamURL(track.ID)
	volume, muted := e.volume, e.muted
	e.mu.Unlock()

	e.device.SetVolume(volume, muted)
	devGen, err := e.device.Load(ctx, url)

	e.mu.Lock()
	defer e.mu.Unlock()

	// 加载期间被更新的 Load 超越，本次结果作废
	if e.generation != gen {
		return nil
	}
	e.deviceGen = devGen

	if err != nil {
		logger.Error("设备加载失败",
			logger.String("trackId", track.ID),
			logger.ErrorField(err))
		e.current = nil
		e.transport = TransportStopped
		return fmt.Errorf("load track %s: %w", track.ID, err)
	}

	e.transport = TransportPlaying
	logger.Info("开始播放",
		logger.String("trackId", track.ID),
		logger.String("title", track.Title))
	return nil
}

// Toggle 在播放与暂停之间切换，Stopped 时不动作
func (e *Engine) Toggle() {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.transport {
	case TransportPlaying:
		e.device.Pause()
		e.transport = TransportPaused
	case TransportPaused:
		e.device.Resume()
		e.transport = TransportPlaying
	}
}

// Seek 跳转到指定秒数，越界时收敛到 [0, duration]，传输状态不变
func (e *Engine) Seek(seconds float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil || e.transport == TransportStopped {
		return nil
	}

	// 时长未就绪时 duration 为 0，越界寻址收敛到起点
	if seconds < 0 {
		seconds = 0
	}
	if seconds > e.duration {
		seconds = e.duration
	}

	if err := e.device.Seek(seconds); err != nil {
		return fmt.Errorf("seek to %.1fs: %w", seconds, err)
	}
	e.position = seconds
	return nil
}

// SetVolume 设置音量，收敛到 [0,100]
// 音量归零即静音；静音中调到正音量即解除静音
func (e *Engine) SetVolume(percent int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	e.volume = percent
	if percent == 0 {
		e.muted = true
	} else if e.muted {
		e.muted = false
	}

	e.device.SetVolume(e.volume, e.muted)
}

// Enqueue 追加到待播队列尾部，当前歌曲不入队
func (e *Engine) Enqueue(track model.Track) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current != nil && e.current.ID == track.ID {
		return
	}
	e.queue = append(e.queue, track)
}

// RemoveFromQueue 从队列移除指定歌曲，返回是否移除
func (e *Engine) RemoveFromQueue(trackID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	before := len(e.queue)
	e.queue = removeTrack(e.queue, trackID)
	return len(e.queue) < before
}

// Queue 返回待播队列快照
func (e *Engine) Queue() []model.Track {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.Track(nil), e.queue...)
}

// History 返回历史栈快照，栈顶在前
func (e *Engine) History() []model.Track {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.Track(nil), e.history...)
}

// State 返回引擎状态快照
func (e *Engine) State() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{
		Transport: e.transport,
		Position:  e.position,
		Duration:  e.duration,
		Volume:    e.volume,
		Muted:     e.muted,
	}
	if e.current != nil {
		cur := *e.current
		st.Current = &cur
	}
	return st
}

// SkipNext 手动切到队列头部的下一首
// 队列为空时停止，不做目录回退
func (e *Engine) SkipNext(ctx context.Context) error {
	e.mu.Lock()
	if len(e.queue) == 0 {
		e.stopLocked()
		e.mu.Unlock()
		return nil
	}
	next := e.queue[0]
	e.queue = e.queue[1:]
	e.mu.Unlock()

	return e.load(ctx, next, leaveToHistory)
}

// SkipPrev 回到历史栈顶的上一首，被离开的歌曲插到队列头部
// 历史为空时不动作
func (e *Engine) SkipPrev(ctx context.Context) error {
	e.mu.Lock()
	if len(e.history) == 0 {
		e.mu.Unlock()
		return nil
	}
	prev := e.history[0]
	e.history = e.history[1:]
	e.mu.Unlock()

	return e.load(ctx, prev, leaveToQueueFront)
}

// Stop 停止播放，当前歌曲入历史栈顶
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

// HandleEvent 处理一条设备事件
// 早于最近一次加载的事件属于已被替换的音频，直接丢弃
func (e *Engine) HandleEvent(ctx context.Context, ev Event) {
	e.mu.Lock()
	if ev.Gen != e.deviceGen {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	switch ev.Kind {
	case EventMetadataLoaded:
		e.mu.Lock()
		e.duration = ev.Duration
		e.mu.Unlock()

	case EventPosition:
		e.mu.Lock()
		if e.transport != TransportStopped {
			e.position = ev.Seconds
		}
		e.mu.Unlock()

	case EventEnded:
		e.advance(ctx)

	case EventError:
		logger.Error("设备上报故障", logger.ErrorField(ev.Err))
		e.mu.Lock()
		e.stopLocked()
		e.mu.Unlock()
	}
}

// advance 自然播完后的自动连播
// 先取队列头部；队列为空时按目录顺序回退；都没有则停止
func (e *Engine) advance(ctx context.Context) {
	e.mu.Lock()
	if e.transport == TransportStopped || e.current == nil {
		e.mu.Unlock()
		return
	}

	if len(e.queue) > 0 {
		next := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()
		if err := e.load(ctx, next, leaveToHistory); err != nil {
			logger.Error("自动连播失败", logger.ErrorField(err))
		}
		return
	}

	currentID := e.current.ID
	gen := e.generation
	e.mu.Unlock()

	// 目录查询在锁外进行，期间用户切歌则整个回退作废
	if e.catalog != nil {
		next, err := e.catalog.NextAfter(ctx, currentID)
		if err != nil {
			logger.Warn("目录回退查询失败", logger.ErrorField(err))
		} else if next != nil {
			if err := e.loadGuarded(ctx, *next, leaveToHistory, gen); err != nil {
				logger.Error("自动连播失败", logger.ErrorField(err))
			}
			return
		}
	}

	e.mu.Lock()
	if e.generation == gen {
		e.stopLocked()
	}
	e.mu.Unlock()
}

// stopLocked 停止设备并清空当前歌曲，离场歌曲入历史栈顶
// 调用方必须持有 e.mu
func (e *Engine) stopLocked() {
	e.device.Stop()
	if e.current != nil {
		e.history = append([]model.Track{*e.current}, e.history...)
		e.current = nil
	}
	e.transport = TransportStopped
	e.position = 0
	e.duration = 0
}

func removeTrack(tracks []model.Track, trackID string) []model.Track {
	out := tracks[:0]
	for _, t := range tracks {
		if t.ID != trackID {
			out = append(out, t)
		}
	}
	return out
}
