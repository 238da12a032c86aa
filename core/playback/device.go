package playback

import "context"

// EventKind 设备事件类型
type EventKind int

const (
	// EventMetadataLoaded 元数据就绪，携带总时长
	EventMetadataLoaded EventKind = iota
	// EventPosition 播放进度，约每秒一次
	EventPosition
	// EventEnded 当前音频自然播完
	EventEnded
	// EventError 设备故障，当前播放不可恢复
	EventError
)

// Event 设备上报的单个事件
type Event struct {
	// Gen 产生该事件的加载代际，与对应 Load 的返回值一致
	Gen      uint64
	Kind     EventKind
	Duration float64 // EventMetadataLoaded：总时长（秒）
	Seconds  float64 // EventPosition：当前进度（秒）
	Err      error   // EventError
}

// Device 音频输出设备
// Load 返回前必须终止旧音频，每次调用分配递增的加载代际；
// 事件通道可能仍残留旧代际的事件，消费方按 Gen 判别归属
type Device interface {
	// Load 从流地址加载并开始播放，返回本次加载的代际
	Load(ctx context.Context, streamURL string) (uint64, error)
	// Pause 暂停播放，位置保持
	Pause()
	// Resume 从暂停位置恢复播放
	Resume()
	// Stop 停止播放并释放当前音频
	Stop()
	// Seek 跳转到指定秒数
	Seek(seconds float64) error
	// SetVolume 设置音量百分比与静音状态
	SetVolume(percent int, muted bool)
	// Events 设备事件通道
	Events() <-chan Event
}
