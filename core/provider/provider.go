package provider

import (
	"context"
	"errors"

	"EchoFM/model"
)

// 统一的目录提供方错误，供 HTTP 层映射状态码
var (
	// ErrTrackNotFound 标识符无法解析为可播放媒体
	ErrTrackNotFound = errors.New("track not found")
	// ErrUpstreamUnavailable 提供方网络错误或超时
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// Provider 目录提供方接口
// 定义搜索、解析等统一操作；每个后端服务一个实现
type Provider interface {
	// Search 搜索歌曲
	// query: 搜索关键词
	// limit: 返回数量限制
	Search(ctx context.Context, query string, limit int) ([]model.Track, error)

	// Resolve 将歌曲标识解析为上游音频源
	// 每个代理请求解析一次，描述符不跨请求缓存（签名URL会过期）
	Resolve(ctx context.Context, trackID string) (*model.StreamDescriptor, error)

	// Source 获取提供方来源标识
	Source() string
}

// Registry 目录提供方注册表
type Registry struct {
	providers  map[string]Provider
	defaultKey string
}

// NewRegistry 创建提供方注册表
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register 注册提供方，首个注册的成为默认提供方
func (r *Registry) Register(p Provider) {
	if len(r.providers) == 0 {
		r.defaultKey = p.Source()
	}
	r.providers[p.Source()] = p
}

// Get 获取指定来源的提供方
func (r *Registry) Get(source string) Provider {
	return r.providers[source]
}

// Default 获取默认提供方
func (r *Registry) Default() Provider {
	return r.providers[r.defaultKey]
}
