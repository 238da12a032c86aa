package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"EchoFM/logger"
	"EchoFM/model"

	"github.com/go-resty/resty/v2"
)

const requestTimeout = 30 * time.Second

// LibraryStore 解析成功后用于登记歌曲的持久层
// 登记失败只记录日志，不影响解析结果
type LibraryStore interface {
	Upsert(ctx context.Context, track model.Track) error
}

// SoundCloudProvider SoundCloud 目录提供方实现
type SoundCloudProvider struct {
	client   *resty.Client
	clientID string
	library  LibraryStore
}

// NewSoundCloudProvider 创建 SoundCloud 提供方
// library 可为 nil（测试场景）
func NewSoundCloudProvider(baseURL, clientID string, library LibraryStore) *SoundCloudProvider {
	return &SoundCloudProvider{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(requestTimeout),
		clientID: clientID,
		library:  library,
	}
}

// Source 返回提供方来源标识
func (p *SoundCloudProvider) Source() string {
	return "soundcloud"
}

// Search 搜索歌曲
func (p *SoundCloudProvider) Search(ctx context.Context, query string, limit int) ([]model.Track, error) {
	if limit <= 0 {
		limit = 3
	}

	logger.Info("[SoundCloud] 搜索歌曲",
		logger.String("query", query),
		logger.Int("limit", limit))

	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"q":         query,
			"limit":     fmt.Sprintf("%d", limit),
			"client_id": p.clientID,
		}).
		Get("/search/tracks")
	if err != nil {
		logger.Error("[SoundCloud] 搜索请求失败", logger.ErrorField(err))
		return nil, fmt.Errorf("%w: search request: %v", ErrUpstreamUnavailable, err)
	}
	if !resp.IsSuccess() {
		logger.Error("[SoundCloud] 搜索返回错误状态码",
			logger.Int("status", resp.StatusCode()))
		return nil, fmt.Errorf("%w: search returned status %d", ErrUpstreamUnavailable, resp.StatusCode())
	}

	var result model.SoundCloudSearchResult
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("%w: parse search response: %v", ErrUpstreamUnavailable, err)
	}

	tracks := make([]model.Track, 0, len(result.Collection))
	for _, raw := range result.Collection {
		if raw.Kind != "" && raw.Kind != "track" {
			continue
		}
		if raw.PermalinkURL == "" {
			continue
		}
		tracks = append(tracks, FormatTrack(raw))
		if len(tracks) >= limit {
			break
		}
	}

	logger.Info("[SoundCloud] 搜索完成",
		logger.String("query", query),
		logger.Int("count", len(tracks)))

	return tracks, nil
}

// Resolve 将歌曲标识解析为上游音频源
// 交付方式选择策略：优先 progressive（可按字节寻址）；当 progressive 缺失
// 或其 URL 本身指向 HLS 清单时回退到分片交付。每次请求只判定一次，流中不再重评
func (p *SoundCloudProvider) Resolve(ctx context.Context, trackID string) (*model.StreamDescriptor, error) {
	permalink, err := url.QueryUnescape(trackID)
	if err != nil || permalink == "" {
		return nil, fmt.Errorf("%w: invalid track id %q", ErrTrackNotFound, trackID)
	}

	logger.Info("[SoundCloud] 解析歌曲", logger.String("permalink", permalink))

	raw, err := p.fetchTrackInfo(ctx, permalink)
	if err != nil {
		return nil, err
	}

	transcoding, mode := pickTranscoding(raw.Media.Transcodings)
	if transcoding == nil {
		logger.Warn("[SoundCloud] 歌曲无可用交付方式", logger.String("permalink", permalink))
		return nil, fmt.Errorf("%w: no playable transcoding for %s", ErrTrackNotFound, permalink)
	}

	streamURL, err := p.fetchStreamURL(ctx, transcoding.URL)
	if err != nil {
		return nil, err
	}

	// 登记到曲库，供自动连播的目录回退使用
	if p.library != nil {
		if err := p.library.Upsert(ctx, FormatTrack(*raw)); err != nil {
			logger.Warn("[SoundCloud] 曲库登记失败",
				logger.String("permalink", permalink),
				logger.ErrorField(err))
		}
	}

	logger.Info("[SoundCloud] 解析成功",
		logger.String("permalink", permalink),
		logger.String("mode", string(mode)))

	return &model.StreamDescriptor{
		UpstreamURL:   streamURL,
		TransferMode:  mode,
		ContentLength: -1, // 签名URL的实际长度由上游响应头给出
	}, nil
}

// fetchTrackInfo 通过 resolve 接口取回歌曲详情
func (p *SoundCloudProvider) fetchTrackInfo(ctx context.Context, permalink string) (*model.SoundCloudTrack, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"url":       permalink,
			"client_id": p.clientID,
		}).
		Get("/resolve")
	if err != nil {
		logger.Error("[SoundCloud] resolve 请求失败", logger.ErrorField(err))
		return nil, fmt.Errorf("%w: resolve request: %v", ErrUpstreamUnavailable, err)
	}
	if resp.StatusCode() == 404 {
		return nil, fmt.Errorf("%w: %s", ErrTrackNotFound, permalink)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: resolve returned status %d", ErrUpstreamUnavailable, resp.StatusCode())
	}

	var raw model.SoundCloudTrack
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, fmt.Errorf("%w: parse resolve response: %v", ErrUpstreamUnavailable, err)
	}
	if raw.Kind != "" && raw.Kind != "track" {
		return nil, fmt.Errorf("%w: %s resolves to %s, not a track", ErrTrackNotFound, permalink, raw.Kind)
	}

	return &raw, nil
}

// fetchStreamURL 取回交付方式对应的签名流地址
func (p *SoundCloudProvider) fetchStreamURL(ctx context.Context, transcodingURL string) (string, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParam("client_id", p.clientID).
		Get(transcodingURL)
	if err != nil {
		logger.Error("[SoundCloud] 获取流地址失败", logger.ErrorField(err))
		return "", fmt.Errorf("%w: transcoding request: %v", ErrUpstreamUnavailable, err)
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("%w: transcoding returned status %d", ErrUpstreamUnavailable, resp.StatusCode())
	}

	var result struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return "", fmt.Errorf("%w: parse transcoding response: %v", ErrUpstreamUnavailable, err)
	}
	if result.URL == "" {
		return "", fmt.Errorf("%w: empty stream url", ErrUpstreamUnavailable)
	}

	return result.URL, nil
}

// pickTranscoding 按策略选出交付方式
func pickTranscoding(transcodings []model.SoundCloudTranscoding) (*model.SoundCloudTranscoding, model.TransferMode) {
	var hls *model.SoundCloudTranscoding

	for i := range transcodings {
		t := &transcodings[i]
		switch t.Format.Protocol {
		case "progressive":
			// progressive 地址本身指向 HLS 清单时不可按字节寻址，按分片处理
			if strings.Contains(t.URL, "/hls") {
				if hls == nil {
					hls = t
				}
				continue
			}
			return t, model.TransferProgressive
		case "hls":
			if hls == nil {
				hls = t
			}
		}
	}

	if hls != nil {
		return hls, model.TransferSegmented
	}
	return nil, ""
}
