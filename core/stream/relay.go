package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"EchoFM/core/provider"
	"EchoFM/logger"
	"EchoFM/model"
)

const (
	// 转发环形缓冲大小；客户端写阻塞即暂停上游读取，内存占用以此为上界
	copyBufferSize = 64 << 10

	// 整段缓冲切片策略的体积上限，超过则走管道转发
	smallBufferLimit = 8 << 20

	contentTypeAudio = "audio/mpeg"
)

// AudioCache 音频缓存层，Lookup 未命中返回 (nil, nil)
type AudioCache interface {
	Lookup(ctx context.Context, trackID string) ([]byte, error)
	Store(ctx context.Context, trackID string, data []byte) error
}

// Relay 音频流转发器
// 负责解析 Range、读穿缓存、向上游取流并带背压地转发给客户端
type Relay struct {
	resolver      provider.Provider
	cache         AudioCache // nil 时禁用缓存
	client        *http.Client
	maxCacheBytes int64
}

// NewRelay 创建音频流转发器
func NewRelay(resolver provider.Provider, cache AudioCache, maxCacheBytes int64) *Relay {
	return &Relay{
		resolver: resolver,
		cache:    cache,
		client: &http.Client{
			Timeout: 5 * time.Minute,
		},
		maxCacheBytes: maxCacheBytes,
	}
}

// ServeTrack 处理一次音频代理请求
// 响应头发出之前的失败返回 JSON 错误；发出之后的失败直接中断连接
// 缓存查询先于解析，省去命中时的上游往返；代价是已缓存的歌曲即便在
// 上游已不可解析也会继续以 200 命中，直到缓存被清理
func (rl *Relay) ServeTrack(w http.ResponseWriter, r *http.Request, trackID string) {
	spec, err := ParseRange(r.Header.Get("Range"))
	if err != nil {
		if errors.Is(err, ErrSuffixRange) {
			writeStreamError(w, http.StatusNotImplemented, "Range not supported", "suffix byte ranges are not implemented")
			return
		}
		// 无法解析的 Range 按完整请求处理
		logger.Warn("忽略无法解析的Range头",
			logger.String("trackId", trackID),
			logger.String("range", r.Header.Get("Range")))
		spec = nil
	}

	// 命中缓存的条目必然完整，可直接满足完整与区间请求
	if rl.cache != nil {
		data, err := rl.cache.Lookup(r.Context(), trackID)
		if err != nil {
			logger.Warn("缓存读取失败，转上游取流",
				logger.String("trackId", trackID),
				logger.ErrorField(err))
		} else if data != nil {
			logger.Debug("缓存命中",
				logger.String("trackId", trackID),
				logger.Int("size", len(data)))
			rl.serveFromCache(w, spec, data)
			return
		}
	}

	desc, err := rl.resolver.Resolve(r.Context(), trackID)
	if err != nil {
		if errors.Is(err, provider.ErrTrackNotFound) {
			writeStreamError(w, http.StatusNotFound, "Track not found", err.Error())
			return
		}
		writeStreamError(w, http.StatusBadGateway, "Failed to stream audio", err.Error())
		return
	}

	rl.relayUpstream(w, r, trackID, desc, spec)
}

// relayUpstream 向上游取流并转发
func (rl *Relay) relayUpstream(w http.ResponseWriter, r *http.Request, trackID string, desc *model.StreamDescriptor, spec *RangeSpec) {
	// 复用客户端请求上下文，客户端断开即取消上游读取
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, desc.UpstreamURL, nil)
	if err != nil {
		writeStreamError(w, http.StatusBadGateway, "Failed to stream audio", err.Error())
		return
	}
	if spec != nil {
		req.Header.Set("Range", rangeHeader(spec))
	}

	resp, err := rl.client.Do(req)
	if err != nil {
		logger.Error("上游请求失败",
			logger.String("trackId", trackID),
			logger.ErrorField(err))
		writeStreamError(w, http.StatusBadGateway, "Failed to stream audio", "upstream request failed")
		return
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		rl.relayPartial(w, resp, trackID)
	case resp.StatusCode == http.StatusOK && spec != nil:
		// 上游忽略了 Range，本地完成切片
		rl.relaySliced(w, resp, trackID, spec)
	case resp.StatusCode == http.StatusOK:
		rl.relayFull(r.Context(), w, resp, trackID, desc)
	default:
		logger.Error("上游返回错误状态码",
			logger.String("trackId", trackID),
			logger.Int("status", resp.StatusCode))
		writeStreamError(w, http.StatusBadGateway, "Failed to stream audio",
			fmt.Sprintf("upstream returned status %d", resp.StatusCode))
	}
}

// relayPartial 上游已按 Range 响应，逐字节透传
func (rl *Relay) relayPartial(w http.ResponseWriter, resp *http.Response, trackID string) {
	h := w.Header()
	h.Set("Content-Type", contentTypeAudio)
	h.Set("Accept-Ranges", "bytes")
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		h.Set("Content-Range", cr)
	}
	if resp.ContentLength >= 0 {
		h.Set("Content-Length", strconv.FormatInt(resp.ContentLength, 10))
	}
	w.WriteHeader(http.StatusPartialContent)

	pipe(w, resp.Body, trackID)
}

// relaySliced 上游返回完整内容但客户端请求了区间
// 总长已知且较小时整段缓冲后切片；否则丢弃前导字节后管道转发
func (rl *Relay) relaySliced(w http.ResponseWriter, resp *http.Response, trackID string, spec *RangeSpec) {
	total := resp.ContentLength

	if total >= 0 {
		if spec.Start >= total {
			writeNotSatisfiable(w, total)
			return
		}
		if total <= smallBufferLimit {
			data, err := io.ReadAll(resp.Body)
			if err != nil {
				logger.Error("读取上游响应失败",
					logger.String("trackId", trackID),
					logger.ErrorField(err))
				writeStreamError(w, http.StatusBadGateway, "Failed to stream audio", "upstream read failed")
				return
			}
			rl.serveSlice(w, spec, data, int64(len(data)))
			return
		}
		rl.pipeSlice(w, resp.Body, trackID, spec, total)
		return
	}

	// 总长未知：有界区间可以直接管道切片，无界区间只能整段缓冲后判定总长
	if spec.End >= 0 {
		rl.pipeSlice(w, resp.Body, trackID, spec, -1)
		return
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Error("读取上游响应失败",
			logger.String("trackId", trackID),
			logger.ErrorField(err))
		writeStreamError(w, http.StatusBadGateway, "Failed to stream audio", "upstream read failed")
		return
	}
	rl.serveSlice(w, spec, data, int64(len(data)))
}

// pipeSlice 丢弃前导字节后按区间管道转发，total 为 -1 表示总长未知
func (rl *Relay) pipeSlice(w http.ResponseWriter, body io.Reader, trackID string, spec *RangeSpec, total int64) {
	start, end, err := spec.Resolve(total)
	if err != nil {
		writeNotSatisfiable(w, total)
		return
	}

	// 上游未按 Range 响应，前导字节在本地丢弃
	if _, err := io.CopyN(io.Discard, body, start); err != nil {
		logger.Error("丢弃前导字节失败",
			logger.String("trackId", trackID),
			logger.ErrorField(err))
		writeStreamError(w, http.StatusBadGateway, "Failed to stream audio", "upstream read failed")
		return
	}

	h := w.Header()
	h.Set("Content-Type", contentTypeAudio)
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Range", ContentRange(start, end, total))
	h.Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.WriteHeader(http.StatusPartialContent)

	buf := make([]byte, copyBufferSize)
	if _, err := io.CopyBuffer(w, io.LimitReader(body, end-start+1), buf); err != nil {
		abortResponse(trackID, err)
	}
}

// relayFull 完整内容请求的管道转发，成功后将完整字节交给缓存
func (rl *Relay) relayFull(ctx context.Context, w http.ResponseWriter, resp *http.Response, trackID string, desc *model.StreamDescriptor) {
	h := w.Header()
	h.Set("Content-Type", contentTypeAudio)
	h.Set("Accept-Ranges", "bytes")
	if resp.ContentLength >= 0 {
		h.Set("Content-Length", strconv.FormatInt(resp.ContentLength, 10))
	}
	w.WriteHeader(http.StatusOK)

	var dst io.Writer = w
	var tee *cacheTee
	if rl.cache != nil && desc.TransferMode == model.TransferProgressive {
		tee = newCacheTee(rl.maxCacheBytes)
		dst = io.MultiWriter(w, tee)
	}

	buf := make([]byte, copyBufferSize)
	if _, err := io.CopyBuffer(dst, resp.Body, buf); err != nil {
		// 不完整的传输不得入缓存
		abortResponse(trackID, err)
	}

	if tee != nil && !tee.abandoned {
		if err := rl.cache.Store(context.WithoutCancel(ctx), trackID, tee.Bytes()); err != nil {
			logger.Warn("缓存写入失败",
				logger.String("trackId", trackID),
				logger.ErrorField(err))
		} else {
			logger.Debug("完整传输已入缓存",
				logger.String("trackId", trackID),
				logger.Int("size", len(tee.Bytes())))
		}
	}
}

// serveFromCache 从缓存条目满足请求，条目长度即资源总长
func (rl *Relay) serveFromCache(w http.ResponseWriter, spec *RangeSpec, data []byte) {
	if spec == nil {
		h := w.Header()
		h.Set("Content-Type", contentTypeAudio)
		h.Set("Accept-Ranges", "bytes")
		h.Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		w.Write(data)
		return
	}
	rl.serveSlice(w, spec, data, int64(len(data)))
}

// serveSlice 从内存字节切出区间写 206
func (rl *Relay) serveSlice(w http.ResponseWriter, spec *RangeSpec, data []byte, total int64) {
	start, end, err := spec.Resolve(total)
	if err != nil {
		writeNotSatisfiable(w, total)
		return
	}

	h := w.Header()
	h.Set("Content-Type", contentTypeAudio)
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Range", ContentRange(start, end, total))
	h.Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.WriteHeader(http.StatusPartialContent)
	w.Write(data[start : end+1])
}

// pipe 带背压的逐块转发
func pipe(w http.ResponseWriter, body io.Reader, trackID string) {
	buf := make([]byte, copyBufferSize)
	if _, err := io.CopyBuffer(w, body, buf); err != nil {
		abortResponse(trackID, err)
	}
}

// abortResponse 响应头已发出后的失败只能中断连接，不补写任何内容
func abortResponse(trackID string, err error) {
	logger.Warn("流转发中断",
		logger.String("trackId", trackID),
		logger.ErrorField(err))
	panic(http.ErrAbortHandler)
}

// rangeHeader 还原转发给上游的 Range 请求头
func rangeHeader(spec *RangeSpec) string {
	if spec.End < 0 {
		return fmt.Sprintf("bytes=%d-", spec.Start)
	}
	return fmt.Sprintf("bytes=%d-%d", spec.Start, spec.End)
}

// writeNotSatisfiable 写 416 响应
func writeNotSatisfiable(w http.ResponseWriter, total int64) {
	totalStr := "*"
	if total >= 0 {
		totalStr = strconv.FormatInt(total, 10)
	}
	w.Header().Set("Content-Range", "bytes */"+totalStr)
	writeStreamError(w, http.StatusRequestedRangeNotSatisfiable, "Range not satisfiable", "requested range starts beyond the end of the resource")
}

// writeStreamError 写 JSON 错误响应
func writeStreamError(w http.ResponseWriter, status int, errMsg, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   errMsg,
		"message": message,
	})
}

// cacheTee 在转发时旁路累积完整字节，超过上限即放弃累积
type cacheTee struct {
	buf       bytes.Buffer
	limit     int64
	abandoned bool
}

func newCacheTee(limit int64) *cacheTee {
	return &cacheTee{limit: limit}
}

// Write 永不失败，缓存旁路不影响转发
func (t *cacheTee) Write(p []byte) (int, error) {
	if t.abandoned {
		return len(p), nil
	}
	if t.limit > 0 && int64(t.buf.Len())+int64(len(p)) > t.limit {
		t.abandoned = true
		t.buf.Reset()
		return len(p), nil
	}
	t.buf.Write(p)
	return len(p), nil
}

func (t *cacheTee) Bytes() []byte {
	return t.buf.Bytes()
}
