package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"EchoFM/core/provider"
	"EchoFM/logger"
	"EchoFM/model"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	wsChunkSize = 32 << 10

	// 应用自定义关闭码：歌曲不存在
	wsCloseTrackNotFound = 4404
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebSocketStreamHandler 将歌曲音频以二进制消息推送给客户端
// 每条消息为固定大小的分块，推送完整后将整曲交给缓存
func (h *APIHandler) WebSocketStreamHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", logger.ErrorField(err))
		return
	}
	defer conn.Close()

	vars := mux.Vars(r)
	trackID := vars["track_id"]

	desc, err := h.registry.Default().Resolve(r.Context(), trackID)
	if err != nil {
		closeCode := websocket.CloseInternalServerErr
		closeReason := "resolve failed"
		if errors.Is(err, provider.ErrTrackNotFound) {
			logger.Warn("track not found", logger.String("trackId", trackID))
			closeCode = wsCloseTrackNotFound
			closeReason = "track not found"
		} else {
			logger.Error("resolve failed",
				logger.String("trackId", trackID),
				logger.ErrorField(err))
		}
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(closeCode, closeReason),
			time.Now().Add(time.Second))
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, desc.UpstreamURL, nil)
	if err != nil {
		logger.Error("upstream request failed", logger.ErrorField(err))
		return
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		logger.Error("upstream fetch failed",
			logger.String("trackId", trackID),
			logger.ErrorField(err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		logger.Error("upstream returned error status",
			logger.String("trackId", trackID),
			logger.Int("status", resp.StatusCode))
		return
	}

	var full bytes.Buffer
	complete := true
	oversized := false
	buf := make([]byte, wsChunkSize)

	for {
		n, err := io.ReadFull(resp.Body, buf)
		if n > 0 {
			if werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
				logger.Warn("websocket write failed",
					logger.String("trackId", trackID),
					logger.ErrorField(werr))
				complete = false
				break
			}
			// 超出缓存上限的歌曲照常推送，只放弃留存
			if !oversized {
				if h.cacheMaxBytes > 0 && int64(full.Len()+n) > h.cacheMaxBytes {
					oversized = true
					full.Reset()
				} else {
					full.Write(buf[:n])
				}
			}
		}
		if err != nil {
			if err != io.EOF && err != io.ErrUnexpectedEOF {
				logger.Warn("upstream read failed",
					logger.String("trackId", trackID),
					logger.ErrorField(err))
				complete = false
			}
			break
		}
	}

	if complete && !oversized && desc.TransferMode == model.TransferProgressive {
		h.storeFullTransfer(trackID, full.Bytes())
	}

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

// storeFullTransfer 将推送完整的整曲写入缓存
func (h *APIHandler) storeFullTransfer(trackID string, data []byte) {
	if h.audioCache == nil || len(data) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := h.audioCache.Store(ctx, trackID, data); err != nil {
		logger.Warn("缓存写入失败",
			logger.String("trackId", trackID),
			logger.ErrorField(err))
	}
}
