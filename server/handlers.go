package server

import (
	"encoding/json"
	"net/http"

	"EchoFM/core/provider"
	"EchoFM/core/stream"
	"EchoFM/logger"
	"EchoFM/model"
	"EchoFM/repository"

	"github.com/gorilla/mux"
)

// 搜索结果固定返回前三条，与播放器的候选列表宽度一致
const searchResultLimit = 3

const libraryListLimit = 100

// APIHandler 聚合 HTTP 层依赖
type APIHandler struct {
	registry      *provider.Registry
	libraryRepo   *repository.LibraryRepository
	relay         *stream.Relay
	audioCache    stream.AudioCache // nil 时禁用
	cacheMaxBytes int64
}

// NewAPIHandler 创建 APIHandler 实例
func NewAPIHandler(registry *provider.Registry, libraryRepo *repository.LibraryRepository, relay *stream.Relay, audioCache stream.AudioCache, cacheMaxBytes int64) *APIHandler {
	return &APIHandler{
		registry:      registry,
		libraryRepo:   libraryRepo,
		relay:         relay,
		audioCache:    audioCache,
		cacheMaxBytes: cacheMaxBytes,
	}
}

// HealthHandler 健康检查
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// SearchHandler 处理歌曲搜索请求
func (h *APIHandler) SearchHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "Query parameter is required",
		})
		return
	}

	tracks, err := h.registry.Default().Search(r.Context(), query, searchResultLimit)
	if err != nil {
		logger.Error("搜索失败",
			logger.String("query", query),
			logger.ErrorField(err))
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error":   "Failed to search tracks",
			"message": err.Error(),
		})
		return
	}

	if tracks == nil {
		tracks = []model.Track{}
	}
	writeJSON(w, http.StatusOK, tracks)
}

// LibraryHandler 按登记顺序列出曲库
func (h *APIHandler) LibraryHandler(w http.ResponseWriter, r *http.Request) {
	tracks, err := h.libraryRepo.ListByCreation(r.Context(), libraryListLimit)
	if err != nil {
		logger.Error("曲库查询失败", logger.ErrorField(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "Failed to list library",
			"message": err.Error(),
		})
		return
	}

	if tracks == nil {
		tracks = []model.Track{}
	}
	writeJSON(w, http.StatusOK, tracks)
}

// AudioStreamHandler 音频代理端点
func (h *APIHandler) AudioStreamHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	trackID := vars["track_id"]

	logger.Info("音频代理请求",
		logger.String("trackId", trackID),
		logger.String("range", r.Header.Get("Range")))

	h.relay.ServeTrack(w, r, trackID)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("写入响应失败", logger.ErrorField(err))
	}
}
