package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"EchoFM/cache"
	"EchoFM/config"
	"EchoFM/core/provider"
	"EchoFM/core/stream"
	"EchoFM/db"
	"EchoFM/logger"
	"EchoFM/repository"
	"EchoFM/storage"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/minio/minio-go/v7"
)

type ctxKey string

const requestIDKey ctxKey = "requestID"

// Start initializes and starts the HTTP server.
func Start() {
	cfg := config.Load()

	server := &http.Server{
		Addr: ":" + cfg.Port,
		// 音频代理的响应可能持续整曲时长，写超时必须放宽
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	// Connect to the database
	if err := db.ConnectDB(cfg); err != nil {
		logger.Fatal("Failed to connect to database", logger.ErrorField(err))
	}
	defer db.CloseDB()

	// Connect to Redis
	if err := db.ConnectRedis(cfg); err != nil {
		logger.Fatal("Failed to connect to Redis", logger.ErrorField(err))
	}
	defer db.CloseRedis()
	logger.Info("Successfully connected to Redis")

	// Initialize database schema
	if err := db.InitDB(); err != nil {
		logger.Fatal("Failed to initialize database", logger.ErrorField(err))
	}

	// MinIO 不可用时降级为 Redis 单层缓存
	var minioClient *minio.Client
	if cfg.AudioCacheEnabled {
		if err := storage.InitMinio(cfg); err != nil {
			logger.Warn("MinIO 初始化失败，音频缓存降级为单层", logger.ErrorField(err))
		} else {
			minioClient = storage.GetMinioClient()
		}
	}

	libraryRepo := repository.NewLibraryRepository()

	registry := provider.NewRegistry()
	registry.Register(provider.NewSoundCloudProvider(cfg.SoundCloudAPIURL, cfg.SoundCloudClientID, libraryRepo))

	var audioCache stream.AudioCache
	if cfg.AudioCacheEnabled {
		audioCache = cache.NewAudioCache(db.RedisClient, minioClient, cfg.MinioBucket)
	}

	relay := stream.NewRelay(registry.Default(), audioCache, cfg.AudioCacheMaxBytes)

	apiHandler := NewAPIHandler(registry, libraryRepo, relay, audioCache, cfg.AudioCacheMaxBytes)

	// 使用 gorilla/mux 创建路由器
	router := mux.NewRouter()

	// 添加 CORS 中间件
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Range")
			w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range")
			w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	// 请求ID中间件，便于串联一次请求的全部日志
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := uuid.NewString()
			w.Header().Set("X-Request-ID", requestID)
			ctx := context.WithValue(r.Context(), requestIDKey, requestID)

			logger.Debug("收到请求",
				logger.String("requestId", requestID),
				logger.String("method", r.Method),
				logger.String("path", r.URL.Path))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})

	// API Endpoints
	router.HandleFunc("/health", apiHandler.HealthHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/search", apiHandler.SearchHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/library", apiHandler.LibraryHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/audio/{track_id}", apiHandler.AudioStreamHandler).Methods(http.MethodGet)
	router.HandleFunc("/ws/audio/{track_id}", apiHandler.WebSocketStreamHandler).Methods(http.MethodGet)

	server.Handler = router

	// 创建一个通道来接收操作系统信号
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// 在goroutine中启动服务器
	go func() {
		logger.Info("Server starting", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", logger.ErrorField(err))
		}
	}()

	// 等待中断信号
	<-stop
	logger.Info("Shutting down server...")

	// 创建一个5秒超时的上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 优雅关闭服务器
	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", logger.ErrorField(err))
	}

	logger.Info("Server stopped")
}
