package cache

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"

	"EchoFM/logger"

	"github.com/go-redis/redis/v8"
	"github.com/minio/minio-go/v7"
)

const audioKeyPrefix = "audio:"

// AudioCache 整曲音频的两级读穿缓存
// Redis 为热层，MinIO 为持久层；热层未命中时回源持久层并回填
// 条目只在完整传输后写入，不设 TTL，仅支持整体清空
type AudioCache struct {
	redis  *redis.Client
	minio  *minio.Client // nil 时只用 Redis 单层
	bucket string
}

// NewAudioCache 创建音频缓存
func NewAudioCache(redisClient *redis.Client, minioClient *minio.Client, bucket string) *AudioCache {
	return &AudioCache{
		redis:  redisClient,
		minio:  minioClient,
		bucket: bucket,
	}
}

// Lookup 查找完整音频，未命中返回 (nil, nil)
// Redis 故障降级到 MinIO，MinIO 命中时回填 Redis
func (c *AudioCache) Lookup(ctx context.Context, trackID string) ([]byte, error) {
	key := audioKey(trackID)

	data, err := c.redis.Get(ctx, key).Bytes()
	if err == nil {
		logger.Debug("音频缓存命中(Redis)",
			logger.String("trackId", trackID),
			logger.Int("size", len(data)))
		return data, nil
	}
	if err != redis.Nil {
		// Redis 故障不阻断查找，继续查持久层
		logger.Warn("读取Redis音频缓存失败，降级到MinIO",
			logger.String("trackId", trackID),
			logger.ErrorField(err))
	}

	if c.minio == nil {
		return nil, nil
	}

	data, err = c.lookupObject(ctx, trackID)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	logger.Debug("音频缓存命中(MinIO)",
		logger.String("trackId", trackID),
		logger.Int("size", len(data)))

	// 回填热层，失败只记录
	if err := c.redis.Set(ctx, key, data, 0).Err(); err != nil {
		logger.Warn("回填Redis音频缓存失败",
			logger.String("trackId", trackID),
			logger.ErrorField(err))
	}

	return data, nil
}

// Store 写入完整音频，同 ID 并发写入时后写覆盖
func (c *AudioCache) Store(ctx context.Context, trackID string, data []byte) error {
	key := audioKey(trackID)

	if err := c.redis.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("store audio to redis: %w", err)
	}

	if c.minio != nil {
		_, err := c.minio.PutObject(ctx, c.bucket, objectName(trackID),
			bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
				ContentType: "audio/mpeg",
			})
		if err != nil {
			return fmt.Errorf("store audio to minio: %w", err)
		}
	}

	logger.Debug("音频缓存写入完成",
		logger.String("trackId", trackID),
		logger.Int("size", len(data)))
	return nil
}

// Clear 清空全部音频缓存条目
func (c *AudioCache) Clear(ctx context.Context) error {
	keys, err := c.redis.Keys(ctx, audioKeyPrefix+"*").Result()
	if err != nil {
		return fmt.Errorf("list audio cache keys: %w", err)
	}
	if len(keys) > 0 {
		if err := c.redis.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("delete audio cache keys: %w", err)
		}
	}

	removed := len(keys)

	if c.minio != nil {
		objects := c.minio.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{
			Prefix:    "audio/",
			Recursive: true,
		})
		for obj := range objects {
			if obj.Err != nil {
				return fmt.Errorf("list audio cache objects: %w", obj.Err)
			}
			if err := c.minio.RemoveObject(ctx, c.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
				return fmt.Errorf("remove audio cache object %s: %w", obj.Key, err)
			}
			removed++
		}
	}

	logger.Info("音频缓存已清空", logger.Int("entries", removed))
	return nil
}

// lookupObject 从 MinIO 读取整曲，对象不存在返回 (nil, nil)
func (c *AudioCache) lookupObject(ctx context.Context, trackID string) ([]byte, error) {
	obj, err := c.minio.GetObject(ctx, c.bucket, objectName(trackID), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get audio object: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, nil
		}
		return nil, fmt.Errorf("read audio object: %w", err)
	}
	return data, nil
}

func audioKey(trackID string) string {
	return audioKeyPrefix + trackID
}

// objectName 以标识的摘要作为对象名，规避对象键的字符与长度限制
func objectName(trackID string) string {
	sum := sha1.Sum([]byte(trackID))
	return "audio/" + hex.EncodeToString(sum[:]) + ".mp3"
}
