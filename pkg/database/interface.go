package database

import (
	"FrameFinder/internal/models"
	"context"
	"errors"
)

var (
	// ErrVideoExists 表示存储中已经有相同 ID 的视频，存储不会覆盖它。
	ErrVideoExists = errors.New("视频已存在")
	// ErrConfigNotFound 表示配置项尚未写入存储。
	ErrConfigNotFound = errors.New("配置项不存在")
)

// 存储中记录的配置键，入库与检索必须使用与存储一致的尺寸。
const (
	KeyFramesPath  = "FRAMES_PATH"
	KeyImageWidth  = "IMAGE_SIZE_X"
	KeyImageHeight = "IMAGE_SIZE_Y"
	KeyHaarWidth   = "HAAR_SIZE_X"
	KeyHaarHeight  = "HAAR_SIZE_Y"
)

// FrameStore 定义了视频、帧指纹以及存储配置的持久化操作。
// 实现需要自行串行化冲突的写操作。
type FrameStore interface {
	// InsertVideo 写入视频行，ID 已存在时返回 ErrVideoExists。
	InsertVideo(ctx context.Context, video models.Video) error
	// InsertFrames 批量写入一个视频的帧，每次调用要么全部成功要么全部失败。
	InsertFrames(ctx context.Context, videoID string, frames []models.Frame) error
	// DeleteVideo 删除视频及其全部帧。
	DeleteVideo(ctx context.Context, videoID string) error
	VideoExists(ctx context.Context, videoID string) (bool, error)
	// FindByFingerprint 返回指纹完全相等的帧，按 (视频ID, 帧号) 排序。
	FindByFingerprint(ctx context.Context, fingerprint string) ([]models.FrameMatch, error)
	// ListVideos 返回所有视频，按名称排序。
	ListVideos(ctx context.Context) ([]models.VideoMeta, error)
	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
	// EnsureSchema 创建表或索引，可重复调用。
	EnsureSchema(ctx context.Context) error
	Close(ctx context.Context) error
}
