// Package memory 提供进程内的 FrameStore，用于测试和不需要持久化的试运行。
package memory

import (
	"FrameFinder/internal/models"
	"FrameFinder/pkg/database"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store 是 database.FrameStore 的内存实现。
type Store struct {
	mu     sync.RWMutex
	videos map[string]models.Video
	frames map[string][]models.Frame // videoID -> 按帧号排序的帧
	config map[string]string
}

var _ database.FrameStore = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		videos: make(map[string]models.Video),
		frames: make(map[string][]models.Frame),
		config: make(map[string]string),
	}
}

func (s *Store) InsertVideo(ctx context.Context, video models.Video) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.videos[video.ID]; ok {
		return database.ErrVideoExists
	}
	if video.CreatedAt.IsZero() {
		video.CreatedAt = time.Now()
	}
	video.Frames = nil
	s.videos[video.ID] = video
	return nil
}

func (s *Store) InsertFrames(ctx context.Context, videoID string, frames []models.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.videos[videoID]; !ok {
		return fmt.Errorf("视频 %s 不存在", videoID)
	}

	// 先整体校验，保证一次调用要么全部写入要么全部不写
	existing := make(map[int]struct{}, len(s.frames[videoID])+len(frames))
	for _, f := range s.frames[videoID] {
		existing[f.Number] = struct{}{}
	}
	for _, f := range frames {
		if _, dup := existing[f.Number]; dup {
			return fmt.Errorf("视频 %s 的帧 %d 已存在", videoID, f.Number)
		}
		existing[f.Number] = struct{}{}
	}

	merged := append(append([]models.Frame(nil), s.frames[videoID]...), frames...)
	for i := range merged {
		merged[i].VideoID = videoID
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Number < merged[j].Number })
	s.frames[videoID] = merged
	return nil
}

func (s *Store) DeleteVideo(ctx context.Context, videoID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.videos, videoID)
	delete(s.frames, videoID)
	return nil
}

func (s *Store) VideoExists(ctx context.Context, videoID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.videos[videoID]
	return ok, nil
}

func (s *Store) FindByFingerprint(ctx context.Context, fingerprint string) ([]models.FrameMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.frames))
	for id := range s.frames {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []models.FrameMatch
	for _, id := range ids {
		v := s.videos[id]
		for _, f := range s.frames[id] {
			if f.Fingerprint != fingerprint {
				continue
			}
			out = append(out, models.FrameMatch{
				VideoID:     id,
				VideoName:   v.Name,
				VideoPath:   v.SourcePath,
				FrameNumber: f.Number,
				FramePath:   f.Path,
			})
		}
	}
	return out, nil
}

func (s *Store) ListVideos(ctx context.Context) ([]models.VideoMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.VideoMeta, 0, len(s.videos))
	for id, v := range s.videos {
		out = append(out, models.VideoMeta{
			ID:         id,
			Name:       v.Name,
			SourcePath: v.SourcePath,
			FrameDir:   v.FrameDir,
			FrameCount: int64(len(s.frames[id])),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) GetConfig(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.config[key]
	if !ok {
		return "", database.ErrConfigNotFound
	}
	return v, nil
}

func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config[key] = value
	return nil
}

func (s *Store) EnsureSchema(ctx context.Context) error { return nil }

func (s *Store) Close(ctx context.Context) error { return nil }

// FrameCount 返回某个视频当前的帧数，测试中使用。
func (s *Store) FrameCount(videoID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.frames[videoID])
}

// Frames 返回某个视频按帧号排序的帧副本，测试中使用。
func (s *Store) Frames(videoID string) []models.Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Frame(nil), s.frames[videoID]...)
}
