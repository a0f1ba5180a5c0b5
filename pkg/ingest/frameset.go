package ingest

import (
	"FrameFinder/internal/models"
	"sort"
	"sync"
)

// FrameSet 是一个视频的指纹结果集合，多个工人并发追加，只追加不修改。
type FrameSet struct {
	mu     sync.Mutex
	frames []models.Frame
}

func NewFrameSet(capacity int) *FrameSet {
	return &FrameSet{frames: make([]models.Frame, 0, capacity)}
}

func (s *FrameSet) Add(f models.Frame) {
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
}

func (s *FrameSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// Sorted 返回按帧号升序排列的副本。工人完成顺序不确定，需要帧号顺序的地方必须调用它。
func (s *FrameSet) Sorted() []models.Frame {
	s.mu.Lock()
	out := append([]models.Frame(nil), s.frames...)
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}
