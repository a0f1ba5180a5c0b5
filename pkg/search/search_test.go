package search

import (
	"context"
	"errors"
	"fmt"
	"image"
	"testing"

	"FrameFinder/internal/models"
	"FrameFinder/pkg/apperr"
	"FrameFinder/pkg/database/memory"
	"FrameFinder/pkg/progress"
	"FrameFinder/pkg/signature"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func matchesAt(video string, numbers ...int) []models.FrameMatch {
	out := make([]models.FrameMatch, len(numbers))
	for i, n := range numbers {
		out[i] = models.FrameMatch{VideoID: video, FrameNumber: n}
	}
	return out
}

func repNumbers(groups []Group) []int {
	out := make([]int, len(groups))
	for i, g := range groups {
		out[i] = g.Rep.FrameNumber
	}
	return out
}

func TestCollapse(t *testing.T) {
	groups := Collapse(matchesAt("a", 1, 2, 3, 4, 30, 31, 50), 25)
	assert.Equal(t, []int{1, 30, 50}, repNumbers(groups))
	assert.Equal(t, []int{4, 2, 1}, []int{groups[0].RunLength, groups[1].RunLength, groups[2].RunLength})
}

func TestCollapseSplitsLongRun(t *testing.T) {
	var numbers []int
	for i := 1; i <= 30; i++ {
		numbers = append(numbers, i)
	}
	groups := Collapse(matchesAt("a", numbers...), 25)
	// 第 27 帧时 run 已经是 26，超过容差，开始新的一组
	assert.Equal(t, []int{1, 27}, repNumbers(groups))
	assert.Equal(t, 26, groups[0].RunLength)
	assert.Equal(t, 4, groups[1].RunLength)
}

func TestCollapseZeroToleranceKeepsEveryFrame(t *testing.T) {
	groups := Collapse(matchesAt("a", 1, 2, 3), 0)
	assert.Equal(t, []int{1, 2, 3}, repNumbers(groups))
}

func TestCollapseStartsNewRunPerVideo(t *testing.T) {
	matches := append(matchesAt("a", 5, 6), matchesAt("b", 7, 8)...)
	groups := Collapse(matches, 25)
	require.Len(t, groups, 2)
	assert.Equal(t, "a", groups[0].Rep.VideoID)
	assert.Equal(t, "b", groups[1].Rep.VideoID)
	assert.Equal(t, 7, groups[1].Rep.FrameNumber)
}

func TestCollapseEmpty(t *testing.T) {
	assert.Empty(t, Collapse(nil, 25))
}

func uniform(v uint8) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, 16, 12))
	for i := range g.Pix {
		g.Pix[i] = v
	}
	return g
}

type fixture struct {
	engine   *signature.Engine
	store    *memory.Store
	searcher Searcher
	query    *signature.Query
}

// newFixture 建立一个帧库，frames 的键为 "视频ID/帧号"，值为该帧的统一灰度。
func newFixture(t *testing.T, videos []string, frames map[string]uint8, perceptual bool) *fixture {
	t.Helper()
	ctx := context.Background()
	engine, err := signature.NewEngine(signature.Options{
		ImageWidth: 16, ImageHeight: 12, WaveletWidth: 4, WaveletHeight: 3,
		Threshold: signature.DefaultThreshold, Weights: signature.GIMPLuminosity,
		QueryResize: signature.Exact(16, 12),
	})
	require.NoError(t, err)

	qimg := uniform(10)
	fp, err := engine.FingerprintImage(qimg)
	require.NoError(t, err)
	query := &signature.Query{Image: qimg, Pixels: signature.Pixels(qimg), Fingerprint: fp}

	store := memory.NewStore()
	for _, id := range videos {
		require.NoError(t, store.InsertVideo(ctx, models.Video{ID: id, Name: id + ".mp4", SourcePath: "/videos/" + id + ".mp4"}))
	}
	byVideo := map[string][]models.Frame{}
	for key := range frames {
		var id string
		var n int
		_, err := fmt.Sscanf(key, "%1s/%d", &id, &n)
		require.NoError(t, err)
		byVideo[id] = append(byVideo[id], models.Frame{VideoID: id, Number: n, Fingerprint: fp.String(), Path: key})
	}
	for id, fs := range byVideo {
		require.NoError(t, store.InsertFrames(ctx, id, fs))
	}

	loader := FrameLoaderFunc(func(path string) (*image.Gray, error) {
		v, ok := frames[path]
		if !ok || v == 0 {
			return nil, errors.New("帧文件不存在")
		}
		return uniform(v), nil
	})
	s, err := NewSearcher(Options{Store: store, Engine: engine, RunTolerance: 25, Perceptual: perceptual, Loader: loader})
	require.NoError(t, err)
	return &fixture{engine: engine, store: store, searcher: s, query: query}
}

func TestSearchRanksByDistance(t *testing.T) {
	f := newFixture(t, []string{"a", "b"}, map[string]uint8{
		"a/1": 40, "a/2": 40, "a/10": 12,
		"b/3": 20,
	}, false)

	res, err := f.searcher.Search(context.Background(), f.query, nil)
	require.NoError(t, err)
	assert.False(t, res.Cancelled)
	assert.Equal(t, models.SearchStats{Retrieved: 4, Representatives: 3, Refined: 3}, res.Stats)

	require.Len(t, res.Candidates, 3)
	got := []string{}
	for _, c := range res.Candidates {
		got = append(got, fmt.Sprintf("%s/%d", c.Frame.VideoID, c.Frame.FrameNumber))
		assert.Equal(t, -1, c.PerceptualDistance)
	}
	assert.Equal(t, []string{"a/10", "b/3", "a/1"}, got)
	assert.Equal(t, uint64(2*16*12), res.Candidates[0].Distance)
	assert.Equal(t, 2, res.Candidates[2].RunLength)
	assert.Equal(t, "b.mp4", res.Candidates[1].Video.Name)
}

func TestSearchRankingIsStable(t *testing.T) {
	// 14 个视频交替使用两种距离，数量超过插入排序的阈值
	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l", "m", "n"}
	frames := map[string]uint8{}
	var near, far []string
	for i, id := range ids {
		if i%2 == 0 {
			frames[id+"/1"] = 30
			far = append(far, id)
		} else {
			frames[id+"/1"] = 20
			near = append(near, id)
		}
	}
	f := newFixture(t, ids, frames, false)

	res, err := f.searcher.Search(context.Background(), f.query, nil)
	require.NoError(t, err)
	require.Len(t, res.Candidates, len(ids))
	got := make([]string, len(res.Candidates))
	for i, c := range res.Candidates {
		got[i] = c.Frame.VideoID
	}
	assert.Equal(t, append(near, far...), got)
}

func TestSearchRejectsQueryWithoutFingerprint(t *testing.T) {
	f := newFixture(t, []string{"a"}, map[string]uint8{"a/1": 20}, false)

	_, err := f.searcher.Search(context.Background(), &signature.Query{}, nil)
	assert.True(t, apperr.IsKind(err, apperr.KindConfiguration))
}

func TestSearchRejectsForeignFingerprintSize(t *testing.T) {
	f := newFixture(t, []string{"a"}, map[string]uint8{"a/1": 20}, false)
	other, err := signature.NewEngine(signature.Options{
		ImageWidth: 16, ImageHeight: 12, WaveletWidth: 8, WaveletHeight: 6,
		QueryResize: signature.Exact(16, 12),
	})
	require.NoError(t, err)
	q, err := other.QueryImage(uniform(10))
	require.NoError(t, err)

	_, err = f.searcher.Search(context.Background(), q, nil)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConfiguration))
	assert.ErrorIs(t, err, signature.ErrWidthMismatch)
}

func TestSearchSkipsUnreadableFrame(t *testing.T) {
	f := newFixture(t, []string{"a"}, map[string]uint8{"a/1": 0, "a/5": 11}, false)

	res, err := f.searcher.Search(context.Background(), f.query, nil)
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, 5, res.Candidates[0].Frame.FrameNumber)
	assert.Equal(t, 1, res.Stats.Failed)
}

func TestSearchNoMatches(t *testing.T) {
	f := newFixture(t, []string{"a"}, nil, false)

	var last progress.Event
	res, err := f.searcher.Search(context.Background(), f.query, func(e progress.Event) { last = e })
	require.NoError(t, err)
	assert.NotNil(t, res.Candidates)
	assert.Empty(t, res.Candidates)
	assert.InDelta(t, 10, last.Percent, 0.001)
}

func TestSearchCancelledAfterFirstVideo(t *testing.T) {
	f := newFixture(t, []string{"a", "b"}, map[string]uint8{"a/1": 20, "b/1": 11}, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := f.searcher.Search(ctx, f.query, func(e progress.Event) {
		if e.Stage == progress.StageRefining && e.Done == 1 {
			cancel()
		}
	})
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "a", res.Candidates[0].Frame.VideoID)
}

func TestSearchCancelledInsideVideoKeepsRefinedFrames(t *testing.T) {
	f := newFixture(t, []string{"a"}, map[string]uint8{"a/1": 20, "a/5": 20, "a/9": 20}, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loads := 0
	s, err := NewSearcher(Options{Store: f.store, Engine: f.engine, RunTolerance: 25,
		Loader: FrameLoaderFunc(func(path string) (*image.Gray, error) {
			loads++
			cancel()
			return uniform(20), nil
		})})
	require.NoError(t, err)

	res, err := s.Search(ctx, f.query, nil)
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Equal(t, 1, loads)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, 1, res.Stats.Refined)
	assert.Equal(t, 3, res.Stats.Representatives)
}

func TestSearchCancelledBeforeStart(t *testing.T) {
	f := newFixture(t, []string{"a"}, map[string]uint8{"a/1": 20}, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.searcher.Search(ctx, f.query, nil)
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Empty(t, res.Candidates)
}

func TestSearchPerceptualDistance(t *testing.T) {
	f := newFixture(t, []string{"a"}, map[string]uint8{"a/1": 10}, true)

	res, err := f.searcher.Search(context.Background(), f.query, nil)
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, uint64(0), res.Candidates[0].Distance)
	assert.Equal(t, 0, res.Candidates[0].PerceptualDistance)
}

func TestNewSearcherRequiresStore(t *testing.T) {
	_, err := NewSearcher(Options{})
	assert.Error(t, err)
}
