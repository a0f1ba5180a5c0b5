// Package search 根据检索图片的指纹在帧库中查找相似帧，并按像素距离排序。
package search

import (
	"FrameFinder/internal/models"
	"FrameFinder/pkg/apperr"
	"FrameFinder/pkg/database"
	"FrameFinder/pkg/hasher"
	"FrameFinder/pkg/progress"
	"FrameFinder/pkg/signature"
	"context"
	"fmt"
	"image"
	"log/slog"
	"sort"

	"github.com/corona10/goimagehash"
)

// FrameLoader 读取一帧图片的灰度数据。
type FrameLoader interface {
	LoadFrame(path string) (*image.Gray, error)
}

// FrameLoaderFunc 让普通函数满足 FrameLoader。
type FrameLoaderFunc func(path string) (*image.Gray, error)

func (f FrameLoaderFunc) LoadFrame(path string) (*image.Gray, error) { return f(path) }

// Searcher 定义了相似帧检索的行为接口
type Searcher interface {
	// Search 用已经计算好的检索图进行检索。取消不是错误，结果中 Cancelled 为 true。
	Search(ctx context.Context, q *signature.Query, report progress.Reporter) (*models.ComparisonResult, error)
	// SearchFile 读取图片文件，计算指纹后检索。
	SearchFile(ctx context.Context, path string, report progress.Reporter) (*models.ComparisonResult, error)
}

// Options 是创建检索器所需的依赖与参数。
type Options struct {
	Store  database.FrameStore
	Engine *signature.Engine
	// RunTolerance 为负数时使用 DefaultRunTolerance。
	RunTolerance int
	// Perceptual 打开后为每个候选额外计算感知哈希距离。
	Perceptual bool
	Loader     FrameLoader
}

type frameSearcher struct {
	store      database.FrameStore
	engine     *signature.Engine
	k          int
	perceptual bool
	loader     FrameLoader
}

var _ Searcher = (*frameSearcher)(nil)

// NewSearcher 创建一个新的检索器实例
func NewSearcher(opts Options) (Searcher, error) {
	if opts.Store == nil || opts.Engine == nil {
		return nil, apperr.New(apperr.KindConfiguration, "search.NewSearcher", "缺少存储或指纹引擎")
	}
	if opts.RunTolerance < 0 {
		opts.RunTolerance = DefaultRunTolerance
	}
	if opts.Loader == nil {
		opts.Loader = FrameLoaderFunc(signature.LoadGray)
	}
	return &frameSearcher{
		store:      opts.Store,
		engine:     opts.Engine,
		k:          opts.RunTolerance,
		perceptual: opts.Perceptual,
		loader:     opts.Loader,
	}, nil
}

func (s *frameSearcher) SearchFile(ctx context.Context, path string, report progress.Reporter) (*models.ComparisonResult, error) {
	q, err := s.engine.Query(path)
	if err != nil {
		return nil, fmt.Errorf("处理检索图片失败: %w", err)
	}
	return s.Search(ctx, q, report)
}

func (s *frameSearcher) Search(ctx context.Context, q *signature.Query, report progress.Reporter) (*models.ComparisonResult, error) {
	const op = "search.Search"
	if q == nil || q.Fingerprint.IsZero() {
		return nil, apperr.New(apperr.KindConfiguration, op, "检索图没有指纹")
	}
	opts := s.engine.Options()
	if w, h := q.Fingerprint.Size(); w != opts.WaveletWidth || h != opts.WaveletHeight {
		return nil, apperr.Wrapf(signature.ErrWidthMismatch, apperr.KindConfiguration, op,
			"检索指纹为 %dx%d，帧库为 %dx%d", w, h, opts.WaveletWidth, opts.WaveletHeight)
	}
	fp := q.Fingerprint.String()
	log := slog.With("fingerprint", fp)
	res := &models.ComparisonResult{Candidates: []models.MatchCandidate{}}

	// 1. 按指纹精确查找
	report.Report(progress.Event{Stage: progress.StageRetrieving})
	matches, err := s.store.FindByFingerprint(ctx, fp)
	if err != nil {
		if ctx.Err() != nil {
			res.Cancelled = true
			return res, nil
		}
		return nil, apperr.Wrap(err, apperr.KindStore, op, "按指纹查询失败")
	}
	res.Stats.Retrieved = len(matches)

	// 2. 合并连续帧
	groups := Collapse(matches, s.k)
	res.Stats.Representatives = len(groups)
	videos := byVideo(groups)
	log.Info("指纹查询完成", "matches", len(matches), "representatives", len(groups), "videos", len(videos))
	report.Report(progress.Event{Stage: progress.StageRetrieving, Done: len(matches), Total: len(matches), Percent: 10})

	var queryHash *goimagehash.ImageHash
	if s.perceptual && len(groups) > 0 {
		if queryHash, err = hasher.PerceptualHash(q.Image); err != nil {
			log.Warn("无法计算检索图的感知哈希", "error", err)
		}
	}

	// 3. 逐个视频精排，取消后不再读取新的代表帧
	cmp := signature.NewComparator(q.Pixels)
	share := 90.0
	if len(videos) > 0 {
		share = 90.0 / float64(len(videos))
	}
	for i, vg := range videos {
		if ctx.Err() != nil {
			res.Cancelled = true
			break
		}
		cands, failed, ok := s.refineVideo(ctx, cmp, queryHash, vg)
		res.Candidates = append(res.Candidates, cands...)
		res.Stats.Refined += len(cands)
		res.Stats.Failed += failed
		if !ok {
			log.Info("检索已取消，保留已经算完的代表帧", "video", vg[0].Rep.VideoID, "refined", len(cands), "groups", len(vg))
			res.Cancelled = true
			break
		}
		report.Report(progress.Event{
			Stage:   progress.StageRefining,
			Video:   vg[0].Rep.VideoName,
			Done:    i + 1,
			Total:   len(videos),
			Percent: 10 + share*float64(i+1),
		})
	}

	// 4. 按距离稳定排序，不做阈值截断
	sort.SliceStable(res.Candidates, func(i, j int) bool {
		return res.Candidates[i].Distance < res.Candidates[j].Distance
	})
	log.Info("检索完成", "candidates", len(res.Candidates), "failed", res.Stats.Failed, "cancelled", res.Cancelled)
	return res, nil
}

// refineVideo 计算一个视频所有代表帧的距离。ok 为 false 表示中途被取消，此时返回已经算完的部分。
func (s *frameSearcher) refineVideo(ctx context.Context, cmp *signature.Comparator, queryHash *goimagehash.ImageHash, groups []Group) ([]models.MatchCandidate, int, bool) {
	cands := make([]models.MatchCandidate, 0, len(groups))
	failed := 0
	for _, g := range groups {
		if ctx.Err() != nil {
			return cands, failed, false
		}
		img, err := s.loader.LoadFrame(g.Rep.FramePath)
		if err != nil {
			slog.Warn("无法读取代表帧，跳过", "video", g.Rep.VideoID, "frame", g.Rep.FrameNumber, "path", g.Rep.FramePath, "error", err)
			failed++
			continue
		}
		c := models.MatchCandidate{
			Video:              models.VideoMeta{ID: g.Rep.VideoID, Name: g.Rep.VideoName, SourcePath: g.Rep.VideoPath},
			Frame:              g.Rep,
			RunLength:          g.RunLength,
			Distance:           cmp.Compare(signature.Pixels(img)),
			PerceptualDistance: -1,
		}
		if queryHash != nil {
			c.PerceptualDistance = perceptualDistance(queryHash, img)
		}
		cands = append(cands, c)
	}
	return cands, failed, true
}

func perceptualDistance(queryHash *goimagehash.ImageHash, img image.Image) int {
	h, err := hasher.PerceptualHash(img)
	if err != nil {
		slog.Debug("无法计算帧的感知哈希", "error", err)
		return -1
	}
	d, err := queryHash.Distance(h)
	if err != nil {
		return -1
	}
	return d
}
