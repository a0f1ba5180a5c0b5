package ingest

import (
	"FrameFinder/internal/models"
	"FrameFinder/pkg/apperr"
	"FrameFinder/pkg/database"
	"FrameFinder/pkg/decoder"
	"FrameFinder/pkg/hasher"
	"FrameFinder/pkg/progress"
	"FrameFinder/pkg/signature"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBatchSize 是每次写入存储的帧数上限。
const DefaultBatchSize = 500

// Pipeline 定义了视频入库与删除的行为接口
type Pipeline interface {
	// Add 将一个视频解码、计算指纹并写入存储。
	Add(ctx context.Context, video models.Video, report progress.Reporter) (*VideoResult, error)
	// Remove 删除视频的帧文件以及存储中的视频和帧。
	Remove(ctx context.Context, video models.Video, report progress.Reporter) error
	// Run 依次处理一批新增和删除，单个视频失败不会中断其他视频。
	Run(ctx context.Context, add, remove []models.Video, report progress.Reporter) *Report
}

// Options 是创建入库流水线所需的依赖与参数。
type Options struct {
	Store       database.FrameStore
	Engine      *signature.Engine
	Decoder     decoder.Decoder
	Hasher      hasher.ContentHasher
	FrameRoot   string
	WorkerCount int
	BatchSize   int
}

// VideoResult 是单个视频入库的结果。
type VideoResult struct {
	Video         models.Video `json:"video"`
	Frames        int          `json:"frames"`
	SkippedFrames int          `json:"skippedFrames"`
	Batches       int          `json:"batches"`
}

type frameIngestor struct {
	store      database.FrameStore
	engine     *signature.Engine
	decoder    decoder.Decoder
	hasher     hasher.ContentHasher
	frameRoot  string
	numWorkers int
	batchSize  int
}

var _ Pipeline = (*frameIngestor)(nil)

// NewPipeline 创建一个新的入库流水线实例
func NewPipeline(opts Options) (Pipeline, error) {
	const op = "ingest.NewPipeline"
	if opts.Store == nil || opts.Engine == nil || opts.Decoder == nil {
		return nil, apperr.New(apperr.KindConfiguration, op, "缺少存储、指纹引擎或解码器")
	}
	if opts.FrameRoot == "" {
		return nil, apperr.New(apperr.KindConfiguration, op, "缺少帧存储目录")
	}
	root, err := filepath.Abs(opts.FrameRoot)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindConfiguration, op, "无法获取帧存储目录的绝对路径")
	}
	if opts.Hasher == nil {
		opts.Hasher = hasher.SHA1
	}
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = 1
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return &frameIngestor{
		store:      opts.Store,
		engine:     opts.Engine,
		decoder:    opts.Decoder,
		hasher:     opts.Hasher,
		frameRoot:  root,
		numWorkers: opts.WorkerCount,
		batchSize:  opts.BatchSize,
	}, nil
}

// VideoFromFile 根据源文件构造一个待入库的视频，ID 在入库时计算。
func VideoFromFile(path string) (models.Video, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return models.Video{}, fmt.Errorf("无法获取视频的绝对路径: %w", err)
	}
	return models.Video{Name: filepath.Base(abs), SourcePath: abs}, nil
}

func (p *frameIngestor) Add(ctx context.Context, video models.Video, report progress.Reporter) (*VideoResult, error) {
	return p.add(ctx, video, report, 0, 100)
}

// add 执行单个视频的四个阶段，进度映射到整体的 [from, to] 区间。
func (p *frameIngestor) add(ctx context.Context, video models.Video, report progress.Reporter, from, to float64) (*VideoResult, error) {
	const op = "ingest.Add"
	quarter := (to - from) / 4
	phase := func(i int, local float64, stage progress.Stage, done, total int, msg string) {
		start := from + quarter*float64(i)
		report.Report(progress.Event{
			Stage:   stage,
			Video:   video.Name,
			Done:    done,
			Total:   total,
			Percent: progress.Span(start, start+quarter, local),
			Message: msg,
		})
	}
	log := slog.With("video", video.Name)

	// 1. 阶段一：计算视频哈希
	log.Info("--- 阶段 1/4: 计算视频哈希 ---", "hasher", p.hasher.Name())
	phase(0, 0, progress.StageHashing, 0, 1, "")
	if video.ID == "" {
		id, err := p.hasher.Hash(video.SourcePath)
		if err != nil {
			return nil, apperr.Wrapf(err, apperr.KindDecode, op, "无法计算视频 %s 的哈希", video.SourcePath)
		}
		video.ID = id
	}
	exists, err := p.store.VideoExists(ctx, video.ID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindStore, op, "查询视频是否存在失败")
	}
	if exists {
		return nil, fmt.Errorf("%s [%s]: %w", video.Name, video.ID, database.ErrVideoExists)
	}
	phase(0, 100, progress.StageHashing, 1, 1, video.ID)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 2. 阶段二：调用解码器生成帧文件
	video.FrameDir = filepath.Join(p.frameRoot, video.ID)
	opts := p.engine.Options()
	log.Info("--- 阶段 2/4: 解码视频帧 ---", "dir", video.FrameDir)
	phase(1, 0, progress.StageExtracting, 0, 1, "")
	if err := p.decoder.Decode(ctx, video.SourcePath, video.FrameDir, opts.ImageWidth, opts.ImageHeight); err != nil {
		p.removeFrameDir(video.FrameDir)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperr.Wrapf(err, apperr.KindDecode, op, "解码视频 %s 失败", video.Name)
	}
	files, err := decoder.ListFrames(video.FrameDir)
	if err != nil {
		p.removeFrameDir(video.FrameDir)
		return nil, apperr.Wrap(err, apperr.KindDecode, op, "")
	}
	phase(1, 100, progress.StageExtracting, 1, 1, fmt.Sprintf("%d 帧", len(files)))

	// 3. 阶段三：并发计算每一帧的指纹
	log.Info("--- 阶段 3/4: 计算帧指纹 ---", "frames", len(files), "workers", p.numWorkers)
	set, skipped := p.fingerprintFrames(ctx, video.ID, files, func(done int) {
		phase(2, float64(done)*100/float64(len(files)), progress.StageFingerprint, done, len(files), "")
	})
	if err := ctx.Err(); err != nil {
		log.Warn("入库已取消，丢弃本视频的结果", "fingerprinted", set.Len())
		p.removeFrameDir(video.FrameDir)
		return nil, err
	}
	if set.Len() == 0 {
		p.removeFrameDir(video.FrameDir)
		return nil, apperr.Newf(apperr.KindDecode, op, "视频 %s 没有可用的帧", video.Name)
	}

	// 4. 阶段四：写入视频与帧
	frames := set.Sorted()
	log.Info("--- 阶段 4/4: 写入存储 ---", "frames", len(frames), "batchSize", p.batchSize)
	video.CreatedAt = time.Now()
	if err := p.store.InsertVideo(ctx, video); err != nil {
		if errors.Is(err, database.ErrVideoExists) {
			// 并发入库了同一个视频，帧目录属于已存在的视频，不能删除
			return nil, fmt.Errorf("%s [%s]: %w", video.Name, video.ID, err)
		}
		p.removeFrameDir(video.FrameDir)
		return nil, apperr.Wrap(err, apperr.KindStore, op, "写入视频失败")
	}
	batches, err := insertChunked(ctx, p.store, video.ID, frames, p.batchSize, func(written int) {
		phase(3, float64(written)*100/float64(len(frames)), progress.StagePersisting, written, len(frames), "")
	})
	if err != nil {
		// 一个视频的写入是一个逻辑整体，失败时删除已写入的部分
		cleanup := context.WithoutCancel(ctx)
		if delErr := p.store.DeleteVideo(cleanup, video.ID); delErr != nil {
			log.Error("回滚视频写入失败", "error", delErr)
		}
		p.removeFrameDir(video.FrameDir)
		return nil, apperr.Wrap(err, apperr.KindStore, op, "批量写入帧失败")
	}

	log.Info("视频入库完成", "id", video.ID, "frames", len(frames), "skipped", skipped, "batches", batches)
	return &VideoResult{Video: video, Frames: len(frames), SkippedFrames: skipped, Batches: batches}, nil
}

type frameJob struct {
	number int
	path   string
}

// fingerprintFrames 启动一个工作池来并发地计算所有帧的指纹。
// 取消后不再分派新任务，已经开始的帧会完成。
func (p *frameIngestor) fingerprintFrames(ctx context.Context, videoID string, files []decoder.FrameFile, onDone func(done int)) (*FrameSet, int) {
	set := NewFrameSet(len(files))
	var wg sync.WaitGroup
	var done, skipped atomic.Int64
	jobs := make(chan frameJob, p.numWorkers)

	step := len(files) / 100
	if step < 1 {
		step = 1
	}

	for i := 0; i < p.numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				// 取消后队列里剩下的帧直接丢弃
				if ctx.Err() != nil {
					continue
				}
				fp, err := p.engine.FingerprintFile(job.path)
				if err != nil {
					// 单帧解码失败只跳过这一帧
					slog.Warn("跳过无法处理的帧", "frame", job.number, "path", job.path, "error", err)
					skipped.Add(1)
				} else {
					set.Add(models.Frame{VideoID: videoID, Number: job.number, Fingerprint: fp.String(), Path: job.path})
				}
				if n := int(done.Add(1)); n%step == 0 || n == len(files) {
					onDone(n)
				}
			}
		}()
	}

dispatch:
	for _, f := range files {
		// select 在两个分支都就绪时随机选择，先单独检查取消
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- frameJob{number: f.Number, path: f.Path}:
		}
	}
	close(jobs)
	wg.Wait()

	return set, int(skipped.Load())
}

// insertChunked 按 batchSize 分批写入帧，返回写入的批次数。
func insertChunked(ctx context.Context, store database.FrameStore, videoID string, frames []models.Frame, batchSize int, onWritten func(written int)) (int, error) {
	batches := 0
	for start := 0; start < len(frames); start += batchSize {
		end := start + batchSize
		if end > len(frames) {
			end = len(frames)
		}
		if err := store.InsertFrames(ctx, videoID, frames[start:end]); err != nil {
			return batches, fmt.Errorf("写入第 %d 批 (帧 %d-%d) 失败: %w", batches+1, start, end-1, err)
		}
		batches++
		if onWritten != nil {
			onWritten(end)
		}
	}
	return batches, nil
}

// Remove 先尽力删除帧文件，再从存储中删除视频及其帧。
func (p *frameIngestor) Remove(ctx context.Context, video models.Video, report progress.Reporter) error {
	return p.remove(ctx, video, report, 0, 100)
}

func (p *frameIngestor) remove(ctx context.Context, video models.Video, report progress.Reporter, from, to float64) error {
	const op = "ingest.Remove"
	if video.ID == "" {
		return apperr.New(apperr.KindNotFound, op, "缺少视频ID")
	}
	dir := video.FrameDir
	if dir == "" {
		dir = filepath.Join(p.frameRoot, video.ID)
	}
	report.Report(progress.Event{Stage: progress.StageRemoving, Video: video.ID, Percent: from})

	failed := p.removeFrameDir(dir)
	if failed > 0 {
		slog.Warn("部分帧文件删除失败", "video", video.ID, "failed", failed)
	}
	if err := p.store.DeleteVideo(ctx, video.ID); err != nil {
		return apperr.Wrapf(err, apperr.KindStore, op, "删除视频 %s 失败", video.ID)
	}
	report.Report(progress.Event{Stage: progress.StageRemoving, Video: video.ID, Done: 1, Total: 1, Percent: to})
	slog.Info("视频已删除", "video", video.ID, "dir", dir)
	return nil
}

// removeFrameDir 逐个删除目录中的文件，失败只记录日志，返回删除失败的数量。
func (p *frameIngestor) removeFrameDir(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("无法读取帧目录", "dir", dir, "error", err)
		}
		return 0
	}
	failed := 0
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			slog.Warn("删除帧文件失败", "path", path, "error", err)
			failed++
		}
	}
	if err := os.Remove(dir); err != nil {
		slog.Warn("删除帧目录失败", "dir", dir, "error", err)
	}
	return failed
}
