// Package maintenance 检查帧库目录与存储是否一致，并提供清单与备份工具。
package maintenance

import (
	"FrameFinder/config"
	"FrameFinder/internal/models"
	"FrameFinder/pkg/database"
	"FrameFinder/pkg/decoder"
	"FrameFinder/pkg/hasher"
	"FrameFinder/pkg/logger"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"
)

// Maintenance 定义了维护工具的接口
type Maintenance interface {
	// Audit 对比帧存储目录与存储中的视频。
	Audit(ctx context.Context) (*AuditReport, error)
	// PurgeOrphans 删除报告中的孤立帧目录，返回删除的目录数。
	PurgeOrphans(ctx context.Context, report *AuditReport) (int, error)
	// GenerateFrameManifest 为帧存储目录中的所有文件生成 SHA-256 清单，返回清单路径。
	GenerateFrameManifest(ctx context.Context, outputPath string) (string, error)
	// BackupDatabase 调用数据库自带的导出工具备份存储，返回备份文件路径。
	BackupDatabase(ctx context.Context, db config.DatabaseConfig, outputPath string) (string, error)
}

// FrameCountMismatch 表示磁盘上的帧文件数量与存储中的帧数不一致。
type FrameCountMismatch struct {
	Video  models.VideoMeta `json:"video"`
	OnDisk int              `json:"onDisk"`
}

// AuditReport 是一次一致性检查的结果。
type AuditReport struct {
	// Orphans 是没有对应视频的帧目录（绝对路径）。
	Orphans []string `json:"orphans"`
	// MissingDirs 是帧目录已不存在的视频。
	MissingDirs []models.VideoMeta `json:"missingDirs"`
	// Mismatched 是帧目录存在但文件数与存储不符的视频。
	Mismatched []FrameCountMismatch `json:"mismatched"`
	Videos     int                  `json:"videos"`
}

// Clean 在没有发现任何问题时返回 true。
func (r *AuditReport) Clean() bool {
	return len(r.Orphans) == 0 && len(r.MissingDirs) == 0 && len(r.Mismatched) == 0
}

type defaultMaintenance struct {
	store      database.FrameStore
	frameRoot  string
	numWorkers int
}

// NewMaintenance 创建一个新的维护模块实例
func NewMaintenance(store database.FrameStore, frameRoot string, workerCount int) Maintenance {
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	return &defaultMaintenance{store: store, frameRoot: frameRoot, numWorkers: workerCount}
}

type dirCheck struct {
	video  models.VideoMeta
	dir    string
	frames int
	err    error
}

func (m *defaultMaintenance) Audit(ctx context.Context) (*AuditReport, error) {
	slog.Info("--- 开始检查帧库一致性 ---", "root", m.frameRoot)
	videos, err := m.store.ListVideos(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取视频列表失败: %w", err)
	}
	report := &AuditReport{Videos: len(videos)}

	// 1. 并发统计每个视频帧目录中的文件
	var wg sync.WaitGroup
	tasks := make(chan models.VideoMeta, m.numWorkers)
	results := make(chan dirCheck, m.numWorkers)
	for i := 0; i < m.numWorkers; i++ {
		wg.Add(1)
		go m.checkWorker(&wg, tasks, results)
	}

	known := make(map[string]bool, len(videos))
	var collectWg sync.WaitGroup
	collectWg.Add(1)
	go func() {
		defer collectWg.Done()
		for r := range results {
			known[filepath.Clean(r.dir)] = true
			switch {
			case errors.Is(r.err, os.ErrNotExist):
				report.MissingDirs = append(report.MissingDirs, r.video)
			case r.err != nil:
				slog.Warn("无法读取帧目录", "video", r.video.ID, "dir", r.dir, "error", r.err)
			case int64(r.frames) != r.video.FrameCount:
				report.Mismatched = append(report.Mismatched, FrameCountMismatch{Video: r.video, OnDisk: r.frames})
			}
		}
	}()

dispatch:
	for _, v := range videos {
		select {
		case <-ctx.Done():
			break dispatch
		case tasks <- v:
		}
	}
	close(tasks)
	wg.Wait()
	close(results)
	collectWg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 2. 帧存储根目录下不属于任何视频的目录即为孤立目录
	entries, err := os.ReadDir(m.frameRoot)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("读取帧存储目录失败: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Clean(filepath.Join(m.frameRoot, e.Name()))
		if !known[dir] {
			report.Orphans = append(report.Orphans, dir)
		}
	}

	sort.Strings(report.Orphans)
	sort.Slice(report.MissingDirs, func(i, j int) bool { return report.MissingDirs[i].ID < report.MissingDirs[j].ID })
	sort.Slice(report.Mismatched, func(i, j int) bool { return report.Mismatched[i].Video.ID < report.Mismatched[j].Video.ID })
	slog.Info("--- 帧库检查完成 ---", "videos", report.Videos, "orphans", len(report.Orphans),
		"missing", len(report.MissingDirs), "mismatched", len(report.Mismatched))
	return report, nil
}

// checkWorker 统计帧目录中的帧文件数
func (m *defaultMaintenance) checkWorker(wg *sync.WaitGroup, tasks <-chan models.VideoMeta, results chan<- dirCheck) {
	defer wg.Done()
	for v := range tasks {
		dir := v.FrameDir
		if dir == "" {
			dir = filepath.Join(m.frameRoot, v.ID)
		}
		if _, err := os.Stat(dir); err != nil {
			results <- dirCheck{video: v, dir: dir, err: err}
			continue
		}
		frames, err := decoder.ListFrames(dir)
		results <- dirCheck{video: v, dir: dir, frames: len(frames), err: err}
	}
}

func (m *defaultMaintenance) PurgeOrphans(ctx context.Context, report *AuditReport) (int, error) {
	removed := 0
	for _, dir := range report.Orphans {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		// 删除前再确认一次，避免删掉检查之后才入库的视频
		exists, err := m.store.VideoExists(ctx, filepath.Base(dir))
		if err != nil {
			return removed, fmt.Errorf("查询视频是否存在失败: %w", err)
		}
		if exists {
			slog.Warn("目录已有对应视频，跳过", "dir", dir)
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			slog.Error("删除孤立帧目录失败", "dir", dir, "error", err)
			continue
		}
		slog.Info("已删除孤立帧目录", "dir", dir)
		removed++
	}
	return removed, nil
}

// GenerateFrameManifest 并发地为帧库生成文件清单
func (m *defaultMaintenance) GenerateFrameManifest(ctx context.Context, outputPath string) (string, error) {
	slog.Info("--- 开始生成帧文件清单 ---", "root", m.frameRoot)

	// 1. 创建输出文件
	manifestPath := filepath.Join(outputPath, fmt.Sprintf("manifest_%s.txt", time.Now().Format("2006-01-02")))
	file, err := os.Create(manifestPath)
	if err != nil {
		return "", fmt.Errorf("无法创建清单文件: %w", err)
	}
	defer file.Close()

	// 2. 设置并发工作池
	var wg sync.WaitGroup
	tasks := make(chan string, m.numWorkers)
	results := make(chan string, m.numWorkers)
	for i := 0; i < m.numWorkers; i++ {
		wg.Add(1)
		go m.manifestWorker(&wg, tasks, results)
	}

	// 单独的协程写文件，避免并发写
	var writeWg sync.WaitGroup
	writeWg.Add(1)
	go func() {
		defer writeWg.Done()
		for line := range results {
			if _, err := file.WriteString(line); err != nil {
				slog.Error("写入清单文件失败", "error", err)
			}
		}
	}()

	// 3. 分发任务
	walkErr := filepath.WalkDir(m.frameRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tasks <- path:
		}
		return nil
	})
	close(tasks)
	wg.Wait()
	close(results)
	writeWg.Wait()

	if walkErr != nil {
		return "", fmt.Errorf("扫描帧库失败: %w", walkErr)
	}
	slog.Info("--- 帧文件清单生成完毕 ---", "path", manifestPath)
	return manifestPath, nil
}

// manifestWorker 是计算哈希并格式化输出的工人
func (m *defaultMaintenance) manifestWorker(wg *sync.WaitGroup, tasks <-chan string, results chan<- string) {
	defer wg.Done()
	for path := range tasks {
		hash, err := hasher.SHA256.Hash(path)
		if err != nil {
			slog.Warn("计算文件哈希失败", "path", path, "error", err)
			continue
		}
		rel, err := filepath.Rel(m.frameRoot, path)
		if err != nil {
			rel = path
		}
		// 为了可移植性，将路径分隔符统一为 '/'
		results <- fmt.Sprintf("%s *%s\n", hash, filepath.ToSlash(rel))
	}
}

// BackupDatabase 根据存储类型调用 mongodump 或 pg_dump。
func (m *defaultMaintenance) BackupDatabase(ctx context.Context, db config.DatabaseConfig, outputPath string) (string, error) {
	stamp := time.Now().Format("2006-01-02_150405")
	var tool, archive string
	var args []string
	switch db.Driver {
	case "mongo":
		tool = "mongodump"
		archive = filepath.Join(outputPath, fmt.Sprintf("db_backup_%s.gz", stamp))
		args = []string{"--uri", db.URI, "--db", db.Name, "--archive=" + archive, "--gzip"}
	case "postgres":
		tool = "pg_dump"
		archive = filepath.Join(outputPath, fmt.Sprintf("db_backup_%s.dump", stamp))
		args = []string{"--dbname=" + db.URI, "--format=custom", "--file=" + archive}
	default:
		return "", fmt.Errorf("存储类型 %q 不支持备份", db.Driver)
	}

	if _, err := exec.LookPath(tool); err != nil {
		slog.Error("在系统 PATH 中找不到备份工具", "tool", tool)
		return "", fmt.Errorf("找不到 %s 命令: %w", tool, err)
	}
	slog.Info("--- 开始执行数据库备份 ---", "tool", tool, "archive", archive)

	cmd := exec.CommandContext(ctx, tool, args...)
	out := logger.NewLineWriter(tool)
	cmd.Stdout = out
	cmd.Stderr = out
	err := cmd.Run()
	out.Flush()
	if err != nil {
		return "", fmt.Errorf("执行 %s 失败: %w", tool, err)
	}
	slog.Info("--- 数据库备份成功 ---", "archive", archive)
	return archive, nil
}
