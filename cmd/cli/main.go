package main

import (
	"FrameFinder/config"
	"FrameFinder/internal/bootstrap"
	"FrameFinder/internal/models"
	"FrameFinder/pkg/ingest"
	"FrameFinder/pkg/logger"
	"FrameFinder/pkg/progress"
	"FrameFinder/pkg/signature"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
)

// cliOptions 是解析后的命令行参数。
type cliOptions struct {
	action    string
	videos    string
	imagePath string
	ids       string
	limit     int
	configDir string
	purge     bool
	output    string
}

func main() {
	// --- 1. 定义命令行参数 ---
	var opts cliOptions
	flag.StringVar(&opts.action, "action", "", "要执行的操作: init, add, remove, search, list, fingerprint, audit, manifest, backup")
	flag.StringVar(&opts.videos, "video", "", "add 操作的视频文件，多个用逗号分隔")
	flag.StringVar(&opts.imagePath, "image", "", "search 或 fingerprint 操作的图片文件")
	flag.StringVar(&opts.ids, "id", "", "remove 操作的视频ID，多个用逗号分隔")
	flag.IntVar(&opts.limit, "limit", 20, "search 操作最多显示的结果数，0 表示全部")
	flag.StringVar(&opts.configDir, "config", ".", "config.yaml 所在目录")
	flag.BoolVar(&opts.purge, "purge", false, "audit 时删除孤立的帧目录")
	flag.StringVar(&opts.output, "output", ".", "manifest 和 backup 的输出目录")

	flag.Parse()

	// os.Exit 不执行 defer，只在这里调用
	os.Exit(run(opts))
}

// run 执行一次命令并返回进程退出码。
func run(opts cliOptions) int {
	if opts.action == "" {
		fmt.Println("错误: 必须提供 -action 参数。")
		flag.Usage() // 打印所有可用参数的帮助信息
		return 1
	}

	// --- 2. 加载配置与日志 ---
	if opts.action == "init" {
		if err := runInit(opts.configDir); err != nil {
			log.Printf("FATAL: 初始化失败: %v", err)
			return 1
		}
		return 0
	}
	cfg, err := config.LoadConfig(opts.configDir)
	if err != nil {
		log.Printf("FATAL: 无法加载配置: %v", err)
		return 1
	}
	if err := logger.InitLogger(cfg.Logger); err != nil {
		log.Printf("FATAL: 无法初始化日志: %v", err)
		return 1
	}

	// Ctrl-C 取消正在运行的入库或检索
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.action == "fingerprint" {
		if err := runFingerprint(cfg, opts.imagePath); err != nil {
			slog.Error("计算指纹失败", "error", err)
			return 1
		}
		return 0
	}

	// --- 3. 初始化应用核心组件 ---
	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		slog.Error("FATAL: 无法初始化应用", "error", err)
		return 1
	}
	defer app.Close(context.WithoutCancel(ctx))

	// --- 4. 根据 action 参数执行相应的功能 ---
	switch opts.action {
	case "add":
		paths := splitList(opts.videos)
		if len(paths) == 0 {
			fmt.Println("错误: add 操作需要提供 -video 参数。")
			return 1
		}
		add := make([]models.Video, 0, len(paths))
		for _, p := range paths {
			v, err := ingest.VideoFromFile(p)
			if err != nil {
				slog.Error("无效的视频路径", "path", p, "error", err)
				return 1
			}
			add = append(add, v)
		}
		return exitCode(printReport(app.Pipeline.Run(ctx, add, nil, newPrinter())))

	case "remove":
		list := splitList(opts.ids)
		if len(list) == 0 {
			fmt.Println("错误: remove 操作需要提供 -id 参数。")
			return 1
		}
		remove := make([]models.Video, 0, len(list))
		for _, id := range list {
			remove = append(remove, models.Video{ID: id})
		}
		return exitCode(printReport(app.Pipeline.Run(ctx, nil, remove, newPrinter())))

	case "search":
		if opts.imagePath == "" {
			fmt.Println("错误: search 操作需要提供 -image 参数。")
			return 1
		}
		res, err := app.Searcher.SearchFile(ctx, opts.imagePath, newPrinter())
		if err != nil {
			slog.Error("检索失败", "error", err)
			return 1
		}
		printResult(res, opts.limit)

	case "list":
		list, err := app.Store.ListVideos(ctx)
		if err != nil {
			slog.Error("获取视频列表失败", "error", err)
			return 1
		}
		fmt.Printf("总共找到 %d 个视频:\n", len(list))
		for _, v := range list {
			fmt.Printf("ID: %s\n  Name: %s\n  Path: %s\n  Frames: %d\n\n", v.ID, v.Name, v.SourcePath, v.FrameCount)
		}

	case "audit":
		rep, err := app.Maintenance.Audit(ctx)
		if err != nil {
			slog.Error("检查帧库失败", "error", err)
			return 1
		}
		fmt.Printf("视频: %d, 孤立目录: %d, 缺失目录: %d, 帧数不符: %d\n",
			rep.Videos, len(rep.Orphans), len(rep.MissingDirs), len(rep.Mismatched))
		for _, d := range rep.Orphans {
			fmt.Printf("  孤立目录: %s\n", d)
		}
		for _, v := range rep.MissingDirs {
			fmt.Printf("  缺失目录: %s (%s)\n", v.ID, v.Name)
		}
		for _, m := range rep.Mismatched {
			fmt.Printf("  帧数不符: %s 存储 %d, 磁盘 %d\n", m.Video.ID, m.Video.FrameCount, m.OnDisk)
		}
		if opts.purge && len(rep.Orphans) > 0 {
			n, err := app.Maintenance.PurgeOrphans(ctx, rep)
			if err != nil {
				slog.Error("删除孤立目录失败", "error", err)
				return 1
			}
			fmt.Printf("已删除 %d 个孤立目录\n", n)
		}

	case "manifest":
		out, _ := filepath.Abs(opts.output)
		path, err := app.Maintenance.GenerateFrameManifest(ctx, out)
		if err != nil {
			slog.Error("生成文件清单失败", "error", err)
			return 1
		}
		slog.Info("文件清单生成成功！", "path", path)

	case "backup":
		out, _ := filepath.Abs(opts.output)
		path, err := app.Maintenance.BackupDatabase(ctx, cfg.Database, out)
		if err != nil {
			slog.Error("数据库备份失败", "error", err)
			return 1
		}
		slog.Info("数据库备份成功！", "path", path)

	default:
		fmt.Printf("错误: 未知的 action '%s'\n", opts.action)
		flag.Usage()
		return 1
	}
	return 0
}

// runInit 写出默认配置（已存在时沿用），创建帧存储目录并初始化存储。
func runInit(dir string) error {
	cfg, err := config.LoadConfig(dir)
	if err != nil {
		return err
	}
	if err := logger.InitLogger(cfg.Logger); err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(dir, "config.yaml")); os.IsNotExist(err) {
		if err := config.Save(dir, cfg); err != nil {
			return err
		}
		slog.Info("已写入默认配置", "dir", dir)
	}
	if err := os.MkdirAll(cfg.Ingest.FrameStoragePath, 0755); err != nil {
		return fmt.Errorf("无法创建帧存储目录: %w", err)
	}

	ctx := context.Background()
	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close(ctx)
	slog.Info("初始化完成", "driver", cfg.Database.Driver, "frames", cfg.Ingest.FrameStoragePath)
	return nil
}

// runFingerprint 只需要指纹引擎，不连接存储。
func runFingerprint(cfg *config.Config, path string) error {
	if path == "" {
		return fmt.Errorf("fingerprint 操作需要提供 -image 参数")
	}
	opts, err := signature.OptionsFromConfig(cfg.Fingerprint)
	if err != nil {
		return err
	}
	engine, err := signature.NewEngine(opts)
	if err != nil {
		return err
	}
	q, err := engine.Query(path)
	if err != nil {
		return err
	}
	b := q.Image.Bounds()
	fmt.Printf("%s  %s (%dx%d)\n", q.Fingerprint.String(), path, b.Dx(), b.Dy())
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// newPrinter 在阶段变化或每前进 10% 时打印一行进度。
func newPrinter() progress.Reporter {
	var mu sync.Mutex
	var stage progress.Stage
	var next float64
	return func(e progress.Event) {
		mu.Lock()
		defer mu.Unlock()
		if e.Stage == stage && e.Percent < next {
			return
		}
		stage = e.Stage
		next = e.Percent + 10
		fmt.Printf("[%5.1f%%] %-14s %s %s\n", e.Percent, e.Stage, e.Video, e.Message)
	}
}

func printReport(rep *ingest.Report) *ingest.Report {
	fmt.Printf("--- 结果: %s ---\n", rep.Outcome)
	for _, v := range rep.Videos {
		switch {
		case v.Skipped:
			fmt.Printf("  [跳过] %s %s\n", v.Op, label(v.Video))
		case v.Error != "":
			fmt.Printf("  [失败] %s %s: %s\n", v.Op, label(v.Video), v.Error)
		case v.Result != nil:
			fmt.Printf("  [完成] %s %s -> %s (%d 帧, 跳过 %d 帧)\n", v.Op, v.Video.SourcePath, v.Result.Video.ID, v.Result.Frames, v.Result.SkippedFrames)
		default:
			fmt.Printf("  [完成] %s %s\n", v.Op, v.Video.ID)
		}
	}
	return rep
}

func label(v models.Video) string {
	if v.SourcePath != "" {
		return v.SourcePath
	}
	return v.ID
}

func exitCode(rep *ingest.Report) int {
	if rep.Outcome != ingest.OutcomeCompleted {
		return 1
	}
	return 0
}

func printResult(res *models.ComparisonResult, limit int) {
	if res.Cancelled {
		fmt.Println("检索已取消，以下为部分结果。")
	}
	fmt.Printf("精确匹配 %d 帧，代表帧 %d，精排 %d，读取失败 %d\n",
		res.Stats.Retrieved, res.Stats.Representatives, res.Stats.Refined, res.Stats.Failed)
	for i, c := range res.Candidates {
		if limit > 0 && i >= limit {
			fmt.Printf("... 另有 %d 个结果\n", len(res.Candidates)-limit)
			break
		}
		fmt.Printf("%3d. 距离 %-8d %s 帧 %d (连续 %d 帧)\n    %s\n", i+1, c.Distance, c.Video.Name, c.Frame.FrameNumber, c.RunLength, c.Frame.FramePath)
		if c.PerceptualDistance >= 0 {
			fmt.Printf("    感知距离 %d\n", c.PerceptualDistance)
		}
	}
}
