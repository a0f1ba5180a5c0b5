// Package decoder 调用外部工具把视频解码为逐帧编号的单通道图片。
package decoder

import (
	"FrameFinder/pkg/logger"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Decoder 把视频解码到 outDir，每帧一个文件，文件名中的数字即帧号。
type Decoder interface {
	Decode(ctx context.Context, videoPath, outDir string, width, height int) error
}

// FFmpeg 使用 ffmpeg 输出 8 位灰度 BMP。
type FFmpeg struct {
	// Path 是 ffmpeg 可执行文件，为空时在 PATH 中查找。
	Path    string
	Threads int
}

var _ Decoder = (*FFmpeg)(nil)

// NewFFmpeg 创建 ffmpeg 解码器。
func NewFFmpeg(path string) *FFmpeg {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpeg{Path: path, Threads: 2}
}

// Decode 执行 ffmpeg -i <video> -pix_fmt gray -s WxH -an <outDir>/output%d.bmp。
// 进程的输出逐行写入日志。非零退出码只记录日志，只有没有生成任何帧时才返回错误。
func (f *FFmpeg) Decode(ctx context.Context, videoPath, outDir string, width, height int) error {
	if _, err := exec.LookPath(f.Path); err != nil {
		slog.Error("在系统 PATH 中找不到 ffmpeg", "path", f.Path)
		return fmt.Errorf("找不到 ffmpeg 命令 %q: %w", f.Path, err)
	}
	if _, err := os.Stat(videoPath); err != nil {
		return fmt.Errorf("视频文件不可读 %q: %w", videoPath, err)
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("无法创建帧目录 %q: %w", outDir, err)
	}

	threads := f.Threads
	if threads <= 0 {
		threads = 2
	}
	cmd := exec.CommandContext(ctx, f.Path,
		"-i", videoPath,
		"-pix_fmt", "gray",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-threads", strconv.Itoa(threads),
		"-an",
		filepath.Join(outDir, "output%d.bmp"),
	)

	// 将命令的输出连接到日志，以便实时查看进度和错误
	out := logger.NewLineWriter("ffmpeg", "video", videoPath)
	cmd.Stdout = out
	cmd.Stderr = out

	slog.Info("开始解码视频", "video", videoPath, "dir", outDir, "size", fmt.Sprintf("%dx%d", width, height))
	runErr := cmd.Run()
	out.Flush()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	frames, listErr := ListFrames(outDir)
	if listErr != nil {
		return listErr
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) && len(frames) > 0 {
			slog.Warn("ffmpeg 非零退出，但已生成帧，继续处理", "video", videoPath, "exitCode", exitErr.ExitCode(), "frames", len(frames))
			return nil
		}
		return fmt.Errorf("执行 ffmpeg 失败: %w", runErr)
	}
	if len(frames) == 0 {
		return fmt.Errorf("ffmpeg 没有为 %q 生成任何帧", videoPath)
	}
	slog.Info("视频解码完成", "video", videoPath, "frames", len(frames))
	return nil
}

// FrameFile 是解码目录中的一个帧文件。
type FrameFile struct {
	Number int
	Path   string
}

// FrameNumber 提取文件名中的全部数字作为帧号。没有数字时返回 false。
func FrameNumber(name string) (int, bool) {
	var digits strings.Builder
	for _, r := range name {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0, false
	}
	return n, true
}

// ListFrames 列出目录中的帧文件，按帧号升序。文件名中没有数字的文件被忽略。
func ListFrames(dir string) ([]FrameFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("读取帧目录失败: %w", err)
	}
	frames := make([]FrameFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n, ok := FrameNumber(e.Name())
		if !ok {
			slog.Debug("跳过没有帧号的文件", "file", e.Name())
			continue
		}
		frames = append(frames, FrameFile{Number: n, Path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i].Number < frames[j].Number })
	return frames, nil
}
