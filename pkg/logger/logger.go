package logger

import (
	"FrameFinder/config"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// InitLogger 根据配置初始化全局的 slog 日志记录器。
func InitLogger(cfg config.LoggerConfig) error {
	h, err := NewHandler(os.Stdout, cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(h))
	return nil
}

// NewHandler 按照 format (text / json / tint) 构建日志处理器。
func NewHandler(w io.Writer, cfg config.LoggerConfig) (slog.Handler, error) {
	logLevel := new(slog.LevelVar)
	if err := setLogLevel(cfg.Level, logLevel); err != nil {
		return nil, err
	}

	handlerOpts := &slog.HandlerOptions{
		Level: logLevel,
		// AddSource: true, // 如果需要输出源码位置（文件名和行号），取消此行注释
	}

	switch cfg.Format {
	case "json":
		return slog.NewJSONHandler(w, handlerOpts), nil
	case "tint":
		// 彩色终端输出，适合 CLI 交互使用
		return tint.NewHandler(w, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.Kitchen,
		}), nil
	case "text", "":
		return slog.NewTextHandler(w, handlerOpts), nil
	default:
		return nil, errors.New("无效的日志格式: " + cfg.Format)
	}
}

// setLogLevel 将字符串形式的日志级别转换为 slog.Level 类型
func setLogLevel(levelStr string, levelVar *slog.LevelVar) error {
	switch levelStr {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "info", "":
		levelVar.Set(slog.LevelInfo)
	case "warn":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		return errors.New("无效的日志级别: " + levelStr)
	}
	return nil
}
