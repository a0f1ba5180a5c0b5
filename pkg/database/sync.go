package database

import (
	"FrameFinder/config"
	"FrameFinder/pkg/apperr"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
)

// SyncConfig 将配置文件中的尺寸与存储中记录的尺寸对齐。
// 存储中缺失的键会被写入；已有的尺寸与配置不一致时返回配置错误，
// 因为不同尺寸生成的指纹无法比较。
func SyncConfig(ctx context.Context, store FrameStore, cfg *config.Config) error {
	const op = "database.SyncConfig"
	sizes := []struct {
		key   string
		value int
	}{
		{KeyImageWidth, cfg.Fingerprint.ImageWidth},
		{KeyImageHeight, cfg.Fingerprint.ImageHeight},
		{KeyHaarWidth, cfg.Fingerprint.WaveletWidth},
		{KeyHaarHeight, cfg.Fingerprint.WaveletHeight},
	}

	for _, s := range sizes {
		stored, err := store.GetConfig(ctx, s.key)
		if errors.Is(err, ErrConfigNotFound) {
			slog.Info("存储中缺少配置项，写入当前值", "key", s.key, "value", s.value)
			if err := store.SetConfig(ctx, s.key, strconv.Itoa(s.value)); err != nil {
				return apperr.Wrapf(err, apperr.KindStore, op, "写入配置项 %s 失败", s.key)
			}
			continue
		}
		if err != nil {
			return apperr.Wrapf(err, apperr.KindStore, op, "读取配置项 %s 失败", s.key)
		}
		n, err := strconv.Atoi(stored)
		if err != nil {
			return apperr.Wrapf(err, apperr.KindConfiguration, op, "存储中的配置项 %s 不是整数: %q", s.key, stored)
		}
		if n != s.value {
			return apperr.New(apperr.KindConfiguration, op,
				fmt.Sprintf("配置项 %s 与存储不一致: 配置文件为 %d，存储为 %d", s.key, s.value, n))
		}
	}

	stored, err := store.GetConfig(ctx, KeyFramesPath)
	switch {
	case errors.Is(err, ErrConfigNotFound):
		if err := store.SetConfig(ctx, KeyFramesPath, cfg.Ingest.FrameStoragePath); err != nil {
			return apperr.Wrap(err, apperr.KindStore, op, "写入帧存储目录失败")
		}
	case err != nil:
		return apperr.Wrap(err, apperr.KindStore, op, "读取帧存储目录失败")
	case stored != cfg.Ingest.FrameStoragePath:
		// 已入库的帧记录的是绝对路径，目录变化只影响之后的入库
		slog.Warn("帧存储目录与存储中记录的不一致", "config", cfg.Ingest.FrameStoragePath, "stored", stored)
	}
	return nil
}
