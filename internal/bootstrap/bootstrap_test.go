package bootstrap

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"FrameFinder/config"
	"FrameFinder/internal/models"
	"FrameFinder/pkg/apperr"
	"FrameFinder/pkg/database"
	"FrameFinder/pkg/database/memory"
	"FrameFinder/pkg/ingest"
	"FrameFinder/pkg/signature"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

// sceneDecoder 写出 32x24 的帧：第 1-3 帧是场景 A，第 4-5 帧是场景 B。
type sceneDecoder struct{}

func scene(seed int) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, 32, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			cell := (y/4)*8 + x/4
			if (cell*7+seed)%3 == 0 {
				g.Pix[y*g.Stride+x] = 220
			} else {
				g.Pix[y*g.Stride+x] = 30
			}
		}
	}
	return g
}

func (sceneDecoder) Decode(ctx context.Context, videoPath, outDir string, width, height int) error {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}
	for i := 1; i <= 5; i++ {
		seed := 1
		if i > 3 {
			seed = 2
		}
		f, err := os.Create(filepath.Join(outDir, fmt.Sprintf("output%d.bmp", i)))
		if err != nil {
			return err
		}
		if err := bmp.Encode(f, scene(seed)); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Database.Driver = "memory"
	cfg.Fingerprint.ImageWidth = 32
	cfg.Fingerprint.ImageHeight = 24
	cfg.Ingest.FrameStoragePath = t.TempDir()
	cfg.Ingest.WorkerCount = 3
	return cfg
}

func TestIngestThenSearch(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	app, err := NewWithStore(ctx, cfg, memory.NewStore(), sceneDecoder{})
	require.NoError(t, err)
	defer app.Close(ctx)

	src := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(src, []byte("clip"), 0644))
	video, err := ingest.VideoFromFile(src)
	require.NoError(t, err)

	rep := app.Pipeline.Run(ctx, []models.Video{video}, nil, nil)
	require.Equal(t, ingest.OutcomeCompleted, rep.Outcome)
	stored := rep.Videos[0].Result.Video

	// 用入库的第 2 帧作为检索图，场景 A 的三帧应合并成一个结果
	res, err := app.Searcher.SearchFile(ctx, filepath.Join(stored.FrameDir, "output2.bmp"), nil)
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)
	best := res.Candidates[0]
	assert.Equal(t, stored.ID, best.Video.ID)
	assert.Equal(t, 1, best.Frame.FrameNumber)
	assert.Equal(t, 3, best.RunLength)
	assert.Equal(t, uint64(0), best.Distance)
	assert.Equal(t, 3, res.Stats.Retrieved)

	audit, err := app.Maintenance.Audit(ctx)
	require.NoError(t, err)
	assert.True(t, audit.Clean())
}

// widescreenDecoder 和 ffmpeg 的 -s WxH 一样，把 16:9 的源画面拉伸到配置的帧尺寸。
type widescreenDecoder struct{ src *image.Gray }

func widescreen() *image.Gray {
	g := image.NewGray(image.Rect(0, 0, 96, 54))
	for y := 0; y < 54; y++ {
		for x := 0; x < 96; x++ {
			if ((x/12)+(y/9))%2 == 0 {
				g.Pix[y*g.Stride+x] = 210
			} else {
				g.Pix[y*g.Stride+x] = 40
			}
		}
	}
	return g
}

func (d widescreenDecoder) Decode(ctx context.Context, videoPath, outDir string, width, height int) error {
	frame, err := signature.Exact(width, height).Resize(d.src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}
	for i := 1; i <= 2; i++ {
		f, err := os.Create(filepath.Join(outDir, fmt.Sprintf("output%d.bmp", i)))
		if err != nil {
			return err
		}
		if err := bmp.Encode(f, frame); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}

func TestIngestThenSearchWidescreen(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	src := widescreen()
	app, err := NewWithStore(ctx, cfg, memory.NewStore(), widescreenDecoder{src: src})
	require.NoError(t, err)
	defer app.Close(ctx)

	videoPath := filepath.Join(t.TempDir(), "wide.mp4")
	require.NoError(t, os.WriteFile(videoPath, []byte("wide"), 0644))
	video, err := ingest.VideoFromFile(videoPath)
	require.NoError(t, err)
	rep := app.Pipeline.Run(ctx, []models.Video{video}, nil, nil)
	require.Equal(t, ingest.OutcomeCompleted, rep.Outcome)

	// 检索图是未经缩放的 16:9 原始画面
	grab := filepath.Join(t.TempDir(), "grab.png")
	f, err := os.Create(grab)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, src))
	require.NoError(t, f.Close())

	res, err := app.Searcher.SearchFile(ctx, grab, nil)
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, rep.Videos[0].Result.Video.ID, res.Candidates[0].Video.ID)
	assert.Equal(t, 2, res.Candidates[0].RunLength)
	assert.Equal(t, uint64(0), res.Candidates[0].Distance)
}

func TestNewWithStoreRejectsSizeMismatch(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.SetConfig(ctx, database.KeyImageWidth, "64"))

	_, err := NewWithStore(ctx, testConfig(t), store, sceneDecoder{})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConfiguration))
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	store, err := OpenStore(ctx, config.DatabaseConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.NoError(t, store.Close(ctx))

	_, err = OpenStore(ctx, config.DatabaseConfig{Driver: "sqlite"})
	assert.True(t, apperr.IsKind(err, apperr.KindConfiguration))
}
