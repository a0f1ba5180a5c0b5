package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"FrameFinder/config"
	"FrameFinder/internal/bootstrap"
	"FrameFinder/internal/task"
	"FrameFinder/pkg/database/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

// twoSceneDecoder 写出 4 帧 32x24 的灰度 BMP，前两帧和后两帧各是一个场景。
type twoSceneDecoder struct{}

func sceneImage(seed int) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, 32, 24))
	for i := range g.Pix {
		x, y := i%32, i/32
		if ((y/4)*8+x/4+seed)%2 == 0 {
			g.Pix[i] = 200
		} else {
			g.Pix[i] = 40
		}
	}
	return g
}

func (twoSceneDecoder) Decode(ctx context.Context, videoPath, outDir string, width, height int) error {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}
	for i := 1; i <= 4; i++ {
		var buf bytes.Buffer
		if err := bmp.Encode(&buf, sceneImage(i/3)); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(outDir, fmt.Sprintf("output%d.bmp", i)), buf.Bytes(), 0644); err != nil {
			return err
		}
	}
	return nil
}

type testServer struct {
	handler   http.Handler
	tasks     *task.Manager
	configDir string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	cfg := config.Default()
	cfg.Database.Driver = "memory"
	cfg.Database.URI = "postgres://ff:secret@db:5432/frames"
	cfg.Fingerprint.ImageWidth = 32
	cfg.Fingerprint.ImageHeight = 24
	cfg.Ingest.FrameStoragePath = t.TempDir()

	app, err := bootstrap.NewWithStore(ctx, cfg, memory.NewStore(), twoSceneDecoder{})
	require.NoError(t, err)

	tm := task.NewManager(ctx, app.Pipeline)
	dir := t.TempDir()
	h := NewAPIHandlers(tm, app.Store, app.Searcher, app.Engine, cfg, dir)
	return &testServer{handler: RegisterRoutes(h, []string{"*"}), tasks: tm, configDir: dir}
}

func (s *testServer) do(t *testing.T, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

// ingest 通过 API 入库一个视频并等待任务结束。
func (s *testServer) ingest(t *testing.T, name string) {
	t.Helper()
	src := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(src, []byte(name), 0644))
	body, _ := json.Marshal(map[string]any{"paths": []string{src}})

	rec := s.do(t, http.MethodPost, "/api/v1/tasks/ingest", body, "application/json")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp map[string]string
	decodeBody(t, rec, &resp)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done, err := s.tasks.Wait(ctx, resp["taskId"])
	require.NoError(t, err)
	require.Equal(t, task.StatusCompleted, done.Status, done.Messages)

	rec = s.do(t, http.MethodGet, "/api/v1/tasks/"+resp["taskId"], nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

type videoList struct {
	Data []struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		FrameDir   string `json:"frameDir"`
		FrameCount int64  `json:"frameCount"`
	} `json:"data"`
	TotalItems int `json:"totalItems"`
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestIngestListAndSearch(t *testing.T) {
	s := newTestServer(t)
	s.ingest(t, "Ünïcödé Clip.mp4")

	rec := s.do(t, http.MethodGet, "/api/v1/videos?q=unicode", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list videoList
	decodeBody(t, rec, &list)
	require.Equal(t, 1, list.TotalItems)
	assert.Equal(t, int64(4), list.Data[0].FrameCount)
	frameDir := list.Data[0].FrameDir

	rec = s.do(t, http.MethodGet, "/api/v1/videos?q=other", nil, "")
	decodeBody(t, rec, &list)
	assert.Zero(t, list.TotalItems)

	// 上传第 1 帧，前两帧应合并为一个结果
	frame, err := os.ReadFile(filepath.Join(frameDir, "output1.bmp"))
	require.NoError(t, err)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "query.bmp")
	require.NoError(t, err)
	_, err = part.Write(frame)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	rec = s.do(t, http.MethodPost, "/api/v1/search/image", body.Bytes(), mw.FormDataContentType())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result struct {
		Data []struct {
			Distance  uint64 `json:"distance"`
			RunLength int    `json:"runLength"`
			Thumbnail string `json:"thumbnail"`
			Frame     struct {
				FrameNumber int `json:"frameNumber"`
			} `json:"frame"`
		} `json:"data"`
		Cancelled bool `json:"cancelled"`
	}
	decodeBody(t, rec, &result)
	require.Len(t, result.Data, 1)
	assert.Equal(t, uint64(0), result.Data[0].Distance)
	assert.Equal(t, 2, result.Data[0].RunLength)
	assert.Equal(t, 1, result.Data[0].Frame.FrameNumber)
	assert.NotEmpty(t, result.Data[0].Thumbnail)
	assert.False(t, result.Cancelled)
}

func TestDeleteVideo(t *testing.T) {
	s := newTestServer(t)
	s.ingest(t, "remove.mp4")

	rec := s.do(t, http.MethodGet, "/api/v1/videos", nil, "")
	var list videoList
	decodeBody(t, rec, &list)
	require.Len(t, list.Data, 1)
	frameDir := list.Data[0].FrameDir

	rec = s.do(t, http.MethodDelete, "/api/v1/videos/"+list.Data[0].ID, nil, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]string
	decodeBody(t, rec, &resp)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := s.tasks.Wait(ctx, resp["taskId"])
	require.NoError(t, err)

	rec = s.do(t, http.MethodGet, "/api/v1/videos", nil, "")
	decodeBody(t, rec, &list)
	assert.Empty(t, list.Data)
	_, err = os.Stat(frameDir)
	assert.True(t, os.IsNotExist(err))
}

func TestNotFound(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/tasks/missing", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, "/api/v1/tasks/missing", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, "/api/v1/videos/missing", nil, "").Code)
}

func TestBadRequests(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/v1/tasks/ingest", []byte("{"), "application/json").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/v1/tasks/ingest", []byte("{}"), "application/json").Code)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("image", "broken.png")
	part.Write([]byte("not an image"))
	mw.Close()
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/v1/search/image", body.Bytes(), mw.FormDataContentType()).Code)
}

func TestConfigRoundTrip(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/config", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")
	var cfg config.Config
	decodeBody(t, rec, &cfg)
	assert.Equal(t, 32, cfg.Fingerprint.ImageWidth)
	assert.Equal(t, "postgres://ff:xxxxx@db:5432/frames", cfg.Database.URI)

	// 原样提交隐去后的连接串，文件中仍是原来的密码
	cfg.Search.RunTolerance = 10
	body, _ := json.Marshal(cfg)
	rec = s.do(t, http.MethodPut, "/api/v1/config", body, "application/json")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "secret")

	saved, err := config.LoadConfig(s.configDir)
	require.NoError(t, err)
	assert.Equal(t, 10, saved.Search.RunTolerance)
	assert.Equal(t, "postgres://ff:secret@db:5432/frames", saved.Database.URI)

	// 运行中的组件仍然使用旧配置
	rec = s.do(t, http.MethodGet, "/api/v1/config", nil, "")
	var running struct {
		config.Config
		RestartPending bool `json:"restartPending"`
	}
	decodeBody(t, rec, &running)
	assert.Equal(t, 25, running.Search.RunTolerance)
	assert.True(t, running.RestartPending)

	cfg.Fingerprint.WaveletWidth = 0
	body, _ = json.Marshal(cfg)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPut, "/api/v1/config", body, "application/json").Code)
}

func TestRedactURI(t *testing.T) {
	assert.Equal(t, "", redactURI(""))
	assert.Equal(t, "mongodb://localhost:27017", redactURI("mongodb://localhost:27017"))
	assert.Equal(t, "mongodb://u:xxxxx@h:27017/db", redactURI("mongodb://u:pw@h:27017/db"))
	assert.Equal(t, redactedURI, redactURI("host=db user=ff password=pw"))
}
