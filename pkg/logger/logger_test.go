package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"FrameFinder/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHandlerJSON(t *testing.T) {
	var buf bytes.Buffer
	h, err := NewHandler(&buf, config.LoggerConfig{Level: "warn", Format: "json"})
	require.NoError(t, err)

	log := slog.New(h)
	log.Info("不应出现")
	log.Warn("帧解码失败", "frame", 12)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "帧解码失败", entry["msg"])
	assert.EqualValues(t, 12, entry["frame"])
}

func TestNewHandlerRejectsUnknownValues(t *testing.T) {
	_, err := NewHandler(&bytes.Buffer{}, config.LoggerConfig{Level: "verbose"})
	assert.Error(t, err)

	_, err = NewHandler(&bytes.Buffer{}, config.LoggerConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestNewHandlerTint(t *testing.T) {
	var buf bytes.Buffer
	h, err := NewHandler(&buf, config.LoggerConfig{Level: "debug", Format: "tint"})
	require.NoError(t, err)
	slog.New(h).Debug("阶段 1/4")
	assert.Contains(t, buf.String(), "阶段 1/4")
}

func TestLineWriterSplitsCarriageReturns(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	defer slog.SetDefault(prev)

	w := NewLineWriter("ffmpeg", "video", "a.mp4")
	_, err := w.Write([]byte("frame=1\rframe=2\n  \nparti"))
	require.NoError(t, err)
	_, err = w.Write([]byte("al"))
	require.NoError(t, err)
	w.Flush()

	var msgs []string
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var rec map[string]any
		require.NoError(t, dec.Decode(&rec))
		assert.Equal(t, "a.mp4", rec["video"])
		msgs = append(msgs, rec["msg"].(string))
	}
	assert.Equal(t, []string{"ffmpeg>frame=1", "ffmpeg>frame=2", "ffmpeg>partial"}, msgs)
}
