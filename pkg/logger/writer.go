package logger

import (
	"bufio"
	"bytes"
	"log/slog"
	"strings"
	"sync"
)

// LineWriter 把子进程的输出按行写入 slog 的 Debug 级别。
// ffmpeg 的进度行以 \r 结尾，也按行处理。
type LineWriter struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	source string
	attrs  []any
}

// NewLineWriter 创建一个行日志写入器，source 作为每行的前缀。
func NewLineWriter(source string, attrs ...any) *LineWriter {
	return &LineWriter{source: source, attrs: attrs}
}

func (l *LineWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf.Write(p)
	for {
		data := l.buf.Bytes()
		i := bytes.IndexAny(data, "\r\n")
		if i < 0 {
			break
		}
		l.emit(string(data[:i]))
		l.buf.Next(i + 1)
	}
	return len(p), nil
}

// Flush 输出缓冲区中剩余的不完整行。
func (l *LineWriter) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	sc := bufio.NewScanner(&l.buf)
	for sc.Scan() {
		l.emit(sc.Text())
	}
	l.buf.Reset()
}

func (l *LineWriter) emit(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	slog.Debug(l.source+">"+line, l.attrs...)
}
