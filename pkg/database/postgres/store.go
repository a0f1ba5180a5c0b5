package postgres

import (
	"FrameFinder/config"
	"FrameFinder/internal/models"
	"FrameFinder/pkg/database"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS videos (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    path       TEXT NOT NULL,
    frame_dir  TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS frames (
    video_id     TEXT NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
    frame_number INTEGER NOT NULL,
    fingerprint  TEXT NOT NULL,
    path         TEXT NOT NULL,
    UNIQUE (video_id, frame_number)
);
CREATE INDEX IF NOT EXISTS idx_frames_fingerprint ON frames (fingerprint, video_id, frame_number);
CREATE INDEX IF NOT EXISTS idx_videos_name ON videos (name);
CREATE TABLE IF NOT EXISTS configuration (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);`

// Store 是 database.FrameStore 接口的 PostgreSQL 实现。
type Store struct {
	pool *pgxpool.Pool
}

var _ database.FrameStore = (*Store)(nil)

// NewStore 连接 PostgreSQL，cfg.URI 为 postgres:// 形式的连接串。
func NewStore(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	slog.Info("正在连接到 PostgreSQL...")
	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(connCtx, cfg.URI)
	if err != nil {
		return nil, fmt.Errorf("无法连接到数据库: %w", err)
	}
	if err := pool.Ping(connCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("无法 ping 数据库: %w", err)
	}
	slog.Info("PostgreSQL 连接成功")
	return &Store{pool: pool}, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("创建数据表失败: %w", err)
	}
	slog.Info("PostgreSQL 数据表已验证/创建。")
	return nil
}

func (s *Store) InsertVideo(ctx context.Context, video models.Video) error {
	createdAt := video.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		"INSERT INTO videos (id, name, path, frame_dir, created_at) VALUES ($1, $2, $3, $4, $5)",
		video.ID, video.Name, video.SourcePath, video.FrameDir, createdAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return database.ErrVideoExists
	}
	return err
}

// InsertFrames 在一个事务中用 COPY 写入一批帧。
func (s *Store) InsertFrames(ctx context.Context, videoID string, frames []models.Frame) error {
	if len(frames) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"frames"},
		[]string{"video_id", "frame_number", "fingerprint", "path"},
		pgx.CopyFromSlice(len(frames), func(i int) ([]any, error) {
			f := frames[i]
			return []any{videoID, int32(f.Number), f.Fingerprint, f.Path}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("批量写入帧失败: %w", err)
	}
	return tx.Commit(ctx)
}

// DeleteVideo 删除视频行，frames 通过 ON DELETE CASCADE 一并删除。
func (s *Store) DeleteVideo(ctx context.Context, videoID string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM videos WHERE id = $1", videoID); err != nil {
		return fmt.Errorf("删除视频 %s 失败: %w", videoID, err)
	}
	return nil
}

func (s *Store) VideoExists(ctx context.Context, videoID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM videos WHERE id = $1)", videoID).Scan(&exists)
	return exists, err
}

func (s *Store) FindByFingerprint(ctx context.Context, fingerprint string) ([]models.FrameMatch, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT f.video_id, v.name, v.path, f.frame_number, f.path
		FROM frames f JOIN videos v ON v.id = f.video_id
		WHERE f.fingerprint = $1
		ORDER BY f.video_id, f.frame_number`, fingerprint)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []models.FrameMatch
	for rows.Next() {
		var m models.FrameMatch
		if err := rows.Scan(&m.VideoID, &m.VideoName, &m.VideoPath, &m.FrameNumber, &m.FramePath); err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (s *Store) ListVideos(ctx context.Context) ([]models.VideoMeta, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT v.id, v.name, v.path, v.frame_dir, COUNT(f.frame_number)
		FROM videos v LEFT JOIN frames f ON f.video_id = v.id
		GROUP BY v.id
		ORDER BY v.name, v.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.VideoMeta
	for rows.Next() {
		var m models.VideoMeta
		if err := rows.Scan(&m.ID, &m.Name, &m.SourcePath, &m.FrameDir, &m.FrameCount); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

func (s *Store) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, "SELECT value FROM configuration WHERE key = $1", key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", database.ErrConfigNotFound
	}
	return value, err
}

func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO configuration (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	return err
}

func (s *Store) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}
