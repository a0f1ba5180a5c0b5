package postgres

import (
	"context"
	"os"
	"testing"

	"FrameFinder/config"
	"FrameFinder/pkg/database"
	"FrameFinder/pkg/database/storetest"

	"github.com/stretchr/testify/require"
)

// 需要一个可用的 PostgreSQL，通过 FRAMEFINDER_TEST_POSTGRES_URI 指定，未设置时跳过。
// 每个子测试开始前清空三张表。
func TestStoreConformance(t *testing.T) {
	uri := os.Getenv("FRAMEFINDER_TEST_POSTGRES_URI")
	if uri == "" {
		t.Skip("未设置 FRAMEFINDER_TEST_POSTGRES_URI，跳过 PostgreSQL 集成测试")
	}

	storetest.Run(t, func(t *testing.T) database.FrameStore {
		ctx := context.Background()
		s, err := NewStore(ctx, config.DatabaseConfig{URI: uri})
		require.NoError(t, err)
		require.NoError(t, s.EnsureSchema(ctx))
		_, err = s.pool.Exec(ctx, "TRUNCATE frames, videos, configuration")
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close(context.Background()) })
		return s
	})
}
