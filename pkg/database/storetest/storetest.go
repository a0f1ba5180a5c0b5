// Package storetest 提供 FrameStore 实现共用的行为测试。
package storetest

import (
	"context"
	"testing"

	"FrameFinder/internal/models"
	"FrameFinder/pkg/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run 对 newStore 返回的空存储执行全部行为测试，每个子测试使用一个新存储。
func Run(t *testing.T, newStore func(t *testing.T) database.FrameStore) {
	t.Run("DuplicateVideo", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		v := models.Video{ID: "dup", Name: "dup.mp4", SourcePath: "/videos/dup.mp4"}
		require.NoError(t, s.InsertVideo(ctx, v))
		assert.ErrorIs(t, s.InsertVideo(ctx, v), database.ErrVideoExists)
	})

	t.Run("FindOrderedByVideoAndFrame", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		for _, id := range []string{"vid-b", "vid-a"} {
			require.NoError(t, s.InsertVideo(ctx, models.Video{ID: id, Name: id, SourcePath: "/v/" + id}))
		}
		require.NoError(t, s.InsertFrames(ctx, "vid-b", []models.Frame{
			{Number: 12, Fingerprint: "abcd", Path: "/f/b12"},
			{Number: 2, Fingerprint: "abcd", Path: "/f/b2"},
			{Number: 5, Fingerprint: "0000", Path: "/f/b5"},
		}))
		require.NoError(t, s.InsertFrames(ctx, "vid-a", []models.Frame{
			{Number: 40, Fingerprint: "abcd", Path: "/f/a40"},
		}))

		got, err := s.FindByFingerprint(ctx, "abcd")
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, models.FrameMatch{VideoID: "vid-a", VideoName: "vid-a", VideoPath: "/v/vid-a", FrameNumber: 40, FramePath: "/f/a40"}, got[0])
		assert.Equal(t, 2, got[1].FrameNumber)
		assert.Equal(t, 12, got[2].FrameNumber)

		list, err := s.ListVideos(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "vid-a", list[0].ID)
		assert.EqualValues(t, 3, list[1].FrameCount)
	})

	t.Run("DeleteCascades", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		require.NoError(t, s.InsertVideo(ctx, models.Video{ID: "gone", Name: "gone"}))
		require.NoError(t, s.InsertFrames(ctx, "gone", []models.Frame{{Number: 1, Fingerprint: "ffff", Path: "/f/1"}}))
		require.NoError(t, s.DeleteVideo(ctx, "gone"))

		exists, err := s.VideoExists(ctx, "gone")
		require.NoError(t, err)
		assert.False(t, exists)
		got, err := s.FindByFingerprint(ctx, "ffff")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("DuplicateFrameFailsWholeBatch", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		require.NoError(t, s.InsertVideo(ctx, models.Video{ID: "v", Name: "v"}))
		require.NoError(t, s.InsertFrames(ctx, "v", []models.Frame{{Number: 1, Fingerprint: "aa", Path: "/1"}}))
		err := s.InsertFrames(ctx, "v", []models.Frame{
			{Number: 2, Fingerprint: "bb", Path: "/2"},
			{Number: 1, Fingerprint: "aa", Path: "/1"},
		})
		require.Error(t, err)

		got, err := s.FindByFingerprint(ctx, "bb")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("Config", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		_, err := s.GetConfig(ctx, database.KeyHaarWidth)
		assert.ErrorIs(t, err, database.ErrConfigNotFound)

		require.NoError(t, s.SetConfig(ctx, database.KeyHaarWidth, "8"))
		require.NoError(t, s.SetConfig(ctx, database.KeyHaarWidth, "16"))
		v, err := s.GetConfig(ctx, database.KeyHaarWidth)
		require.NoError(t, err)
		assert.Equal(t, "16", v)
	})
}
