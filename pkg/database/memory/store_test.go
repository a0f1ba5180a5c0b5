package memory

import (
	"context"
	"testing"

	"FrameFinder/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertFramesLeavesStoreUntouchedOnError(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.InsertVideo(ctx, models.Video{ID: "v"}))
	require.NoError(t, s.InsertFrames(ctx, "v", []models.Frame{{Number: 1}, {Number: 2}}))

	require.Error(t, s.InsertFrames(ctx, "v", []models.Frame{{Number: 3}, {Number: 2}}))
	assert.Equal(t, 2, s.FrameCount("v"))

	assert.Error(t, s.InsertFrames(ctx, "missing", []models.Frame{{Number: 1}}))
}
