package memory

import (
	"testing"

	"FrameFinder/pkg/database"
	"FrameFinder/pkg/database/storetest"
)

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) database.FrameStore { return NewStore() })
}
