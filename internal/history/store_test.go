package history

import (
	"testing"

	"github.com/optionscan/engine/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestRecordAndQuery(t *testing.T) {
	s := New()
	s.Record("scan-1", 1, []models.Result{{ID: "a"}, {ID: "b"}})
	s.Record("scan-1", 2, []models.Result{{ID: "a"}, {ID: "c"}})

	entries, total := s.Query("scan-1", 0, 0, 10)
	assert.Equal(t, 4, total)
	assert.Len(t, entries, 4)
	// most recent first
	assert.Equal(t, int64(2), entries[0].Tick)
}

func TestQuerySinceFiltersOlderTicks(t *testing.T) {
	s := New()
	s.Record("scan-1", 1, []models.Result{{ID: "a"}})
	s.Record("scan-1", 2, []models.Result{{ID: "b"}})

	entries, total := s.Query("scan-1", 2, 0, 10)
	assert.Equal(t, 1, total)
	assert.Equal(t, "b", entries[0].Result.ID)
}

func TestQueryUnknownScanReturnsEmpty(t *testing.T) {
	s := New()
	entries, total := s.Query("missing", 0, 0, 10)
	assert.Nil(t, entries)
	assert.Equal(t, 0, total)
}

func TestForgetClearsHistory(t *testing.T) {
	s := New()
	s.Record("scan-1", 1, []models.Result{{ID: "a"}})
	s.Forget("scan-1")

	entries, total := s.Query("scan-1", 0, 0, 10)
	assert.Nil(t, entries)
	assert.Equal(t, 0, total)
}

func TestRecordEvictsBeyondCapacity(t *testing.T) {
	s := New()
	for i := 0; i < ringCapacity+10; i++ {
		s.Record("scan-1", int64(i), []models.Result{{ID: "r"}})
	}
	_, total := s.Query("scan-1", 0, 0, ringCapacity*2)
	assert.Equal(t, ringCapacity, total)
}
