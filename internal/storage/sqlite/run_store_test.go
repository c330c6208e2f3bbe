package sqlite

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.MigrateUp("migrations"))
	return db
}

func TestRunStoreRoundTrip(t *testing.T) {
	store := NewRunStore(setupTestDB(t))

	run := &Run{
		ImagePath:    "/data/frame_0001.png",
		Policy:       "kabsch",
		ParamsJSON:   json.RawMessage(`{"window_x":3,"window_y":3}`),
		Width:        2463,
		Height:       2527,
		TotalPixels:  2463 * 2527,
		SignalPixels: 14210,
	}
	require.NoError(t, store.InsertRun(run))
	assert.NotEmpty(t, run.RunID, "insert must assign a run id")
	assert.NotZero(t, run.CreatedAt)

	got, err := store.GetRun(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.ImagePath, got.ImagePath)
	assert.Equal(t, run.Policy, got.Policy)
	assert.Equal(t, run.SignalPixels, got.SignalPixels)
	assert.JSONEq(t, string(run.ParamsJSON), string(got.ParamsJSON))
}

func TestRunStoreListOrder(t *testing.T) {
	store := NewRunStore(setupTestDB(t))

	base := time.Now().UnixNano()
	for i := 0; i < 3; i++ {
		require.NoError(t, store.InsertRun(&Run{
			ImagePath: "img",
			Policy:    "fano",
			CreatedAt: base + int64(i),
		}))
	}

	runs, err := store.ListRuns(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Greater(t, runs[0].CreatedAt, runs[1].CreatedAt, "newest first")
}

func TestFilterPassesOrderedBySeq(t *testing.T) {
	store := NewRunStore(setupTestDB(t))

	run := &Run{ImagePath: "img", Policy: "niblack"}
	require.NoError(t, store.InsertRun(run))

	// Insert out of order; the list must come back by seq.
	passes := []*FilterPass{
		{RunID: run.RunID, Seq: 2, Name: "detector_mask", InputCount: 90, Invalidated: 5, Survivors: 85},
		{RunID: run.RunID, Seq: 0, Name: "zeta", InputCount: 100, Invalidated: 4, Survivors: 96},
		{RunID: run.RunID, Seq: 1, Name: "bbox_volume", InputCount: 96, Invalidated: 6, Survivors: 90},
	}
	for _, p := range passes {
		require.NoError(t, store.InsertFilterPass(p))
	}

	got, err := store.ListFilterPasses(run.RunID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"zeta", "bbox_volume", "detector_mask"},
		[]string{got[0].Name, got[1].Name, got[2].Name})
	assert.Equal(t, 96, got[0].Survivors)
}

func TestDeleteRunCascades(t *testing.T) {
	store := NewRunStore(setupTestDB(t))

	run := &Run{ImagePath: "img", Policy: "sauvola"}
	require.NoError(t, store.InsertRun(run))
	require.NoError(t, store.InsertFilterPass(&FilterPass{
		RunID: run.RunID, Seq: 0, Name: "zeta", InputCount: 10, Invalidated: 1, Survivors: 9,
	}))

	require.NoError(t, store.DeleteRun(run.RunID))

	_, err := store.GetRun(run.RunID)
	assert.Error(t, err, "deleted run must not be found")

	passes, err := store.ListFilterPasses(run.RunID)
	require.NoError(t, err)
	assert.Empty(t, passes, "cascade must remove the run's passes")

	assert.Error(t, store.DeleteRun(run.RunID), "double delete reports not found")
}

func TestIsSQLiteBusy(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"database is locked", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"SQLITE_BUSY", errors.New("SQLITE_BUSY"), true},
		{"other error", errors.New("some other error"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isSQLiteBusy(tt.err); got != tt.expected {
				t.Errorf("isSQLiteBusy(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestRetryOnBusy(t *testing.T) {
	t.Run("success on first try", func(t *testing.T) {
		calls := 0
		err := retryOnBusy(func() error {
			calls++
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("success after retry", func(t *testing.T) {
		calls := 0
		err := retryOnBusy(func() error {
			calls++
			if calls < 3 {
				return errors.New("database is locked (5) (SQLITE_BUSY)")
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("non-busy error fails immediately", func(t *testing.T) {
		calls := 0
		testErr := errors.New("some other error")
		err := retryOnBusy(func() error {
			calls++
			return testErr
		})
		assert.Equal(t, testErr, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("max retries exceeded", func(t *testing.T) {
		calls := 0
		err := retryOnBusy(func() error {
			calls++
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		})
		assert.Error(t, err)
		assert.Equal(t, 5, calls)
	})
}
