package diffim

import (
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/altair-data/diffim/internal/db"
)

func newTestStore(t *testing.T) *FitStore {
	t.Helper()
	database, err := db.NewDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.EnsureSchema())
	return NewFitStore(database.DB)
}

func TestFitStoreRunRoundTrip(t *testing.T) {
	store := newTestStore(t)

	run, err := store.CreateRun(19, 19, "nightly pair 42")
	require.NoError(t, err)
	require.NotEmpty(t, run.RunID)
	require.Greater(t, run.StartedUnixNanos, int64(0))

	loaded, err := store.GetRun(run.RunID)
	require.NoError(t, err)
	require.Equal(t, run, loaded)

	_, err = store.GetRun("no-such-run")
	require.Error(t, err)
}

func TestFitStoreResults(t *testing.T) {
	store := newTestStore(t)
	run, err := store.CreateRun(3, 3, "")
	require.NoError(t, err)

	first := &FitResult{
		RunID:    run.RunID,
		RegionX0: 17, RegionY0: 17, RegionX1: 29, RegionY1: 29,
		NPix:          144,
		Background:    4.0,
		BackgroundErr: 0.2,
		KernelSum:     1.01,
		Rank:          10,
		NGood:         100,
		ResidualMean:  0.05,
		ResidualStd:   0.98,
		Accepted:      true,
		TSUnixNanos:   1700000000000000000,
	}
	firstID, err := store.InsertResult(first)
	require.NoError(t, err)
	require.Greater(t, firstID, int64(0))

	second := &FitResult{
		RunID:    run.RunID,
		RegionX0: 37, RegionY0: 37, RegionX1: 49, RegionY1: 49,
		NPix:         144,
		ResidualMean: 0.4,
		ResidualStd:  1.6,
		Accepted:     false,
		TSUnixNanos:  1700000000000000001,
	}
	secondID, err := store.InsertResult(second)
	require.NoError(t, err)
	require.Greater(t, secondID, firstID)

	results, err := store.GetResults(run.RunID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, first, results[0])
	require.Equal(t, second, results[1])

	n, err := store.CountAccepted(run.RunID)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestFitStoreScrubsNaNStatistics(t *testing.T) {
	store := newTestStore(t)
	run, err := store.CreateRun(3, 3, "")
	require.NoError(t, err)

	// A degenerate region has NaN statistics; SQLite cannot store NaN,
	// so it lands as zeros and is never accepted.
	degenerate := &FitResult{
		RunID:        run.RunID,
		ResidualMean: math.NaN(),
		ResidualStd:  math.NaN(),
		Accepted:     true,
		TSUnixNanos:  1,
	}
	_, err = store.InsertResult(degenerate)
	require.NoError(t, err)

	results, err := store.GetResults(run.RunID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, 0.0, results[0].ResidualMean)
	require.Equal(t, 0.0, results[0].ResidualStd)
	require.False(t, results[0].Accepted)

	n, err := store.CountAccepted(run.RunID)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestNewFitResult(t *testing.T) {
	k, err := NewDeltaFunctionKernel(3, 3, 1, 1)
	require.NoError(t, err)
	kernel, err := NewLinearCombinationKernel([]Kernel{k}, []float64{2.0})
	require.NoError(t, err)

	res := &PSFMatchResult{
		Kernel:        kernel,
		Background:    4.0,
		BackgroundErr: 0.1,
		Rank:          2,
	}
	stats := DifferenceImageStatistics{NGood: 100, ResidualMean: 0.05, ResidualStd: 0.98}
	region := image.Rect(17, 17, 29, 29)

	fr := NewFitResult("run-1", region, res, stats, true)
	require.Equal(t, "run-1", fr.RunID)
	require.Equal(t, region, fr.Region())
	require.Equal(t, 144, fr.NPix)
	require.Equal(t, 2.0, fr.KernelSum)
	require.Equal(t, 2, fr.Rank)
	require.Equal(t, 100, fr.NGood)
	require.True(t, fr.Accepted)
	require.Greater(t, fr.TSUnixNanos, int64(0))
}
