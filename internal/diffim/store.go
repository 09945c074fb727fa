package diffim

import (
	"database/sql"
	"fmt"
	"image"
	"math"
	"time"

	"github.com/google/uuid"
)

// FitRun groups the per-region fit results of one differencing pass.
type FitRun struct {
	RunID            string
	StartedUnixNanos int64
	KernelCols       int
	KernelRows       int
	Notes            string
}

// FitResult is one region's persisted fit outcome: where the region
// was, what the solver found, and how the difference image scored.
type FitResult struct {
	RunID string

	// Region bounding box, half-open pixel coordinates.
	RegionX0, RegionY0 int
	RegionX1, RegionY1 int
	NPix               int

	Background    float64
	BackgroundErr float64
	KernelSum     float64
	Rank          int

	NGood        int
	ResidualMean float64
	ResidualStd  float64
	Accepted     bool

	TSUnixNanos int64
}

// NewFitResult assembles a FitResult from a solved region.
func NewFitResult(runID string, region image.Rectangle, res *PSFMatchResult, stats DifferenceImageStatistics, accepted bool) *FitResult {
	return &FitResult{
		RunID:         runID,
		RegionX0:      region.Min.X,
		RegionY0:      region.Min.Y,
		RegionX1:      region.Max.X,
		RegionY1:      region.Max.Y,
		NPix:          region.Dx() * region.Dy(),
		Background:    res.Background,
		BackgroundErr: res.BackgroundErr,
		KernelSum:     res.Kernel.Sum(),
		Rank:          res.Rank,
		NGood:         stats.NGood,
		ResidualMean:  stats.ResidualMean,
		ResidualStd:   stats.ResidualStd,
		Accepted:      accepted,
		TSUnixNanos:   time.Now().UnixNano(),
	}
}

// Region returns the result's bounding box.
func (r *FitResult) Region() image.Rectangle {
	return image.Rect(r.RegionX0, r.RegionY0, r.RegionX1, r.RegionY1)
}

// FitStore persists fit runs and results. It is a collaborator of the
// core, not part of it: the fitting path never requires a database.
type FitStore struct {
	db *sql.DB
}

// NewFitStore creates a FitStore backed by the given database.
func NewFitStore(db *sql.DB) *FitStore {
	return &FitStore{db: db}
}

// CreateRun inserts a new fit run with a fresh UUID and returns it.
func (s *FitStore) CreateRun(kernelCols, kernelRows int, notes string) (*FitRun, error) {
	run := &FitRun{
		RunID:            uuid.NewString(),
		StartedUnixNanos: time.Now().UnixNano(),
		KernelCols:       kernelCols,
		KernelRows:       kernelRows,
		Notes:            notes,
	}

	_, err := s.db.Exec(`
		INSERT INTO fit_runs (run_id, started_unix_nanos, kernel_cols, kernel_rows, notes)
		VALUES (?, ?, ?, ?, ?)
	`, run.RunID, run.StartedUnixNanos, run.KernelCols, run.KernelRows, run.Notes)
	if err != nil {
		return nil, fmt.Errorf("insert fit run: %w", err)
	}

	return run, nil
}

// GetRun loads a fit run by ID.
func (s *FitStore) GetRun(runID string) (*FitRun, error) {
	run := &FitRun{}
	err := s.db.QueryRow(`
		SELECT run_id, started_unix_nanos, kernel_cols, kernel_rows, notes
		FROM fit_runs WHERE run_id = ?
	`, runID).Scan(&run.RunID, &run.StartedUnixNanos, &run.KernelCols, &run.KernelRows, &run.Notes)
	if err != nil {
		return nil, fmt.Errorf("get fit run %s: %w", runID, err)
	}
	return run, nil
}

// InsertResult persists one region's fit result and returns its row
// ID. NaN statistics (degenerate regions) are stored as NULL-safe
// sentinel zeros with accepted=false, since SQLite has no NaN.
func (s *FitStore) InsertResult(r *FitResult) (int64, error) {
	mean, std := r.ResidualMean, r.ResidualStd
	accepted := r.Accepted
	if math.IsNaN(mean) || math.IsNaN(std) {
		mean, std = 0, 0
		accepted = false
	}

	result, err := s.db.Exec(`
		INSERT INTO fit_results (
			run_id,
			region_x0, region_y0, region_x1, region_y1, npix,
			background, background_err, kernel_sum, rank,
			n_good, residual_mean, residual_std, accepted,
			ts_unix_nanos
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.RunID,
		r.RegionX0, r.RegionY0, r.RegionX1, r.RegionY1, r.NPix,
		r.Background, r.BackgroundErr, r.KernelSum, r.Rank,
		r.NGood, mean, std, accepted,
		r.TSUnixNanos,
	)
	if err != nil {
		return 0, fmt.Errorf("insert fit result: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get fit result insert ID: %w", err)
	}

	return id, nil
}

// GetResults returns all results of a run in insertion order.
func (s *FitStore) GetResults(runID string) ([]*FitResult, error) {
	rows, err := s.db.Query(`
		SELECT run_id,
		       region_x0, region_y0, region_x1, region_y1, npix,
		       background, background_err, kernel_sum, rank,
		       n_good, residual_mean, residual_std, accepted,
		       ts_unix_nanos
		FROM fit_results
		WHERE run_id = ?
		ORDER BY result_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query fit results: %w", err)
	}
	defer rows.Close()

	var results []*FitResult
	for rows.Next() {
		r := &FitResult{}
		if err := rows.Scan(
			&r.RunID,
			&r.RegionX0, &r.RegionY0, &r.RegionX1, &r.RegionY1, &r.NPix,
			&r.Background, &r.BackgroundErr, &r.KernelSum, &r.Rank,
			&r.NGood, &r.ResidualMean, &r.ResidualStd, &r.Accepted,
			&r.TSUnixNanos,
		); err != nil {
			return nil, fmt.Errorf("scan fit result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fit results: %w", err)
	}

	return results, nil
}

// CountAccepted returns how many results of a run passed quality
// evaluation.
func (s *FitStore) CountAccepted(runID string) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM fit_results WHERE run_id = ? AND accepted
	`, runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count accepted results: %w", err)
	}
	return n, nil
}
