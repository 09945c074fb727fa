package diffim

import (
	"errors"
	"image"
	"os"
	"testing"

	"github.com/altair-data/diffim/internal/monitoring"
)

func TestMain(m *testing.M) {
	// Selection and fitting log per-pass progress; keep test output quiet.
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

// makePair builds a registered image pair with unit variance and flat
// sky, ready for blobs to be painted on the convolve side.
func makePair(t *testing.T, width, height int) (itc, itnc *MaskedImage) {
	t.Helper()
	itc = mustImage(t, width, height)
	itnc = mustImage(t, width, height)
	fillConstant(itc, 0.0, 1.0)
	fillConstant(itnc, 0.0, 1.0)
	return itc, itnc
}

func selectCfg(minClean int, threshold, minThreshold float64) *TuningConfig {
	return &TuningConfig{
		FootprintNPixMin:          intPtr(10),
		FootprintGrowPixels:       intPtr(3),
		MinCleanFootprints:        intPtr(minClean),
		DetectionThreshold:        floatPtr(threshold),
		DetectionThresholdScaling: floatPtr(0.5),
		MinDetectionThreshold:     floatPtr(minThreshold),
	}
}

func bboxSet(fps []*Footprint) map[image.Rectangle]bool {
	set := make(map[image.Rectangle]bool, len(fps))
	for _, fp := range fps {
		set[fp.BBox()] = true
	}
	return set
}

func TestSelectFootprintsFindsCleanRegions(t *testing.T) {
	itc, itnc := makePair(t, 64, 64)
	setBlob(itc, image.Rect(20, 20, 26, 26), 100.0)
	setBlob(itc, image.Rect(40, 40, 46, 46), 100.0)

	fps, err := SelectFootprints(itc, itnc, selectCfg(2, 50.0, 1.0))
	if err != nil {
		t.Fatalf("SelectFootprints failed: %v", err)
	}
	if len(fps) != 2 {
		t.Fatalf("selected %d footprints, want 2", len(fps))
	}

	got := bboxSet(fps)
	for _, want := range []image.Rectangle{
		image.Rect(17, 17, 29, 29),
		image.Rect(37, 37, 49, 49),
	} {
		if !got[want] {
			t.Fatalf("grown box %v missing from selection %v", want, got)
		}
	}
}

func TestSelectFootprintsThresholdLowering(t *testing.T) {
	itc, itnc := makePair(t, 64, 64)
	setBlob(itc, image.Rect(20, 20, 26, 26), 100.0)
	setBlob(itc, image.Rect(40, 40, 46, 46), 30.0)

	// The faint blob only clears the threshold after one halving pass.
	fps, err := SelectFootprints(itc, itnc, selectCfg(2, 50.0, 1.0))
	if err != nil {
		t.Fatalf("SelectFootprints failed: %v", err)
	}
	if len(fps) != 2 {
		t.Fatalf("selected %d footprints, want 2 after threshold lowering", len(fps))
	}
}

func TestSelectFootprintsSubsetMonotonicity(t *testing.T) {
	itc, itnc := makePair(t, 64, 64)
	setBlob(itc, image.Rect(20, 20, 26, 26), 100.0)
	setBlob(itc, image.Rect(40, 40, 46, 46), 30.0)

	// Asking for fewer regions stops at a higher threshold, so the
	// result is a subset of what a deeper search returns.
	one, err := SelectFootprints(itc, itnc, selectCfg(1, 50.0, 1.0))
	if err != nil {
		t.Fatalf("SelectFootprints(minClean=1) failed: %v", err)
	}
	two, err := SelectFootprints(itc, itnc, selectCfg(2, 50.0, 1.0))
	if err != nil {
		t.Fatalf("SelectFootprints(minClean=2) failed: %v", err)
	}
	if len(one) != 1 || len(two) != 2 {
		t.Fatalf("got %d and %d footprints, want 1 and 2", len(one), len(two))
	}

	twoSet := bboxSet(two)
	for _, fp := range one {
		if !twoSet[fp.BBox()] {
			t.Fatalf("footprint %v from the shallow search missing from the deep one", fp.BBox())
		}
	}
}

func TestSelectFootprintsStopsAtFloor(t *testing.T) {
	itc, itnc := makePair(t, 64, 64)
	setBlob(itc, image.Rect(20, 20, 26, 26), 100.0)

	// Only one region exists; the selector lowers the threshold until
	// the floor and returns what it has, without error.
	fps, err := SelectFootprints(itc, itnc, selectCfg(3, 50.0, 20.0))
	if err != nil {
		t.Fatalf("SelectFootprints failed: %v", err)
	}
	if len(fps) != 1 {
		t.Fatalf("selected %d footprints, want 1 (sub-minimum yield is not an error)", len(fps))
	}
}

func TestSelectFootprintsRejectsMaskedRegions(t *testing.T) {
	// Any set mask bit inside the grown box disqualifies the region,
	// whichever image and whichever plane carries it. EDGE matters in
	// particular: a previously convolved input arrives with EDGE bits
	// already set.
	for _, plane := range []string{"BAD", "SAT", "CR", "EDGE"} {
		for _, tc := range []struct {
			name    string
			markITC bool
		}{
			{"not-convolved image", false},
			{"convolved image", true},
		} {
			t.Run(plane+" in "+tc.name, func(t *testing.T) {
				itc, itnc := makePair(t, 64, 64)
				setBlob(itc, image.Rect(20, 20, 26, 26), 100.0)

				target := itnc
				if tc.markITC {
					target = itc
				}
				target.OrMask(18, 18, target.MaskPlaneMask(plane))

				fps, err := SelectFootprints(itc, itnc, selectCfg(1, 50.0, 20.0))
				if err != nil {
					t.Fatalf("SelectFootprints failed: %v", err)
				}
				if len(fps) != 0 {
					t.Fatalf("selected %d footprints, want 0 with %s pixel in box", len(fps), plane)
				}
			})
		}
	}
}

func TestSelectFootprintsIgnoresBadPixelsOutsideBox(t *testing.T) {
	itc, itnc := makePair(t, 64, 64)
	setBlob(itc, image.Rect(20, 20, 26, 26), 100.0)
	// Just outside the grown box of (17,17)-(29,29).
	itnc.OrMask(30, 30, itnc.MaskPlaneMask("BAD"))

	fps, err := SelectFootprints(itc, itnc, selectCfg(1, 50.0, 20.0))
	if err != nil {
		t.Fatalf("SelectFootprints failed: %v", err)
	}
	if len(fps) != 1 {
		t.Fatalf("selected %d footprints, want 1", len(fps))
	}
}

func TestSelectFootprintsRejectsEdgeRegions(t *testing.T) {
	itc, itnc := makePair(t, 64, 64)
	// Growing by 3 pushes this box past the origin; extraction fails
	// and the region is skipped.
	setBlob(itc, image.Rect(1, 1, 8, 8), 100.0)

	fps, err := SelectFootprints(itc, itnc, selectCfg(1, 50.0, 20.0))
	if err != nil {
		t.Fatalf("SelectFootprints failed: %v", err)
	}
	if len(fps) != 0 {
		t.Fatalf("selected %d footprints, want 0", len(fps))
	}
}

func TestSelectFootprintsNPixFilter(t *testing.T) {
	itc, itnc := makePair(t, 64, 64)
	// 4 pixels, below the configured minimum of 10.
	setBlob(itc, image.Rect(20, 20, 22, 22), 100.0)

	fps, err := SelectFootprints(itc, itnc, selectCfg(1, 50.0, 20.0))
	if err != nil {
		t.Fatalf("SelectFootprints failed: %v", err)
	}
	if len(fps) != 0 {
		t.Fatalf("selected %d footprints, want 0 (too small)", len(fps))
	}
}

func TestSelectFootprintsDimensionMismatch(t *testing.T) {
	itc := mustImage(t, 64, 64)
	itnc := mustImage(t, 64, 32)

	_, err := SelectFootprints(itc, itnc, EmptyTuningConfig())
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}
