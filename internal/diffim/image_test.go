package diffim

import (
	"errors"
	"image"
	"testing"
)

// mustImage builds a zeroed image or fails the test.
func mustImage(t *testing.T, width, height int) *MaskedImage {
	t.Helper()
	mi, err := NewMaskedImage(width, height)
	if err != nil {
		t.Fatalf("NewMaskedImage(%d,%d) failed: %v", width, height, err)
	}
	return mi
}

// fillConstant sets the intensity and variance planes to fixed values.
func fillConstant(mi *MaskedImage, value, variance float64) {
	for y := 0; y < mi.Height(); y++ {
		for x := 0; x < mi.Width(); x++ {
			mi.Set(x, y, value)
			mi.SetVariance(x, y, variance)
		}
	}
}

// fillRamp sets intensity to a smooth plane and variance to 1. The exact
// form doesn't matter; it just has to vary across the image.
func fillRamp(mi *MaskedImage) {
	for y := 0; y < mi.Height(); y++ {
		for x := 0; x < mi.Width(); x++ {
			mi.Set(x, y, 10.0+float64(x)+0.5*float64(y))
			mi.SetVariance(x, y, 1.0)
		}
	}
}

func TestNewMaskedImageInvalidDims(t *testing.T) {
	for _, dims := range [][2]int{{0, 4}, {4, 0}, {-1, 4}} {
		_, err := NewMaskedImage(dims[0], dims[1])
		if !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("NewMaskedImage(%d,%d): expected ErrInvalidArgument, got %v",
				dims[0], dims[1], err)
		}
	}
}

func TestMaskedImagePixelAccess(t *testing.T) {
	mi := mustImage(t, 4, 3)

	mi.Set(2, 1, 42.5)
	mi.SetVariance(2, 1, 2.0)
	mi.SetMask(2, 1, 0b101)
	mi.OrMask(2, 1, 0b010)

	if got := mi.At(2, 1); got != 42.5 {
		t.Fatalf("At(2,1) = %v, want 42.5", got)
	}
	if got := mi.VarianceAt(2, 1); got != 2.0 {
		t.Fatalf("VarianceAt(2,1) = %v, want 2.0", got)
	}
	if got := mi.MaskAt(2, 1); got != 0b111 {
		t.Fatalf("MaskAt(2,1) = %b, want 111", got)
	}
	// Neighbors untouched.
	if mi.At(1, 1) != 0 || mi.MaskAt(3, 1) != 0 {
		t.Fatal("writes leaked into neighboring pixels")
	}
}

func TestMaskPlaneRegistry(t *testing.T) {
	mi := mustImage(t, 2, 2)

	bit, err := mi.MaskPlaneBit("EDGE")
	if err != nil {
		t.Fatalf("MaskPlaneBit(EDGE) failed: %v", err)
	}
	if bit != 3 {
		t.Fatalf("EDGE bit = %d, want 3", bit)
	}

	if _, err := mi.MaskPlaneBit("NOPE"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("unknown plane: expected ErrInvalidArgument, got %v", err)
	}
	if got := mi.MaskPlaneMask("NOPE"); got != 0 {
		t.Fatalf("MaskPlaneMask(NOPE) = %b, want 0", got)
	}
	if got := mi.MaskPlaneMask("BAD"); got != 1 {
		t.Fatalf("MaskPlaneMask(BAD) = %b, want 1", got)
	}

	newBit, err := mi.AddMaskPlane("INTRP")
	if err != nil {
		t.Fatalf("AddMaskPlane failed: %v", err)
	}
	if newBit != 4 {
		t.Fatalf("INTRP bit = %d, want 4 (first free)", newBit)
	}
	// Re-registering returns the existing bit.
	again, err := mi.AddMaskPlane("INTRP")
	if err != nil || again != newBit {
		t.Fatalf("AddMaskPlane(INTRP) again = %d, %v; want %d, nil", again, err, newBit)
	}
}

func TestSubImageCopies(t *testing.T) {
	mi := mustImage(t, 10, 10)
	fillRamp(mi)
	mi.SetMask(5, 5, 0b10)

	sub, err := mi.SubImage(image.Rect(4, 4, 8, 8))
	if err != nil {
		t.Fatalf("SubImage failed: %v", err)
	}
	if sub.Width() != 4 || sub.Height() != 4 {
		t.Fatalf("subimage is %dx%d, want 4x4", sub.Width(), sub.Height())
	}
	if got, want := sub.At(0, 0), mi.At(4, 4); got != want {
		t.Fatalf("sub.At(0,0) = %v, want parent value %v", got, want)
	}
	if got := sub.MaskAt(1, 1); got != 0b10 {
		t.Fatalf("sub.MaskAt(1,1) = %b, want 10", got)
	}

	// The copy is independent of the parent.
	sub.Set(0, 0, -1)
	if mi.At(4, 4) == -1 {
		t.Fatal("mutating subimage changed the parent")
	}

	// Plane registry carries over.
	if got := sub.MaskPlaneMask("EDGE"); got != 1<<3 {
		t.Fatalf("sub EDGE mask = %b, want %b", got, 1<<3)
	}
}

func TestSubImageExtractionFailure(t *testing.T) {
	mi := mustImage(t, 10, 10)

	cases := []image.Rectangle{
		image.Rect(-1, 0, 4, 4),   // past the left edge
		image.Rect(6, 6, 12, 12),  // past the bottom-right corner
		image.Rect(3, 3, 3, 8),    // empty
		image.Rect(0, -2, 10, 10), // past the top edge
	}
	for _, bounds := range cases {
		if _, err := mi.SubImage(bounds); !errors.Is(err, ErrExtraction) {
			t.Fatalf("SubImage(%v): expected ErrExtraction, got %v", bounds, err)
		}
	}

	// The full bounds are a valid extraction.
	if _, err := mi.SubImage(mi.Bounds()); err != nil {
		t.Fatalf("SubImage(full bounds) failed: %v", err)
	}
}

func TestClone(t *testing.T) {
	mi := mustImage(t, 3, 3)
	fillRamp(mi)
	mi.OrMask(1, 1, 0b100)

	c := mi.Clone()
	if !sameDimensions(c, mi) {
		t.Fatal("clone dimensions differ")
	}
	if c.At(2, 2) != mi.At(2, 2) || c.MaskAt(1, 1) != mi.MaskAt(1, 1) {
		t.Fatal("clone pixel values differ")
	}

	c.Set(0, 0, 999)
	c.OrMask(0, 0, 1)
	if mi.At(0, 0) == 999 || mi.MaskAt(0, 0) != 0 {
		t.Fatal("mutating clone changed the original")
	}
}

func TestAnyMaskBitsSet(t *testing.T) {
	mi := mustImage(t, 10, 10)
	mi.OrMask(5, 5, 0b01)

	if !mi.anyMaskBitsSet(image.Rect(4, 4, 7, 7), 0b01) {
		t.Fatal("expected bit found inside region")
	}
	if mi.anyMaskBitsSet(image.Rect(0, 0, 5, 5), 0b01) {
		t.Fatal("expected no bit outside region")
	}
	if mi.anyMaskBitsSet(image.Rect(4, 4, 7, 7), 0b10) {
		t.Fatal("expected no match for a different bit")
	}
	// A zero query mask never matches.
	if mi.anyMaskBitsSet(mi.Bounds(), 0) {
		t.Fatal("zero bits must never match")
	}
	// Regions hanging off the image are clipped, not an error.
	if !mi.anyMaskBitsSet(image.Rect(-5, -5, 6, 6), 0b01) {
		t.Fatal("expected bit found in clipped region")
	}
}
