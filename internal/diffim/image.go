// Package diffim implements the PSF-matching core of an image
// differencing pipeline: given two registered images of the same sky
// region, it finds a convolution kernel (a linear combination of fixed
// basis kernels) plus a differential background offset that maps one
// image onto the photometric and PSF scale of the other, so that
// subtracting the convolved image leaves only transients and noise.
package diffim

import (
	"fmt"
	"image"
)

// MaskPixel is one pixel of the quality-flag plane. Each bit is a named
// mask plane (BAD, SAT, EDGE, ...) registered on the image.
type MaskPixel uint16

// Default mask planes registered on every new MaskedImage. Callers may
// register additional planes with AddMaskPlane.
const (
	maskPlaneBad  = "BAD"
	maskPlaneSat  = "SAT"
	maskPlaneCR   = "CR"
	maskPlaneEdge = "EDGE"
)

// maskPlaneBits is the number of usable bits in a MaskPixel.
const maskPlaneBits = 16

// MaskedImage is a fixed-size 2D pixel grid with three co-registered
// planes: intensity, per-pixel variance, and a bitmask of quality flags.
// Pixels are addressed by (col, row) with (0,0) at the grid origin.
// The planes are stored as flat row-major slices.
//
// A MaskedImage is owned by its creator. Core operations read and write
// pixels in place but never take ownership or resize the grid.
type MaskedImage struct {
	width  int
	height int

	image    []float64
	variance []float64
	mask     []MaskPixel

	// planes maps mask-plane names to bit indices.
	planes map[string]uint
}

// NewMaskedImage allocates a zeroed width x height image with the
// default mask planes registered.
func NewMaskedImage(width, height int) (*MaskedImage, error) {
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("%w: image dimensions must be positive, got %dx%d",
			ErrInvalidArgument, width, height)
	}
	n := width * height
	return &MaskedImage{
		width:    width,
		height:   height,
		image:    make([]float64, n),
		variance: make([]float64, n),
		mask:     make([]MaskPixel, n),
		planes: map[string]uint{
			maskPlaneBad:  0,
			maskPlaneSat:  1,
			maskPlaneCR:   2,
			maskPlaneEdge: 3,
		},
	}, nil
}

// Width returns the number of columns.
func (mi *MaskedImage) Width() int { return mi.width }

// Height returns the number of rows.
func (mi *MaskedImage) Height() int { return mi.height }

// Bounds returns the pixel domain as a rectangle anchored at (0,0).
func (mi *MaskedImage) Bounds() image.Rectangle {
	return image.Rect(0, 0, mi.width, mi.height)
}

// idx maps (col, row) to the flat plane index.
func (mi *MaskedImage) idx(x, y int) int { return y*mi.width + x }

// At returns the intensity value at (x, y).
func (mi *MaskedImage) At(x, y int) float64 { return mi.image[mi.idx(x, y)] }

// Set writes the intensity value at (x, y).
func (mi *MaskedImage) Set(x, y int, v float64) { mi.image[mi.idx(x, y)] = v }

// VarianceAt returns the variance value at (x, y).
func (mi *MaskedImage) VarianceAt(x, y int) float64 { return mi.variance[mi.idx(x, y)] }

// SetVariance writes the variance value at (x, y).
func (mi *MaskedImage) SetVariance(x, y int, v float64) { mi.variance[mi.idx(x, y)] = v }

// MaskAt returns the mask bits at (x, y).
func (mi *MaskedImage) MaskAt(x, y int) MaskPixel { return mi.mask[mi.idx(x, y)] }

// SetMask writes the mask bits at (x, y).
func (mi *MaskedImage) SetMask(x, y int, m MaskPixel) { mi.mask[mi.idx(x, y)] = m }

// OrMask sets the given bits at (x, y), preserving bits already set.
func (mi *MaskedImage) OrMask(x, y int, m MaskPixel) { mi.mask[mi.idx(x, y)] |= m }

// MaskPlaneBit returns the bit index of a named mask plane.
func (mi *MaskedImage) MaskPlaneBit(name string) (uint, error) {
	bit, ok := mi.planes[name]
	if !ok {
		return 0, fmt.Errorf("%w: no mask plane named %q", ErrInvalidArgument, name)
	}
	return bit, nil
}

// MaskPlaneMask returns the bitmask (1 << bit) of a named mask plane,
// or zero if the plane is not registered. Matches the tolerant lookup
// the footprint selector uses for the BAD plane.
func (mi *MaskedImage) MaskPlaneMask(name string) MaskPixel {
	bit, ok := mi.planes[name]
	if !ok {
		return 0
	}
	return 1 << bit
}

// AddMaskPlane registers a new named mask plane and returns its bit
// index. Registering an existing name returns the existing bit.
func (mi *MaskedImage) AddMaskPlane(name string) (uint, error) {
	if bit, ok := mi.planes[name]; ok {
		return bit, nil
	}
	used := make([]bool, maskPlaneBits)
	for _, b := range mi.planes {
		used[b] = true
	}
	for b := uint(0); b < maskPlaneBits; b++ {
		if !used[b] {
			mi.planes[name] = b
			return b, nil
		}
	}
	return 0, fmt.Errorf("%w: no free mask plane bits for %q", ErrInvalidArgument, name)
}

// SubImage extracts a copy of the pixels inside bounds as a new
// MaskedImage sharing the parent's mask-plane registry (by copy).
// Extraction fails if bounds is empty or extends past the parent.
func (mi *MaskedImage) SubImage(bounds image.Rectangle) (*MaskedImage, error) {
	if bounds.Empty() || !bounds.In(mi.Bounds()) {
		return nil, fmt.Errorf("%w: bounds %v not inside image %v",
			ErrExtraction, bounds, mi.Bounds())
	}
	sub, err := NewMaskedImage(bounds.Dx(), bounds.Dy())
	if err != nil {
		return nil, err
	}
	sub.planes = make(map[string]uint, len(mi.planes))
	for name, bit := range mi.planes {
		sub.planes[name] = bit
	}
	for y := 0; y < sub.height; y++ {
		srcOff := mi.idx(bounds.Min.X, bounds.Min.Y+y)
		dstOff := sub.idx(0, y)
		copy(sub.image[dstOff:dstOff+sub.width], mi.image[srcOff:srcOff+sub.width])
		copy(sub.variance[dstOff:dstOff+sub.width], mi.variance[srcOff:srcOff+sub.width])
		copy(sub.mask[dstOff:dstOff+sub.width], mi.mask[srcOff:srcOff+sub.width])
	}
	return sub, nil
}

// Clone returns a deep copy of the image.
func (mi *MaskedImage) Clone() *MaskedImage {
	c := &MaskedImage{
		width:    mi.width,
		height:   mi.height,
		image:    append([]float64(nil), mi.image...),
		variance: append([]float64(nil), mi.variance...),
		mask:     append([]MaskPixel(nil), mi.mask...),
		planes:   make(map[string]uint, len(mi.planes)),
	}
	for name, bit := range mi.planes {
		c.planes[name] = bit
	}
	return c
}

// anyMaskBitsSet reports whether any pixel inside region (clipped to
// the image bounds) has one of the given mask bits set.
func (mi *MaskedImage) anyMaskBitsSet(region image.Rectangle, bits MaskPixel) bool {
	if bits == 0 {
		return false
	}
	r := region.Intersect(mi.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := mi.idx(r.Min.X, y)
		for x := 0; x < r.Dx(); x++ {
			if mi.mask[row+x]&bits != 0 {
				return true
			}
		}
	}
	return false
}

// sameDimensions reports whether two images share a pixel domain.
func sameDimensions(a, b *MaskedImage) bool {
	return a.width == b.width && a.height == b.height
}
