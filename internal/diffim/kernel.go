package diffim

import "fmt"

// Kernel is a 2D weight stencil with an explicit center pixel defining
// its support footprint. Weights are addressed in kernel-local pixel
// coordinates: (0,0) is the top-left of the stencil.
type Kernel interface {
	// Dimensions returns the stencil width and height.
	Dimensions() (width, height int)
	// Center returns the center pixel in kernel-local coordinates.
	Center() (x, y int)
	// At returns the weight at kernel-local (x, y).
	At(x, y int) float64
}

// kernelCenter is the default center convention: ((w-1)/2, (h-1)/2).
func kernelCenter(width, height int) (int, int) {
	return (width - 1) / 2, (height - 1) / 2
}

// FixedKernel is an immutable stencil with explicit per-pixel weights.
type FixedKernel struct {
	width, height int
	ctrX, ctrY    int
	weights       []float64 // row-major
}

// NewFixedKernel builds a kernel from row-major weights.
func NewFixedKernel(width, height int, weights []float64) (*FixedKernel, error) {
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("%w: kernel dimensions must be positive, got %dx%d",
			ErrInvalidArgument, width, height)
	}
	if len(weights) != width*height {
		return nil, fmt.Errorf("%w: kernel %dx%d needs %d weights, got %d",
			ErrInvalidArgument, width, height, width*height, len(weights))
	}
	ctrX, ctrY := kernelCenter(width, height)
	return &FixedKernel{
		width:   width,
		height:  height,
		ctrX:    ctrX,
		ctrY:    ctrY,
		weights: append([]float64(nil), weights...),
	}, nil
}

func (k *FixedKernel) Dimensions() (int, int) { return k.width, k.height }
func (k *FixedKernel) Center() (int, int)     { return k.ctrX, k.ctrY }
func (k *FixedKernel) At(x, y int) float64    { return k.weights[y*k.width+x] }

// DeltaFunctionKernel has a single pixel valued 1.0 and the rest 0.0.
type DeltaFunctionKernel struct {
	width, height int
	pixelX        int
	pixelY        int
}

// NewDeltaFunctionKernel builds a delta-function kernel with the unit
// pixel at kernel-local (x, y).
func NewDeltaFunctionKernel(width, height, x, y int) (*DeltaFunctionKernel, error) {
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("%w: kernel dimensions must be positive, got %dx%d",
			ErrInvalidArgument, width, height)
	}
	if x < 0 || x >= width || y < 0 || y >= height {
		return nil, fmt.Errorf("%w: delta pixel (%d,%d) outside %dx%d kernel",
			ErrInvalidArgument, x, y, width, height)
	}
	return &DeltaFunctionKernel{width: width, height: height, pixelX: x, pixelY: y}, nil
}

func (k *DeltaFunctionKernel) Dimensions() (int, int) { return k.width, k.height }

func (k *DeltaFunctionKernel) Center() (int, int) {
	return kernelCenter(k.width, k.height)
}

func (k *DeltaFunctionKernel) At(x, y int) float64 {
	if x == k.pixelX && y == k.pixelY {
		return 1.0
	}
	return 0.0
}

// Pixel returns the location of the unit pixel.
func (k *DeltaFunctionKernel) Pixel() (int, int) { return k.pixelX, k.pixelY }

// LinearCombinationKernel is an ordered list of basis kernels plus one
// coefficient per basis, evaluated as their weighted sum. The basis
// list is shared read-only; a solved PSF-matching kernel is one of
// these with the fitted coefficients.
type LinearCombinationKernel struct {
	width, height int
	basis         []Kernel
	coeffs        []float64
}

// NewLinearCombinationKernel builds a kernel from a non-empty basis
// list of equal dimensions and one coefficient per basis.
func NewLinearCombinationKernel(basis []Kernel, coeffs []float64) (*LinearCombinationKernel, error) {
	if len(basis) == 0 {
		return nil, fmt.Errorf("%w: empty basis kernel list", ErrInvalidArgument)
	}
	if len(coeffs) != len(basis) {
		return nil, fmt.Errorf("%w: %d basis kernels but %d coefficients",
			ErrInvalidArgument, len(basis), len(coeffs))
	}
	w, h := basis[0].Dimensions()
	for i, k := range basis[1:] {
		kw, kh := k.Dimensions()
		if kw != w || kh != h {
			return nil, fmt.Errorf("%w: basis kernel %d is %dx%d, want %dx%d",
				ErrInvalidArgument, i+1, kw, kh, w, h)
		}
	}
	return &LinearCombinationKernel{
		width:  w,
		height: h,
		basis:  basis,
		coeffs: append([]float64(nil), coeffs...),
	}, nil
}

func (k *LinearCombinationKernel) Dimensions() (int, int) { return k.width, k.height }

func (k *LinearCombinationKernel) Center() (int, int) {
	return kernelCenter(k.width, k.height)
}

func (k *LinearCombinationKernel) At(x, y int) float64 {
	sum := 0.0
	for i, b := range k.basis {
		sum += k.coeffs[i] * b.At(x, y)
	}
	return sum
}

// Coefficients returns a copy of the per-basis coefficients.
func (k *LinearCombinationKernel) Coefficients() []float64 {
	return append([]float64(nil), k.coeffs...)
}

// NBasis returns the number of basis kernels.
func (k *LinearCombinationKernel) NBasis() int { return len(k.basis) }

// Sum returns the sum of all kernel weights, the photometric scaling
// the kernel applies to a convolved image.
func (k *LinearCombinationKernel) Sum() float64 {
	sum := 0.0
	for y := 0; y < k.height; y++ {
		for x := 0; x < k.width; x++ {
			sum += k.At(x, y)
		}
	}
	return sum
}

// DeltaFunctionBasis generates the delta-function basis set: width x
// height kernels, each with a unique pixel set to 1.0, covering every
// kernel position exactly once in row-major order.
func DeltaFunctionBasis(width, height int) ([]Kernel, error) {
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("%w: basis dimensions must be positive, got %dx%d",
			ErrInvalidArgument, width, height)
	}
	basis := make([]Kernel, 0, width*height)
	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			k, err := NewDeltaFunctionKernel(width, height, col, row)
			if err != nil {
				return nil, err
			}
			basis = append(basis, k)
		}
	}
	return basis, nil
}

// AlardLuptonBasis generates a Gaussian-times-polynomial basis set in
// the manner of Alard & Lupton. Arguments are the kernel dimensions,
// the Gaussian widths and the polynomial degree per Gaussian.
//
// Not yet supported; validation of the dimensions happens first so
// misuse is still reported as such.
func AlardLuptonBasis(width, height int, sigGauss, degGauss []float64) ([]Kernel, error) {
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("%w: basis dimensions must be positive, got %dx%d",
			ErrInvalidArgument, width, height)
	}
	return nil, fmt.Errorf("%w: Alard-Lupton basis generation", ErrNotImplemented)
}
