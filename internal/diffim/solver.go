package diffim

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/altair-data/diffim/internal/monitoring"
)

// dblEpsilon is the double-precision machine epsilon used for
// singular-value truncation, matching the pseudo-inverse convention of
// standard SVD least squares.
const dblEpsilon = 2.220446049250313e-16

// LinearSystem holds the normal equations M x = B for a PSF-matching
// fit: a symmetric (N+1)x(N+1) matrix and length-(N+1) vector, where N
// is the number of basis kernels and the final row/column carries the
// constant background parameter. Accumulation fills the upper triangle
// only; Mirror completes the matrix before solving.
//
// A LinearSystem is not safe for concurrent use; parallel region fits
// need one accumulator each.
type LinearSystem struct {
	nBasis  int
	nParams int
	m       *mat.Dense
	b       *mat.VecDense
}

// NewLinearSystem allocates a zeroed system for nBasis basis kernels
// plus one background parameter.
func NewLinearSystem(nBasis int) (*LinearSystem, error) {
	if nBasis < 1 {
		return nil, fmt.Errorf("%w: need at least one basis kernel, got %d",
			ErrInvalidArgument, nBasis)
	}
	n := nBasis + 1
	return &LinearSystem{
		nBasis:  nBasis,
		nParams: n,
		m:       mat.NewDense(n, n, nil),
		b:       mat.NewVecDense(n, nil),
	}, nil
}

// NParams returns the parameter count, basis kernels plus background.
func (ls *LinearSystem) NParams() int { return ls.nParams }

// MatrixAt returns M[i][j]; exposed for symmetry checks in tests and
// diagnostics.
func (ls *LinearSystem) MatrixAt(i, j int) float64 { return ls.m.At(i, j) }

// VectorAt returns B[i].
func (ls *LinearSystem) VectorAt(i int) float64 { return ls.b.AtVec(i) }

// Accumulate adds one pixel's contribution. basisValues holds the
// basis-convolved intensity at the pixel for each basis kernel, target
// the not-convolved image intensity, and weight the inverse variance.
// The accumulation order fixes the floating-point association order,
// so identical inputs reproduce bit-identical systems.
func (ls *LinearSystem) Accumulate(basisValues []float64, target, weight float64) {
	nB := ls.nBasis
	bg := ls.nParams - 1
	for i := 0; i < nB; i++ {
		ci := basisValues[i]
		for j := i; j < nB; j++ {
			ls.m.Set(i, j, ls.m.At(i, j)+ci*basisValues[j]*weight)
		}
		ls.b.SetVec(i, ls.b.AtVec(i)+target*ci*weight)
		// Constant background cross-term, effectively j = N.
		ls.m.Set(i, bg, ls.m.At(i, bg)+ci*weight)
	}
	// Background row, effectively i = N.
	ls.b.SetVec(bg, ls.b.AtVec(bg)+target*weight)
	ls.m.Set(bg, bg, ls.m.At(bg, bg)+1.0*weight)
}

// Mirror copies the accumulated upper triangle into the lower one; the
// normal equations are symmetric by construction.
func (ls *LinearSystem) Mirror() {
	for i := 0; i < ls.nParams; i++ {
		for j := i + 1; j < ls.nParams; j++ {
			ls.m.Set(j, i, ls.m.At(i, j))
		}
	}
}

// Solution is the result of solving a LinearSystem: the parameter
// vector (N kernel coefficients then the background), the diagonal of
// the solution covariance matrix, and the numerical rank after
// singular-value truncation.
type Solution struct {
	Coefficients []float64
	CovDiag      []float64
	Rank         int
}

// Solve computes the SVD pseudo-inverse solution of M x = B. Singular
// values at or below machine epsilon times the largest singular value
// are truncated to zero, so near-degenerate basis sets silently lose
// the corresponding degrees of freedom instead of producing garbage.
// Per-parameter variance estimates are the diagonal of the
// pseudo-inverse of M.
func (ls *LinearSystem) Solve() (*Solution, error) {
	n := ls.nParams

	var svd mat.SVD
	if ok := svd.Factorize(ls.m, mat.SVDFull); !ok {
		return nil, fmt.Errorf("%w: SVD of normal equations failed to converge", ErrNumerical)
	}

	s := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	tol := dblEpsilon * s[0]

	// utb = U^T B
	utb := make([]float64, n)
	for j := 0; j < n; j++ {
		sum := 0.0
		for i := 0; i < n; i++ {
			sum += u.At(i, j) * ls.b.AtVec(i)
		}
		utb[j] = sum
	}

	sol := &Solution{
		Coefficients: make([]float64, n),
		CovDiag:      make([]float64, n),
	}
	for j := 0; j < n; j++ {
		if s[j] <= tol {
			continue
		}
		sol.Rank++
		inv := 1.0 / s[j]
		for i := 0; i < n; i++ {
			sol.Coefficients[i] += v.At(i, j) * utb[j] * inv
			// diag(M+) = sum over kept j of V[i,j] * U[i,j] / s[j]
			sol.CovDiag[i] += v.At(i, j) * u.At(i, j) * inv
		}
	}
	return sol, nil
}

// BuildLinearSystem accumulates the normal equations from the valid
// interior of the pixel domain. basisImages are the basis-convolved
// images (one per basis kernel), kernel supplies the support bounds
// that define the interior, imageToNotConvolve supplies the fit
// targets and varianceImage the inverse-variance weights.
//
// good, when non-nil, is a bad-pixel predicate: pixels for which it
// returns false are skipped. The footprint-driven path passes nil
// because regions are already clean when they reach the solver.
func BuildLinearSystem(
	imageToNotConvolve, varianceImage *MaskedImage,
	basisImages []*MaskedImage,
	kernel Kernel,
	good func(x, y int) bool,
) (*LinearSystem, error) {
	if len(basisImages) == 0 {
		return nil, fmt.Errorf("%w: empty basis image list", ErrInvalidArgument)
	}
	for i, bi := range basisImages {
		if !sameDimensions(bi, imageToNotConvolve) {
			return nil, fmt.Errorf("%w: basis image %d is %dx%d, want %dx%d",
				ErrInvalidArgument, i, bi.width, bi.height,
				imageToNotConvolve.width, imageToNotConvolve.height)
		}
	}
	if !sameDimensions(varianceImage, imageToNotConvolve) {
		return nil, fmt.Errorf("%w: variance image is %dx%d, want %dx%d",
			ErrInvalidArgument, varianceImage.width, varianceImage.height,
			imageToNotConvolve.width, imageToNotConvolve.height)
	}

	ls, err := NewLinearSystem(len(basisImages))
	if err != nil {
		return nil, err
	}

	startCol, startRow, endCol, endRow := validInterior(
		imageToNotConvolve.width, imageToNotConvolve.height, kernel)

	basisValues := make([]float64, len(basisImages))
	for row := startRow; row < endRow; row++ {
		for col := startCol; col < endCol; col++ {
			if good != nil && !good(col, row) {
				continue
			}
			weight := 1.0 / varianceImage.VarianceAt(col, row)
			for i, bi := range basisImages {
				basisValues[i] = bi.At(col, row)
			}
			ls.Accumulate(basisValues, imageToNotConvolve.At(col, row), weight)
		}
	}
	return ls, nil
}

// PSFMatchResult is one region's solved PSF-matching model: the fitted
// kernel, an uncertainty kernel holding per-pixel coefficient errors,
// and the differential background with its error.
type PSFMatchResult struct {
	Kernel            *LinearCombinationKernel
	KernelUncertainty *LinearCombinationKernel
	Background        float64
	BackgroundErr     float64
	Rank              int
}

// ComputePSFMatchingKernel fits the convolution kernel and background
// offset that map imageToConvolve onto imageToNotConvolve over the
// shared pixel domain, by weighted linear least squares in the
// Alard-Lupton formalism. The three images must share dimensions and
// the basis kernels must be non-empty and equal-sized.
//
// Each basis kernel is convolved with imageToConvolve exactly once per
// call; basis convolutions are recomputed rather than cached across
// regions.
func ComputePSFMatchingKernel(
	imageToConvolve, imageToNotConvolve, varianceImage *MaskedImage,
	basis []Kernel,
) (*PSFMatchResult, error) {
	if len(basis) == 0 {
		return nil, fmt.Errorf("%w: empty basis kernel list", ErrInvalidArgument)
	}
	kw, kh := basis[0].Dimensions()
	for i, k := range basis[1:] {
		w, h := k.Dimensions()
		if w != kw || h != kh {
			return nil, fmt.Errorf("%w: basis kernel %d is %dx%d, want %dx%d",
				ErrInvalidArgument, i+1, w, h, kw, kh)
		}
	}
	if !sameDimensions(imageToConvolve, imageToNotConvolve) ||
		!sameDimensions(imageToConvolve, varianceImage) {
		return nil, fmt.Errorf("%w: input images do not share dimensions", ErrInvalidArgument)
	}

	edgeBit, err := imageToConvolve.MaskPlaneBit(maskPlaneEdge)
	if err != nil {
		return nil, err
	}

	timer := monitoring.StartTimer("diffim: psf-matching fit")

	// One basis-convolved image per basis kernel.
	basisImages := make([]*MaskedImage, len(basis))
	for i, k := range basis {
		ci, err := NewMaskedImage(imageToConvolve.width, imageToConvolve.height)
		if err != nil {
			return nil, err
		}
		if err := Convolve(ci, imageToConvolve, k, false, edgeBit); err != nil {
			return nil, err
		}
		basisImages[i] = ci
	}

	ls, err := BuildLinearSystem(imageToNotConvolve, varianceImage, basisImages, basis[0], nil)
	if err != nil {
		return nil, err
	}
	ls.Mirror()
	timer.Checkpoint("accumulation")

	sol, err := ls.Solve()
	if err != nil {
		return nil, err
	}
	timer.Stop()

	return assembleSolution(basis, sol)
}

// assembleSolution validates a solved parameter vector and translates
// it back into kernel objects. Any NaN coefficient or covariance
// entry, or any negative covariance entry, makes the fit unusable and
// is reported as a numerical error rather than silently clamped.
func assembleSolution(basis []Kernel, sol *Solution) (*PSFMatchResult, error) {
	n := len(basis)
	if len(sol.Coefficients) != n+1 || len(sol.CovDiag) != n+1 {
		return nil, fmt.Errorf("%w: solution has %d parameters, want %d",
			ErrInvalidArgument, len(sol.Coefficients), n+1)
	}

	kValues := make([]float64, n)
	kErrValues := make([]float64, n)
	for idx := 0; idx < n; idx++ {
		if math.IsNaN(sol.Coefficients[idx]) {
			return nil, fmt.Errorf("%w: unable to determine kernel solution (nan)", ErrNumerical)
		}
		if math.IsNaN(sol.CovDiag[idx]) {
			return nil, fmt.Errorf("%w: unable to determine kernel uncertainty (nan)", ErrNumerical)
		}
		if sol.CovDiag[idx] < 0.0 {
			return nil, fmt.Errorf("%w: unable to determine kernel uncertainty, negative variance (%.3e)",
				ErrNumerical, sol.CovDiag[idx])
		}
		kValues[idx] = sol.Coefficients[idx]
		kErrValues[idx] = math.Sqrt(sol.CovDiag[idx])
	}

	if math.IsNaN(sol.Coefficients[n]) {
		return nil, fmt.Errorf("%w: unable to determine background (nan)", ErrNumerical)
	}
	if math.IsNaN(sol.CovDiag[n]) {
		return nil, fmt.Errorf("%w: unable to determine background uncertainty (nan)", ErrNumerical)
	}
	if sol.CovDiag[n] < 0.0 {
		return nil, fmt.Errorf("%w: unable to determine background uncertainty, negative variance (%.3e)",
			ErrNumerical, sol.CovDiag[n])
	}

	kernel, err := NewLinearCombinationKernel(basis, kValues)
	if err != nil {
		return nil, err
	}
	kernelErr, err := NewLinearCombinationKernel(basis, kErrValues)
	if err != nil {
		return nil, err
	}

	return &PSFMatchResult{
		Kernel:            kernel,
		KernelUncertainty: kernelErr,
		Background:        sol.Coefficients[n],
		BackgroundErr:     math.Sqrt(sol.CovDiag[n]),
		Rank:              sol.Rank,
	}, nil
}
