package diffim

import "errors"

// Error categories returned by the core. Callers discriminate with
// errors.Is; every returned error wraps exactly one of these.
var (
	// ErrInvalidArgument indicates structurally bad input: non-positive
	// dimensions, mismatched image sizes, an empty basis list.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotImplemented indicates a named strategy that is declared but
	// not yet supported, such as the Alard-Lupton basis generator.
	ErrNotImplemented = errors.New("not implemented")

	// ErrNumerical indicates an unusable fit: a NaN coefficient or
	// covariance entry, or a negative variance estimate from an
	// ill-conditioned system. The fit for the current region must be
	// discarded; callers fitting many regions should catch per region
	// and continue.
	ErrNumerical = errors.New("numerical error")

	// ErrExtraction indicates a sub-image could not be extracted, e.g.
	// a candidate region's bounding box extends past the image. The
	// footprint selector contains this error and skips the region.
	ErrExtraction = errors.New("subimage extraction failed")
)
