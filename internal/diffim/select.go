package diffim

import (
	"fmt"

	"github.com/altair-data/diffim/internal/monitoring"
)

// SelectFootprints searches imageToConvolve for clean candidate
// regions to build PSF-matching kernels around. Detection runs on
// imageToConvolve (assumed the higher-signal image); candidates below
// the minimum pixel count are dropped, survivors are grown and then
// rejected if either image carries any set mask bit inside the grown
// box (BAD, SAT, CR, EDGE, anything registered) or if the box cannot
// be extracted as a subimage.
//
// If a pass yields fewer than the configured minimum of clean regions,
// the detection threshold is scaled down and the search repeats from
// scratch until the minimum count is reached or the threshold floor is
// hit. A final yield below the minimum is a normal outcome, not an
// error; the caller decides what to do with it.
func SelectFootprints(imageToConvolve, imageToNotConvolve *MaskedImage, cfg *TuningConfig) ([]*Footprint, error) {
	if !sameDimensions(imageToConvolve, imageToNotConvolve) {
		return nil, fmt.Errorf("%w: image dimensions differ, %dx%d vs %dx%d",
			ErrInvalidArgument,
			imageToConvolve.width, imageToConvolve.height,
			imageToNotConvolve.width, imageToNotConvolve.height)
	}

	npixMin := cfg.GetFootprintNPixMin()
	growPix := cfg.GetFootprintGrowPixels()
	minClean := cfg.GetMinCleanFootprints()
	threshold := cfg.GetDetectionThreshold()
	scaling := cfg.GetDetectionThresholdScaling()
	minThreshold := cfg.GetMinDetectionThreshold()

	// A kernel fit has no per-pixel exclusion, so any flagged pixel in
	// the grown box poisons the whole region. Every mask bit counts,
	// not just BAD: an EDGE bit from an earlier convolution is just as
	// disqualifying as a saturated pixel.
	const exclusionBits = ^MaskPixel(0)

	var clean []*Footprint
	nClean := 0
	lastThreshold := threshold

	for nClean < minClean && threshold > minThreshold {
		// Fresh accumulators every pass; nothing carries over.
		clean = clean[:0]
		nClean = 0
		lastThreshold = threshold

		candidates := DetectFootprints(imageToConvolve, threshold)
		monitoring.Logf("diffim: found %d total footprints above threshold %.3f",
			len(candidates), threshold)

		for _, fp := range candidates {
			if fp.NPix() < npixMin {
				continue
			}

			grown := fp.Grow(growPix)

			if imageToConvolve.anyMaskBitsSet(grown.BBox(), exclusionBits) {
				continue
			}
			if imageToNotConvolve.anyMaskBitsSet(grown.BBox(), exclusionBits) {
				continue
			}

			// Check both images extract cleanly; failure means the
			// region is too close to an edge and is skipped, never
			// propagated.
			if _, err := imageToConvolve.SubImage(grown.BBox()); err != nil {
				monitoring.Logf("diffim: skipping footprint %v: %v", grown.BBox(), err)
				continue
			}
			if _, err := imageToNotConvolve.SubImage(grown.BBox()); err != nil {
				monitoring.Logf("diffim: skipping footprint %v: %v", grown.BBox(), err)
				continue
			}

			clean = append(clean, grown)
			nClean++
		}

		threshold *= scaling
	}

	monitoring.Logf("diffim: selected %d clean footprints at threshold %.3f",
		len(clean), lastThreshold)
	return clean, nil
}
