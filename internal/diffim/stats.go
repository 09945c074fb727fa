package diffim

import "math"

// ResidualStatistics computes the count, mean and unbiased variance of
// the noise-normalized residuals (pixel / sqrt(pixel variance)) over
// all pixels whose mask does not overlap badMask. A difference image
// of pure noise should come out approximately normal(0,1).
//
// The mean is NaN when no pixels qualify; the Bessel-corrected
// variance is NaN when fewer than two do.
func ResidualStatistics(img *MaskedImage, badMask MaskPixel) (nGood int, mean, variance float64) {
	return residualStatistics(img, func(m MaskPixel) bool { return m&badMask == 0 })
}

// ResidualStatisticsStrict is ResidualStatistics with the strictest
// exclusion: only pixels whose mask is exactly zero participate.
func ResidualStatisticsStrict(img *MaskedImage) (nGood int, mean, variance float64) {
	return residualStatistics(img, func(m MaskPixel) bool { return m == 0 })
}

func residualStatistics(img *MaskedImage, goodMask func(MaskPixel) bool) (int, float64, float64) {
	var xSum, x2Sum float64
	nGood := 0

	for y := 0; y < img.height; y++ {
		row := img.idx(0, y)
		for x := 0; x < img.width; x++ {
			if !goodMask(img.mask[row+x]) {
				continue
			}
			v := img.image[row+x]
			vr := img.variance[row+x]
			xSum += v / math.Sqrt(vr)
			x2Sum += v * v / vr
			nGood++
		}
	}

	mean := math.NaN()
	if nGood > 0 {
		mean = xSum / float64(nGood)
	}
	variance := math.NaN()
	if nGood > 1 {
		variance = x2Sum/float64(nGood) - mean*mean
		variance *= float64(nGood) / float64(nGood-1)
	}
	return nGood, mean, variance
}

// DifferenceImageStatistics scores the quality of a produced
// difference image from its noise-normalized residual distribution.
type DifferenceImageStatistics struct {
	NGood        int
	ResidualMean float64
	ResidualStd  float64
}

// NewDifferenceImageStatistics computes statistics over a difference
// image, excluding any pixel with mask bits set.
func NewDifferenceImageStatistics(diff *MaskedImage) DifferenceImageStatistics {
	nGood, mean, variance := ResidualStatisticsStrict(diff)
	return DifferenceImageStatistics{
		NGood:        nGood,
		ResidualMean: mean,
		ResidualStd:  math.Sqrt(variance),
	}
}

// EvaluateQuality reports whether the residual distribution is within
// the configured limits on |mean| and |stddev|. NaN statistics never
// pass.
func (s DifferenceImageStatistics) EvaluateQuality(cfg *TuningConfig) bool {
	if math.Abs(s.ResidualMean) > cfg.GetMaxResidualMean() {
		return false
	}
	if math.Abs(s.ResidualStd) > cfg.GetMaxResidualStd() {
		return false
	}
	// Abs(NaN) > x is false, so catch the degenerate cases explicitly.
	if math.IsNaN(s.ResidualMean) || math.IsNaN(s.ResidualStd) {
		return false
	}
	return true
}
