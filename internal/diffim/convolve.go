package diffim

import "fmt"

// BackgroundModel supplies the additive background at a pixel position.
// A constant offset and a smooth 2D function are both models; the
// convolve-and-subtract step is parameterized over this instead of
// carrying one overload per combination.
type BackgroundModel interface {
	// BackgroundAt returns the background level at pixel position (x, y).
	BackgroundAt(x, y float64) float64
}

// ConstantBackground is a spatially constant background offset.
type ConstantBackground float64

func (b ConstantBackground) BackgroundAt(_, _ float64) float64 { return float64(b) }

// BackgroundFunc adapts a plain function into a BackgroundModel.
type BackgroundFunc func(x, y float64) float64

func (f BackgroundFunc) BackgroundAt(x, y float64) float64 { return f(x, y) }

// validInterior returns the half-open interior rectangle of pixels a
// kernel can be fully evaluated on. For a kernel of width w and center
// c the first usable column is c and the exclusive end column is
// width-(w-c)+1; this off-by-one-to-the-outside bound matches the
// convolution edge-handling convention and rows work the same way.
func validInterior(imgWidth, imgHeight int, k Kernel) (startCol, startRow, endCol, endRow int) {
	kw, kh := k.Dimensions()
	ctrX, ctrY := k.Center()
	startCol = ctrX
	startRow = ctrY
	endCol = imgWidth - (kw - ctrX) + 1
	endRow = imgHeight - (kh - ctrY) + 1
	return
}

// kernelWeights materializes a kernel into a row-major weight slice,
// optionally normalized to unit sum.
func kernelWeights(k Kernel, normalize bool) ([]float64, error) {
	kw, kh := k.Dimensions()
	w := make([]float64, kw*kh)
	sum := 0.0
	for y := 0; y < kh; y++ {
		for x := 0; x < kw; x++ {
			v := k.At(x, y)
			w[y*kw+x] = v
			sum += v
		}
	}
	if normalize {
		if sum == 0 {
			return nil, fmt.Errorf("%w: cannot normalize kernel with zero sum", ErrNumerical)
		}
		for i := range w {
			w[i] /= sum
		}
	}
	return w, nil
}

// Convolve convolves src with the kernel into dst, which must share
// src's dimensions. Interior pixels get the weighted sum of intensity,
// the weight-squared sum of variance, and the OR of the mask bits over
// the kernel support. Pixels outside the valid interior copy through
// from src and get the edge bit set in their mask.
func Convolve(dst, src *MaskedImage, k Kernel, normalize bool, edgeBit uint) error {
	if !sameDimensions(dst, src) {
		return fmt.Errorf("%w: convolution dst %dx%d does not match src %dx%d",
			ErrInvalidArgument, dst.width, dst.height, src.width, src.height)
	}
	kw, kh := k.Dimensions()
	if kw > src.width || kh > src.height {
		return fmt.Errorf("%w: kernel %dx%d larger than image %dx%d",
			ErrInvalidArgument, kw, kh, src.width, src.height)
	}
	weights, err := kernelWeights(k, normalize)
	if err != nil {
		return err
	}

	ctrX, ctrY := k.Center()
	startCol, startRow, endCol, endRow := validInterior(src.width, src.height, k)
	edgeMask := MaskPixel(1) << edgeBit

	for y := 0; y < src.height; y++ {
		for x := 0; x < src.width; x++ {
			if y < startRow || y >= endRow || x < startCol || x >= endCol {
				i := src.idx(x, y)
				dst.image[i] = src.image[i]
				dst.variance[i] = src.variance[i]
				dst.mask[i] = src.mask[i] | edgeMask
				continue
			}
			var sum, varSum float64
			var bits MaskPixel
			for ky := 0; ky < kh; ky++ {
				srcRow := src.idx(x-ctrX, y-ctrY+ky)
				wRow := ky * kw
				for kx := 0; kx < kw; kx++ {
					w := weights[wRow+kx]
					sum += w * src.image[srcRow+kx]
					varSum += w * w * src.variance[srcRow+kx]
					bits |= src.mask[srcRow+kx]
				}
			}
			i := dst.idx(x, y)
			dst.image[i] = sum
			dst.variance[i] = varSum
			dst.mask[i] = bits
		}
	}
	return nil
}

// AddBackground adds a background model to the intensity plane in
// place, evaluated at every pixel position.
func AddBackground(img *MaskedImage, bg BackgroundModel) {
	for y := 0; y < img.height; y++ {
		for x := 0; x < img.width; x++ {
			img.image[img.idx(x, y)] += bg.BackgroundAt(float64(x), float64(y))
		}
	}
}

// ConvolveAndSubtract performs the fundamental difference-imaging step
//
//	D = imageToNotConvolve - (imageToConvolve x kernel + background)
//
// returning D with the sign convention already applied. The edge bit
// written by the convolution is looked up from the EDGE mask plane of
// the image being convolved. Variance planes add and mask planes OR
// through the subtraction.
func ConvolveAndSubtract(
	imageToConvolve, imageToNotConvolve *MaskedImage,
	k Kernel,
	background BackgroundModel,
) (*MaskedImage, error) {
	if !sameDimensions(imageToConvolve, imageToNotConvolve) {
		return nil, fmt.Errorf("%w: image dimensions differ, %dx%d vs %dx%d",
			ErrInvalidArgument,
			imageToConvolve.width, imageToConvolve.height,
			imageToNotConvolve.width, imageToNotConvolve.height)
	}
	edgeBit, err := imageToConvolve.MaskPlaneBit(maskPlaneEdge)
	if err != nil {
		return nil, err
	}

	diff, err := NewMaskedImage(imageToConvolve.width, imageToConvolve.height)
	if err != nil {
		return nil, err
	}
	diff.planes = make(map[string]uint, len(imageToConvolve.planes))
	for name, bit := range imageToConvolve.planes {
		diff.planes[name] = bit
	}
	if err := Convolve(diff, imageToConvolve, k, false, edgeBit); err != nil {
		return nil, err
	}

	AddBackground(diff, background)

	// diff = -(convolved + bg - imageToNotConvolve)
	for i := range diff.image {
		diff.image[i] = imageToNotConvolve.image[i] - diff.image[i]
		diff.variance[i] += imageToNotConvolve.variance[i]
		diff.mask[i] |= imageToNotConvolve.mask[i]
	}
	return diff, nil
}
