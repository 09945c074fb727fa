package diffim

import "image"

// Footprint is a candidate region for kernel fitting: a connected set
// of above-threshold pixels, reduced here to its pixel count and
// enclosing bounding box. After growing, the footprint is treated as
// its bounding box.
type Footprint struct {
	npix int
	bbox image.Rectangle
}

// NPix returns the number of pixels attributed to the footprint.
func (f *Footprint) NPix() int { return f.npix }

// BBox returns the enclosing bounding box.
func (f *Footprint) BBox() image.Rectangle { return f.bbox }

// Grow returns a footprint expanded by margin pixels in all
// directions. The grown footprint is its bounding box; the box is not
// clipped to any image, so growth past an image boundary surfaces
// later as a subimage extraction failure.
func (f *Footprint) Grow(margin int) *Footprint {
	grown := f.bbox.Inset(-margin)
	return &Footprint{
		npix: grown.Dx() * grown.Dy(),
		bbox: grown,
	}
}

// DetectFootprints finds all 4-connected regions of pixels whose
// intensity is strictly above threshold, in scan order of their first
// pixel. Mask and variance planes are ignored at this stage.
func DetectFootprints(img *MaskedImage, threshold float64) []*Footprint {
	w, h := img.width, img.height
	visited := make([]bool, w*h)
	var footprints []*Footprint

	// BFS queue reused across components.
	queue := make([]int, 0, 64)

	for start := 0; start < w*h; start++ {
		if visited[start] || img.image[start] <= threshold {
			continue
		}

		npix := 0
		minX, minY := w, h
		maxX, maxY := -1, -1

		visited[start] = true
		queue = append(queue[:0], start)
		for len(queue) > 0 {
			i := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			x, y := i%w, i/w

			npix++
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}

			// 4-connected neighbors
			if x > 0 && !visited[i-1] && img.image[i-1] > threshold {
				visited[i-1] = true
				queue = append(queue, i-1)
			}
			if x < w-1 && !visited[i+1] && img.image[i+1] > threshold {
				visited[i+1] = true
				queue = append(queue, i+1)
			}
			if y > 0 && !visited[i-w] && img.image[i-w] > threshold {
				visited[i-w] = true
				queue = append(queue, i-w)
			}
			if y < h-1 && !visited[i+w] && img.image[i+w] > threshold {
				visited[i+w] = true
				queue = append(queue, i+w)
			}
		}

		footprints = append(footprints, &Footprint{
			npix: npix,
			bbox: image.Rect(minX, minY, maxX+1, maxY+1),
		})
	}
	return footprints
}
