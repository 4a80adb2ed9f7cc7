package face

import (
	"image"
	"math"
	"sort"
)

// Detection tuning. Blocks of uniform background carry near-zero intensity
// variance while facial regions (eyes, hairline, nostrils, mouth) are strongly
// textured, so a block is considered part of a face candidate when its local
// standard deviation clears blockStddevMin.
const (
	detectBlockSize = 16
	blockStddevMin  = 12.0
	minFaceSide     = 48
	minAspect       = 0.35
	maxAspect       = 2.8
)

// gray holds a decoded luminance plane with values in [0,255].
type gray struct {
	w, h int
	pix  []float64
}

func (g *gray) at(x, y int) float64 { return g.pix[y*g.w+x] }

func toGray(img image.Image) *gray {
	b := img.Bounds()
	g := &gray{w: b.Dx(), h: b.Dy(), pix: make([]float64, b.Dx()*b.Dy())}
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, gr, bl, _ := img.At(x, y).RGBA()
			// ITU-R BT.601 luma, 16-bit channels scaled down to 8-bit range.
			g.pix[i] = (0.299*float64(r) + 0.587*float64(gr) + 0.114*float64(bl)) / 257.0
			i++
		}
	}
	return g
}

// detectFaces locates textured regions that plausibly contain a single face.
// It scores fixed-size blocks by local contrast, groups adjacent active blocks
// into connected components, and keeps components large enough and shaped like
// a face. The scan is fully deterministic: results are ordered top-left first.
func detectFaces(g *gray) []image.Rectangle {
	bw := g.w / detectBlockSize
	bh := g.h / detectBlockSize
	if bw == 0 || bh == 0 {
		return nil
	}

	active := make([]bool, bw*bh)
	for by := 0; by < bh; by++ {
		for bx := 0; bx < bw; bx++ {
			if blockStddev(g, bx*detectBlockSize, by*detectBlockSize) > blockStddevMin {
				active[by*bw+bx] = true
			}
		}
	}

	// 4-connected component labeling over active blocks.
	labels := make([]int, bw*bh)
	next := 0
	var boxes []image.Rectangle
	for by := 0; by < bh; by++ {
		for bx := 0; bx < bw; bx++ {
			idx := by*bw + bx
			if !active[idx] || labels[idx] != 0 {
				continue
			}
			next++
			box := floodBlocks(active, labels, bw, bh, bx, by, next)
			boxes = append(boxes, box)
		}
	}

	var faces []image.Rectangle
	for _, box := range boxes {
		r := image.Rect(
			box.Min.X*detectBlockSize,
			box.Min.Y*detectBlockSize,
			box.Max.X*detectBlockSize,
			box.Max.Y*detectBlockSize,
		)
		w, h := r.Dx(), r.Dy()
		if w < minFaceSide || h < minFaceSide {
			continue
		}
		aspect := float64(w) / float64(h)
		if aspect < minAspect || aspect > maxAspect {
			continue
		}
		faces = append(faces, r)
	}

	sort.Slice(faces, func(i, j int) bool {
		if faces[i].Min.Y != faces[j].Min.Y {
			return faces[i].Min.Y < faces[j].Min.Y
		}
		return faces[i].Min.X < faces[j].Min.X
	})
	return faces
}

func blockStddev(g *gray, x0, y0 int) float64 {
	var sum, sumSq float64
	n := float64(detectBlockSize * detectBlockSize)
	for y := y0; y < y0+detectBlockSize; y++ {
		for x := x0; x < x0+detectBlockSize; x++ {
			v := g.at(x, y)
			sum += v
			sumSq += v * v
		}
	}
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

// floodBlocks labels the component containing (bx,by) and returns its bounding
// box in block coordinates (Max exclusive).
func floodBlocks(active []bool, labels []int, bw, bh, bx, by, label int) image.Rectangle {
	stack := []image.Point{{X: bx, Y: by}}
	labels[by*bw+bx] = label
	box := image.Rect(bx, by, bx+1, by+1)
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		box = box.Union(image.Rect(p.X, p.Y, p.X+1, p.Y+1))
		for _, d := range [4]image.Point{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
			nx, ny := p.X+d.X, p.Y+d.Y
			if nx < 0 || ny < 0 || nx >= bw || ny >= bh {
				continue
			}
			idx := ny*bw + nx
			if active[idx] && labels[idx] == 0 {
				labels[idx] = label
				stack = append(stack, image.Point{X: nx, Y: ny})
			}
		}
	}
	return box
}

// cropWithMargin expands the face box by the given fraction on every side,
// clamped to the image bounds, and copies the region.
func cropWithMargin(g *gray, r image.Rectangle, margin float64) *gray {
	mx := int(float64(r.Dx()) * margin)
	my := int(float64(r.Dy()) * margin)
	x0 := maxInt(0, r.Min.X-mx)
	y0 := maxInt(0, r.Min.Y-my)
	x1 := minInt(g.w, r.Max.X+mx)
	y1 := minInt(g.h, r.Max.Y+my)

	out := &gray{w: x1 - x0, h: y1 - y0, pix: make([]float64, (x1-x0)*(y1-y0))}
	i := 0
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			out.pix[i] = g.at(x, y)
			i++
		}
	}
	return out
}

// resize scales the plane to side×side using bilinear interpolation.
func resize(g *gray, side int) *gray {
	out := &gray{w: side, h: side, pix: make([]float64, side*side)}
	sx := float64(g.w) / float64(side)
	sy := float64(g.h) / float64(side)
	for y := 0; y < side; y++ {
		fy := (float64(y)+0.5)*sy - 0.5
		y0 := int(math.Floor(fy))
		wy := fy - float64(y0)
		y1 := minInt(g.h-1, y0+1)
		if y0 < 0 {
			y0, y1, wy = 0, 0, 0
		}
		for x := 0; x < side; x++ {
			fx := (float64(x)+0.5)*sx - 0.5
			x0 := int(math.Floor(fx))
			wx := fx - float64(x0)
			x1 := minInt(g.w-1, x0+1)
			if x0 < 0 {
				x0, x1, wx = 0, 0, 0
			}
			top := g.at(x0, y0)*(1-wx) + g.at(x1, y0)*wx
			bot := g.at(x0, y1)*(1-wx) + g.at(x1, y1)*wx
			out.pix[y*side+x] = top*(1-wy) + bot*wy
		}
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
