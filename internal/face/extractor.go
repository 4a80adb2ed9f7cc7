package face

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"math"

	"faceattend/internal/errs"
)

const (
	canonicalSide = 128
	cropMargin    = 0.15
	gridCells     = 4
	histBins      = 16
)

// ExtractorConfig carries the hard input gates for extraction.
type ExtractorConfig struct {
	MinWidth  int
	MinHeight int
}

// Capture is the result of a successful extraction.
type Capture struct {
	Descriptor Descriptor
	// Quality is an advisory score in [0,100] from brightness and contrast of
	// the cropped face. It is never used as a gate.
	Quality int
	Box     image.Rectangle
}

// Extractor turns a face photo into a fixed-length descriptor.
type Extractor struct {
	cfg    ExtractorConfig
	logger *slog.Logger
}

// NewExtractor builds an extractor. A nil logger disables tracing.
func NewExtractor(cfg ExtractorConfig, logger *slog.Logger) *Extractor {
	if cfg.MinWidth <= 0 {
		cfg.MinWidth = 640
	}
	if cfg.MinHeight <= 0 {
		cfg.MinHeight = 480
	}
	return &Extractor{cfg: cfg, logger: logger}
}

// Extract decodes the image, requires exactly one detected face, and computes
// the 128-dimension normalized descriptor plus an advisory quality score.
// Every failure is a typed error; nothing here panics.
func (e *Extractor) Extract(data []byte) (*Capture, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errs.Wrap(errs.KindValidation, "image decode failed", err)
	}

	b := img.Bounds()
	if b.Dx() < e.cfg.MinWidth || b.Dy() < e.cfg.MinHeight {
		return nil, errs.Ef(errs.KindValidation,
			"image resolution too low, minimum %dx%d required", e.cfg.MinWidth, e.cfg.MinHeight)
	}

	g := toGray(img)
	faces := detectFaces(g)
	switch {
	case len(faces) == 0:
		return nil, errs.E(errs.KindValidation, "no face detected in image")
	case len(faces) > 1:
		return nil, errs.Ef(errs.KindValidation,
			"multiple faces detected (%d), a single face is required", len(faces))
	}

	crop := cropWithMargin(g, faces[0], cropMargin)
	face := resize(crop, canonicalSide)

	desc := describe(face)
	if err := normalize(desc); err != nil {
		return nil, err
	}

	quality := qualityScore(crop)
	if e.logger != nil {
		e.logger.Debug("face extracted",
			"box", faces[0].String(), "quality", quality,
			"width", b.Dx(), "height", b.Dy())
	}
	return &Capture{Descriptor: desc, Quality: quality, Box: faces[0]}, nil
}

// describe computes local-binary-pattern histograms and intensity histograms
// over a coarse spatial grid, concatenates them, and halves the result by
// pairwise averaging until exactly Dim components remain.
func describe(g *gray) Descriptor {
	cell := canonicalSide / gridCells

	texture := make([]float64, gridCells*gridCells*histBins)
	intensity := make([]float64, gridCells*gridCells*histBins)

	for cy := 0; cy < gridCells; cy++ {
		for cx := 0; cx < gridCells; cx++ {
			base := (cy*gridCells + cx) * histBins
			var count float64
			for y := cy * cell; y < (cy+1)*cell; y++ {
				for x := cx * cell; x < (cx+1)*cell; x++ {
					texture[base+lbpBin(g, x, y)]++
					intensity[base+intensityBin(g.at(x, y))]++
					count++
				}
			}
			for i := 0; i < histBins; i++ {
				texture[base+i] /= count
				intensity[base+i] /= count
			}
		}
	}

	// 256 + 256 = 512 dims, then two pairwise-average halvings down to 128.
	full := append(texture, intensity...)
	return halve(halve(full))
}

// lbpBin computes the 8-neighbor local binary pattern of a pixel and folds it
// into histBins buckets. Border pixels clamp to the edge.
func lbpBin(g *gray, x, y int) int {
	center := g.at(x, y)
	var pattern int
	offsets := [8][2]int{{-1, -1}, {0, -1}, {1, -1}, {1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}}
	for i, off := range offsets {
		nx := minInt(g.w-1, maxInt(0, x+off[0]))
		ny := minInt(g.h-1, maxInt(0, y+off[1]))
		if g.at(nx, ny) >= center {
			pattern |= 1 << i
		}
	}
	return pattern * histBins / 256
}

func intensityBin(v float64) int {
	bin := int(v) * histBins / 256
	if bin >= histBins {
		bin = histBins - 1
	}
	if bin < 0 {
		bin = 0
	}
	return bin
}

func halve(in []float64) []float64 {
	out := make([]float64, len(in)/2)
	for i := range out {
		out[i] = (in[2*i] + in[2*i+1]) / 2
	}
	return out
}

// normalize scales the descriptor to unit L2 norm in place. A degenerate
// near-zero vector cannot represent a face and is rejected.
func normalize(d Descriptor) error {
	var sum float64
	for _, v := range d {
		sum += v * v
	}
	norm := math.Sqrt(sum)
	if norm < 1e-9 {
		return errs.E(errs.KindValidation, "face encoding failed")
	}
	for i := range d {
		d[i] /= norm
	}
	return nil
}

// qualityScore grades the cropped face from brightness and contrast, capped
// at 100. Advisory only.
func qualityScore(g *gray) int {
	var sum, sumSq float64
	n := float64(len(g.pix))
	for _, v := range g.pix {
		sum += v
		sumSq += v * v
	}
	brightness := sum / n
	variance := sumSq/n - brightness*brightness
	if variance < 0 {
		variance = 0
	}
	contrast := math.Sqrt(variance)

	score := int(brightness/255*30 + contrast/100*30 + 40)
	if score > 100 {
		score = 100
	}
	return score
}
