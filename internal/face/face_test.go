package face

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"strings"
	"testing"

	"faceattend/internal/errs"
)

// testImage renders a flat gray canvas with checkered regions standing in for
// faces. The detector keys on local variance, so a checkered patch reads as a
// textured region and the flat background does not.
func testImage(t *testing.T, w, h int, faces ...image.Rectangle) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	for _, r := range faces {
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				v := uint8(0)
				if (x+y)%2 == 0 {
					v = 255
				}
				img.SetGray(x, y, color.Gray{Y: v})
			}
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func newTestExtractor() *Extractor {
	return NewExtractor(ExtractorConfig{MinWidth: 640, MinHeight: 480}, nil)
}

func TestExtractSingleFace(t *testing.T) {
	data := testImage(t, 640, 480, image.Rect(200, 140, 360, 300))
	capture, err := newTestExtractor().Extract(data)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(capture.Descriptor) != Dim {
		t.Fatalf("descriptor length = %d, want %d", len(capture.Descriptor), Dim)
	}
	var norm float64
	for _, v := range capture.Descriptor {
		norm += v * v
	}
	if math.Abs(math.Sqrt(norm)-1) > 1e-9 {
		t.Fatalf("descriptor not unit norm: %v", math.Sqrt(norm))
	}
	if capture.Quality < 0 || capture.Quality > 100 {
		t.Fatalf("quality out of range: %d", capture.Quality)
	}
}

func TestExtractDeterministic(t *testing.T) {
	data := testImage(t, 640, 480, image.Rect(200, 140, 360, 300))
	ext := newTestExtractor()
	a, err := ext.Extract(data)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	b, err := ext.Extract(data)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if d := Distance(a.Descriptor, b.Descriptor); d != 0 {
		t.Fatalf("same image produced different descriptors, distance %v", d)
	}
}

func TestExtractNoFace(t *testing.T) {
	data := testImage(t, 640, 480)
	_, err := newTestExtractor().Extract(data)
	if err == nil || !strings.Contains(err.Error(), "no face detected") {
		t.Fatalf("want no-face error, got %v", err)
	}
	if errs.KindOf(err) != errs.KindValidation {
		t.Fatalf("want validation kind, got %v", errs.KindOf(err))
	}
}

func TestExtractMultipleFaces(t *testing.T) {
	data := testImage(t, 640, 480,
		image.Rect(64, 140, 176, 300),
		image.Rect(400, 140, 512, 300))
	_, err := newTestExtractor().Extract(data)
	if err == nil || !strings.Contains(err.Error(), "multiple faces") {
		t.Fatalf("want multiple-faces error, got %v", err)
	}
}

func TestExtractResolutionGate(t *testing.T) {
	data := testImage(t, 320, 240, image.Rect(100, 60, 220, 180))
	_, err := newTestExtractor().Extract(data)
	if err == nil || !strings.Contains(err.Error(), "resolution too low") {
		t.Fatalf("want resolution error, got %v", err)
	}
}

func TestExtractBadImage(t *testing.T) {
	_, err := newTestExtractor().Extract([]byte("not an image"))
	if errs.KindOf(err) != errs.KindValidation {
		t.Fatalf("want validation kind, got %v", err)
	}
}

func TestDescriptorBytesRoundTrip(t *testing.T) {
	d := make(Descriptor, Dim)
	for i := range d {
		d[i] = float64(i) / Dim
	}
	got, err := DescriptorFromBytes(d.Bytes())
	if err != nil {
		t.Fatalf("from bytes: %v", err)
	}
	for i := range d {
		if got[i] != d[i] {
			t.Fatalf("component %d: got %v want %v", i, got[i], d[i])
		}
	}
}

func TestDescriptorFromBytesWrongLength(t *testing.T) {
	if _, err := DescriptorFromBytes(make([]byte, 17)); err == nil {
		t.Fatal("want error for truncated blob")
	}
}

func TestVerifySelfMatch(t *testing.T) {
	data := testImage(t, 640, 480, image.Rect(200, 140, 360, 300))
	capture, err := newTestExtractor().Extract(data)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	eng := NewEngine(0.4, 0.7, nil)
	ok, conf := eng.Verify(capture.Descriptor, capture.Descriptor)
	if !ok {
		t.Fatal("self comparison must match")
	}
	if conf != 1.0 {
		t.Fatalf("self confidence = %v, want 1.0", conf)
	}
}

// A pair at distance 0.5 passes a 0.6 tolerance but fails the 0.7 confidence
// floor. Both gates must hold independently.
func TestVerifyDualGates(t *testing.T) {
	a := make(Descriptor, Dim)
	b := make(Descriptor, Dim)
	a[0] = 1
	b[0] = 1
	b[1] = 0.5

	eng := NewEngine(0.6, 0.7, nil)
	if ok, conf := eng.Verify(a, b); ok {
		t.Fatalf("distance 0.5 with confidence %v must fail the confidence gate", conf)
	}

	b[1] = 0.2
	if ok, _ := eng.Verify(a, b); !ok {
		t.Fatal("distance 0.2 must pass both gates")
	}
}

func TestVerifyToleranceGate(t *testing.T) {
	a := make(Descriptor, Dim)
	b := make(Descriptor, Dim)
	a[0] = 1
	b[0] = 1
	b[1] = 0.5

	// Confidence 0.5 passes a 0.4 floor but distance 0.5 exceeds tolerance.
	eng := NewEngine(0.4, 0.4, nil)
	if ok, _ := eng.Verify(a, b); ok {
		t.Fatal("distance above tolerance must not match")
	}
}

func TestIdentifyPicksNearest(t *testing.T) {
	live := make(Descriptor, Dim)
	live[0] = 1

	near := make(Descriptor, Dim)
	near[0] = 1
	near[1] = 0.1
	far := make(Descriptor, Dim)
	far[0] = 1
	far[1] = 0.3

	eng := NewEngine(0.4, 0.6, nil)
	match, err := eng.Identify(live, []Candidate{
		{UserID: "far", Descriptor: far},
		{UserID: "near", Descriptor: near},
	})
	if err != nil {
		t.Fatalf("identify: %v", err)
	}
	if match.UserID != "near" {
		t.Fatalf("matched %q, want near", match.UserID)
	}
}

func TestIdentifyNoCandidates(t *testing.T) {
	live := make(Descriptor, Dim)
	live[0] = 1
	_, err := NewEngine(0.4, 0.7, nil).Identify(live, nil)
	if errs.KindOf(err) != errs.KindAuthentication {
		t.Fatalf("want authentication kind, got %v", err)
	}
}

func TestIdentifyBestBelowThreshold(t *testing.T) {
	live := make(Descriptor, Dim)
	live[0] = 1
	far := make(Descriptor, Dim)
	far[0] = 1
	far[1] = 0.9

	_, err := NewEngine(0.4, 0.7, nil).Identify(live, []Candidate{{UserID: "u", Descriptor: far}})
	if err == nil || !strings.Contains(err.Error(), "not recognized") {
		t.Fatalf("want not-recognized error, got %v", err)
	}
}

func TestIdentifyParallelAgreesWithSequential(t *testing.T) {
	live := make(Descriptor, Dim)
	live[0] = 1

	candidates := make([]Candidate, 100)
	for i := range candidates {
		d := make(Descriptor, Dim)
		d[0] = 1
		d[1] = 0.01 * float64(i+5)
		candidates[i] = Candidate{UserID: string(rune('a' + i%26)), Descriptor: d}
	}
	// Candidate 0 is the nearest and sits inside both thresholds.
	candidates[0].UserID = "winner"

	match, err := NewEngine(0.4, 0.7, nil).Identify(live, candidates)
	if err != nil {
		t.Fatalf("identify: %v", err)
	}
	if match.UserID != "winner" {
		t.Fatalf("matched %q, want winner", match.UserID)
	}
}

func TestConfidenceClampsAtZero(t *testing.T) {
	if c := Confidence(1.7); c != 0 {
		t.Fatalf("confidence = %v, want 0", c)
	}
	if c := Confidence(0); c != 1 {
		t.Fatalf("confidence = %v, want 1", c)
	}
}
