package face

import (
	"encoding/binary"
	"math"

	"faceattend/internal/errs"
)

// Dim is the fixed descriptor length. Stored templates and live captures are
// always exactly this many float64 components.
const Dim = 128

// Descriptor is a unit-normalized face feature vector.
type Descriptor []float64

// Bytes serializes the descriptor as big-endian IEEE-754 doubles. The layout
// round-trips bit-for-bit through DescriptorFromBytes.
func (d Descriptor) Bytes() []byte {
	buf := make([]byte, 8*len(d))
	for i, v := range d {
		binary.BigEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// DescriptorFromBytes rebuilds a descriptor from its serialized form.
func DescriptorFromBytes(data []byte) (Descriptor, error) {
	if len(data) != Dim*8 {
		return nil, errs.Ef(errs.KindValidation, "descriptor blob must be %d bytes, got %d", Dim*8, len(data))
	}
	d := make(Descriptor, Dim)
	for i := range d {
		d[i] = math.Float64frombits(binary.BigEndian.Uint64(data[i*8:]))
	}
	return d, nil
}

// Distance returns the Euclidean distance between two descriptors.
func Distance(a, b Descriptor) float64 {
	var sum float64
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

// Confidence derives the match strength for a distance, clamped at zero.
func Confidence(distance float64) float64 {
	return math.Max(0, 1-distance)
}
