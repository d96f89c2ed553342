package quant

import (
	"fmt"
	"strings"
)

// Type selects the 4-bit codebook.
type Type string

const (
	// NF4 is the 4-bit NormalFloat data type: quantiles of a standard
	// normal distribution, normalised to [-1, 1], with an exact zero.
	NF4 Type = "nf4"

	// FP4 is a 4-bit float with one sign bit, two exponent bits and one
	// mantissa bit, normalised so its largest magnitude is 1.
	FP4 Type = "fp4"
)

// ParseType converts a string to a Type.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case NF4, FP4:
		return t, nil
	}
	return "", fmt.Errorf("invalid quant type: %q (valid: nf4, fp4)", s)
}

// String returns the string representation of Type.
func (t Type) String() string {
	return string(t)
}

var nf4Codebook = [16]float32{
	-1.0,
	-0.6961928009986877,
	-0.5250730514526367,
	-0.39491748809814453,
	-0.28444138169288635,
	-0.18477343022823334,
	-0.09105003625154495,
	0.0,
	0.07958029955625534,
	0.16093020141124725,
	0.24611230194568634,
	0.33791524171829224,
	0.44070982933044434,
	0.5626170039176941,
	0.7229568362236023,
	1.0,
}

// fp4Codebook is indexed by the raw code. Bit 3 is the sign; the low three
// bits select the magnitude, which is not monotonic in the code.
var fp4Codebook = [16]float32{
	0.0,
	0.0625 / 12,
	8.0 / 12,
	12.0 / 12,
	4.0 / 12,
	6.0 / 12,
	2.0 / 12,
	3.0 / 12,
	-0.0,
	-0.0625 / 12,
	-8.0 / 12,
	-12.0 / 12,
	-4.0 / 12,
	-6.0 / 12,
	-2.0 / 12,
	-3.0 / 12,
}

// Codebook returns the 16 normalised values for t.
func (t Type) Codebook() ([16]float32, error) {
	switch t {
	case NF4:
		return nf4Codebook, nil
	case FP4:
		return fp4Codebook, nil
	}
	return [16]float32{}, fmt.Errorf("unknown quant type %q", t)
}

// nearest returns the code whose codebook value is closest to v. Ties go to
// the lower code.
func nearest(codebook *[16]float32, v float32) uint8 {
	best := uint8(0)
	bestDist := abs32(v - codebook[0])
	for i := 1; i < len(codebook); i++ {
		if d := abs32(v - codebook[i]); d < bestDist {
			best, bestDist = uint8(i), d
		}
	}
	return best
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
