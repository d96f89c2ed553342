package quant

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Comparison summarises the element-wise difference of two tensors.
type Comparison struct {
	MaxAbsDiff  float64 `json:"maxAbsDiff"`
	MeanAbsDiff float64 `json:"meanAbsDiff"`

	// RMSDiff is the root mean square difference.
	RMSDiff float64 `json:"rmsDiff"`

	// Match is true when MaxAbsDiff is within the tolerance.
	Match bool `json:"match"`
}

// Compare returns the element-wise difference between a and b. Both must
// have the same length.
func Compare(a, b []float32, tol float64) (Comparison, error) {
	if len(a) != len(b) {
		return Comparison{}, fmt.Errorf("length mismatch: %d vs %d", len(a), len(b))
	}
	if len(a) == 0 {
		return Comparison{Match: true}, nil
	}

	diff := make([]float64, len(a))
	floats.SubTo(diff, toFloat64(a), toFloat64(b))

	sq := make([]float64, len(diff))
	floats.MulTo(sq, diff, diff)
	for i, d := range diff {
		diff[i] = math.Abs(d)
	}

	c := Comparison{
		MaxAbsDiff:  floats.Max(diff),
		MeanAbsDiff: stat.Mean(diff, nil),
		RMSDiff:     math.Sqrt(stat.Mean(sq, nil)),
	}
	c.Match = c.MaxAbsDiff <= tol
	return c, nil
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
