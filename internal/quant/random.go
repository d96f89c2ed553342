package quant

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultSigma is the standard deviation of generated weights, typical of
// transformer linear layers after initialisation.
const DefaultSigma = 0.02

// RandomWeights returns n normally distributed weights with mean zero and
// the given standard deviation. The same seed gives the same weights.
func RandomWeights(n int, seed uint64, sigma float64) []float32 {
	dist := distuv.Normal{
		Mu:    0,
		Sigma: sigma,
		Src:   rand.NewPCG(seed, seed^0x9e3779b97f4a7c15),
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(dist.Rand())
	}
	return out
}
