package quant

import (
	"errors"
	"fmt"
	"math"
)

// DefaultBlockSize is the number of weights sharing one absmax.
const DefaultBlockSize = 64

// NestedBlockSize is the number of absmax values sharing one scale when
// double quantization is enabled.
const NestedBlockSize = 256

// ErrShapeMismatch is returned when the weight count does not match the
// product of the shape dimensions.
var ErrShapeMismatch = errors.New("weight count does not match shape")

// Options control quantization.
type Options struct {
	// BlockSize must be a positive even number. Zero means DefaultBlockSize.
	BlockSize int

	// Type selects the codebook. Empty means NF4.
	Type Type

	// DoubleQuant stores the absmax vector as 8-bit codes.
	DoubleQuant bool
}

// State holds everything needed to dequantize Tensor.Data.
type State struct {
	Shape     []int `json:"shape"`
	BlockSize int   `json:"blockSize"`
	Type      Type  `json:"type"`

	// Absmax has one entry per block. It is nil when Nested is set.
	Absmax []float32 `json:"absmax,omitempty"`

	Nested *NestedState `json:"nested,omitempty"`
}

// NestedState is the double-quantized form of the absmax vector.
// absmax[i] = float32(Codes[i]) / 127 * Scales[i/BlockSize] + Offset.
type NestedState struct {
	Codes     []int8    `json:"codes"`
	Scales    []float32 `json:"scales"`
	Offset    float32   `json:"offset"`
	BlockSize int       `json:"blockSize"`
}

// Tensor is a packed 4-bit tensor.
type Tensor struct {
	Data  []byte `json:"data"`
	State State  `json:"state"`
}

// Len returns the number of logical elements.
func (t *Tensor) Len() int {
	return numElements(t.State.Shape)
}

// Blocks returns the number of quantization blocks.
func (t *Tensor) Blocks() int {
	return blockCount(t.Len(), t.State.BlockSize)
}

// SizeBytes returns the storage used by the packed data and the absmax
// representation.
func (t *Tensor) SizeBytes() int {
	size := len(t.Data)
	if n := t.State.Nested; n != nil {
		return size + len(n.Codes) + 4*len(n.Scales) + 4
	}
	return size + 4*len(t.State.Absmax)
}

// Quantize packs weights, laid out row-major in shape, into 4-bit codes.
func Quantize(weights []float32, shape []int, opts Options) (*Tensor, error) {
	if opts.BlockSize == 0 {
		opts.BlockSize = DefaultBlockSize
	}
	if opts.BlockSize < 0 || opts.BlockSize%2 != 0 {
		return nil, fmt.Errorf("block size must be a positive even number, got %d", opts.BlockSize)
	}
	if opts.Type == "" {
		opts.Type = NF4
	}
	codebook, err := opts.Type.Codebook()
	if err != nil {
		return nil, err
	}

	n := numElements(shape)
	if n <= 0 || n != len(weights) {
		return nil, fmt.Errorf("%w: %d weights, shape %v", ErrShapeMismatch, len(weights), shape)
	}

	blocks := blockCount(n, opts.BlockSize)
	absmax := make([]float32, blocks)
	data := make([]byte, (n+1)/2)

	for b := 0; b < blocks; b++ {
		start := b * opts.BlockSize
		end := min(start+opts.BlockSize, n)

		var m float32
		for _, w := range weights[start:end] {
			m = max(m, abs32(w))
		}
		absmax[b] = m

		for i := start; i < end; i++ {
			var v float32
			if m > 0 {
				v = weights[i] / m
			}
			code := nearest(&codebook, v)
			if i%2 == 0 {
				data[i/2] = code << 4
			} else {
				data[i/2] |= code
			}
		}
	}

	state := State{
		Shape:     append([]int(nil), shape...),
		BlockSize: opts.BlockSize,
		Type:      opts.Type,
	}
	if opts.DoubleQuant {
		state.Nested = quantizeAbsmax(absmax)
	} else {
		state.Absmax = absmax
	}
	return &Tensor{Data: data, State: state}, nil
}

// quantizeAbsmax stores absmax as signed 8-bit codes around its mean.
func quantizeAbsmax(absmax []float32) *NestedState {
	var sum float64
	for _, a := range absmax {
		sum += float64(a)
	}
	offset := float32(sum / float64(len(absmax)))

	groups := blockCount(len(absmax), NestedBlockSize)
	ns := &NestedState{
		Codes:     make([]int8, len(absmax)),
		Scales:    make([]float32, groups),
		Offset:    offset,
		BlockSize: NestedBlockSize,
	}

	for g := 0; g < groups; g++ {
		start := g * NestedBlockSize
		end := min(start+NestedBlockSize, len(absmax))

		var scale float32
		for _, a := range absmax[start:end] {
			scale = max(scale, abs32(a-offset))
		}
		ns.Scales[g] = scale
		if scale == 0 {
			continue
		}
		for i := start; i < end; i++ {
			q := math.Round(float64((absmax[i] - offset) / scale * 127))
			ns.Codes[i] = int8(max(-127, min(127, q)))
		}
	}
	return ns
}

func numElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return 0
		}
		n *= d
	}
	return n
}

func blockCount(n, blockSize int) int {
	if blockSize <= 0 {
		return 0
	}
	return (n + blockSize - 1) / blockSize
}
