package quant

import (
	"fmt"
)

// validate checks that the packed data and absmax representation are
// consistent with the shape.
func (t *Tensor) validate() error {
	s := &t.State
	n := t.Len()
	if n <= 0 {
		return fmt.Errorf("%w: shape %v", ErrShapeMismatch, s.Shape)
	}
	if s.BlockSize <= 0 || s.BlockSize%2 != 0 {
		return fmt.Errorf("invalid block size %d", s.BlockSize)
	}
	if want := (n + 1) / 2; len(t.Data) != want {
		return fmt.Errorf("packed data has %d bytes, want %d", len(t.Data), want)
	}

	blocks := t.Blocks()
	if s.Nested != nil {
		ns := s.Nested
		if len(ns.Codes) != blocks {
			return fmt.Errorf("nested absmax has %d codes, want %d", len(ns.Codes), blocks)
		}
		if ns.BlockSize <= 0 || len(ns.Scales) != blockCount(blocks, ns.BlockSize) {
			return fmt.Errorf("nested absmax has %d scales for %d codes", len(ns.Scales), blocks)
		}
		return nil
	}
	if len(s.Absmax) != blocks {
		return fmt.Errorf("absmax has %d entries, want %d", len(s.Absmax), blocks)
	}
	return nil
}

// absmaxAt returns the absmax of block b, decoding the nested form if used.
func (s *State) absmaxAt(b int) float32 {
	if ns := s.Nested; ns != nil {
		return float32(ns.Codes[b])/127*ns.Scales[b/ns.BlockSize] + ns.Offset
	}
	return s.Absmax[b]
}

// DequantizeReference expands t one element at a time.
func DequantizeReference(t *Tensor) ([]float32, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	codebook, err := t.State.Type.Codebook()
	if err != nil {
		return nil, err
	}

	n := t.Len()
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		b := t.Data[i/2]
		var code uint8
		if i%2 == 0 {
			code = b >> 4
		} else {
			code = b & 0x0f
		}
		out[i] = codebook[code] * t.State.absmaxAt(i/t.State.BlockSize)
	}
	return out, nil
}

// DequantizeFast expands t block by block. The absmax vector is decoded
// once, and each block multiplies its absmax into a 16-entry table before
// expanding two values per byte.
func DequantizeFast(t *Tensor) ([]float32, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	codebook, err := t.State.Type.Codebook()
	if err != nil {
		return nil, err
	}

	blocks := t.Blocks()
	absmax := make([]float32, blocks)
	for b := range absmax {
		absmax[b] = t.State.absmaxAt(b)
	}

	n := t.Len()
	bs := t.State.BlockSize
	out := make([]float32, n)

	var lut [16]float32
	for b := 0; b < blocks; b++ {
		for c := range lut {
			lut[c] = codebook[c] * absmax[b]
		}

		// Block size is even, so a block always starts on a byte boundary.
		start := b * bs
		end := min(start+bs, n)
		for i := start; i < end; i += 2 {
			packed := t.Data[i/2]
			out[i] = lut[packed>>4]
			if i+1 < end {
				out[i+1] = lut[packed&0x0f]
			}
		}
	}
	return out, nil
}
