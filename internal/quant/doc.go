// Package quant implements 4-bit blockwise weight quantization in the
// layout used by bitsandbytes, and two independent dequantizers for it.
//
// Weights are split into blocks of BlockSize consecutive elements. Each
// block is scaled by its absolute maximum (absmax) into [-1, 1] and every
// element is replaced by the index of the nearest entry of a 16-value
// codebook (NF4 or FP4). Two indices are packed per byte, the first element
// in the high nibble.
//
// With double quantization the absmax vector is itself quantized: the mean
// is subtracted as an offset and the centred values are stored as signed
// 8-bit codes with one float32 scale per group of NestedBlockSize absmax
// values.
//
// DequantizeReference decodes one element at a time and is easy to audit.
// DequantizeFast decodes the absmax vector once and expands each block with
// a scaled lookup table. Compare measures how far two outputs differ.
package quant
