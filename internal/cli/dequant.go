// dequant.go implements the "t4dev dequant" command.
//
// The command quantizes a random weight matrix to 4 bits, expands it with
// both dequantizers in internal/quant and compares the results. It exits
// with ExitDequantMismatch when they disagree beyond --tolerance.

package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/t4dev/internal/model"
	"github.com/mmr-tortoise/t4dev/internal/quant"
)

// dequantFlags holds the flag values for the dequant command.
type dequantFlags struct {
	rows        int
	cols        int
	blockSize   int
	quantType   string
	doubleQuant bool
	seed        uint64
	tolerance   float64
	show        int
}

// dequantResult is the JSON output of the dequant command.
type dequantResult struct {
	Rows        int        `json:"rows"`
	Cols        int        `json:"cols"`
	BlockSize   int        `json:"blockSize"`
	QuantType   quant.Type `json:"quantType"`
	DoubleQuant bool       `json:"doubleQuant"`
	PackedBytes int        `json:"packedBytes"`

	Reference     []float32 `json:"reference"`
	Fast          []float32 `json:"fast"`
	ReferenceTime string    `json:"referenceTime"`
	FastTime      string    `json:"fastTime"`

	// Comparison is reference vs fast; Reconstruction is original vs
	// reference and shows the quantization error itself.
	Comparison     quant.Comparison `json:"comparison"`
	Reconstruction quant.Comparison `json:"reconstruction"`
	Tolerance      float64          `json:"tolerance"`
}

// dequantizers is the pair of routines compared by the command.
// Tests replace them to exercise a mismatch.
type dequantizers struct {
	reference func(*quant.Tensor) ([]float32, error)
	fast      func(*quant.Tensor) ([]float32, error)
}

func defaultDequantizers() dequantizers {
	return dequantizers{
		reference: quant.DequantizeReference,
		fast:      quant.DequantizeFast,
	}
}

// NewDequantCommand creates the "dequant" cobra command.
func NewDequantCommand() *cobra.Command {
	return newDequantCommand(defaultDequantizers())
}

func newDequantCommand(deq dequantizers) *cobra.Command {
	flags := &dequantFlags{}

	cmd := &cobra.Command{
		Use:   "dequant",
		Short: "Compare two 4-bit dequantization routines",
		Long: `Quantize a random weight matrix with the NF4 or FP4 blockwise layout,
dequantize it with a per-element reference routine and a block lookup-table
routine, and compare the outputs.

Examples:
  t4dev dequant
  t4dev dequant --rows 4096 --cols 4096 --double-quant
  t4dev dequant --quant-type fp4 --block-size 128 --show 4`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runDequant(cmd, flags, deq)
		},
	}

	cmd.Flags().IntVar(&flags.rows, "rows", 256, "Rows of the weight matrix")
	cmd.Flags().IntVar(&flags.cols, "cols", 512, "Columns of the weight matrix")
	cmd.Flags().IntVar(&flags.blockSize, "block-size", quant.DefaultBlockSize, "Weights per quantization block (even)")
	cmd.Flags().StringVar(&flags.quantType, "quant-type", string(quant.NF4), "Codebook: nf4 or fp4")
	cmd.Flags().BoolVar(&flags.doubleQuant, "double-quant", false, "Quantize the absmax values to 8 bits")
	cmd.Flags().Uint64Var(&flags.seed, "seed", 42, "Random seed for the weights")
	cmd.Flags().Float64Var(&flags.tolerance, "tolerance", 1e-6, "Maximum allowed absolute difference")
	cmd.Flags().IntVar(&flags.show, "show", 8, "Number of leading values to print from each output")

	return cmd
}

// runDequant is the main logic function for the dequant command.
func runDequant(cmd *cobra.Command, flags *dequantFlags, deq dequantizers) error {
	qtype, err := quant.ParseType(flags.quantType)
	if err != nil {
		return model.WrapCLIError(model.ExitInvalidArgs, "invalid --quant-type", err)
	}
	if flags.rows <= 0 || flags.cols <= 0 {
		return model.NewCLIError(model.ExitInvalidArgs,
			fmt.Sprintf("--rows and --cols must be positive, got %dx%d", flags.rows, flags.cols))
	}
	if flags.tolerance < 0 {
		return model.NewCLIError(model.ExitInvalidArgs, "--tolerance must not be negative")
	}

	weights := quant.RandomWeights(flags.rows*flags.cols, flags.seed, quant.DefaultSigma)
	qt, err := quant.Quantize(weights, []int{flags.rows, flags.cols}, quant.Options{
		BlockSize:   flags.blockSize,
		Type:        qtype,
		DoubleQuant: flags.doubleQuant,
	})
	if err != nil {
		return model.WrapCLIError(model.ExitInvalidArgs, "failed to quantize weights", err)
	}

	start := time.Now()
	ref, err := deq.reference(qt)
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "reference dequantization failed", err)
	}
	refTime := time.Since(start)

	start = time.Now()
	fast, err := deq.fast(qt)
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "fast dequantization failed", err)
	}
	fastTime := time.Since(start)

	cmp, err := quant.Compare(ref, fast, flags.tolerance)
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "failed to compare outputs", err)
	}
	recon, err := quant.Compare(weights, ref, 0)
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "failed to compare with original weights", err)
	}

	n := min(max(flags.show, 0), len(ref))
	result := dequantResult{
		Rows:           flags.rows,
		Cols:           flags.cols,
		BlockSize:      qt.State.BlockSize,
		QuantType:      qtype,
		DoubleQuant:    flags.doubleQuant,
		PackedBytes:    qt.SizeBytes(),
		Reference:      ref[:n],
		Fast:           fast[:n],
		ReferenceTime:  refTime.String(),
		FastTime:       fastTime.String(),
		Comparison:     cmp,
		Reconstruction: recon,
		Tolerance:      flags.tolerance,
	}

	if IsJSONOutput() {
		if err := printJSON(cmd.OutOrStdout(), result); err != nil {
			return err
		}
	} else {
		printDequantText(cmd.OutOrStdout(), &result)
	}

	if !cmp.Match {
		return model.NewCLIError(model.ExitDequantMismatch,
			fmt.Sprintf("dequantized outputs differ by up to %g (tolerance %g)", cmp.MaxAbsDiff, flags.tolerance))
	}
	return nil
}

// printDequantText outputs the comparison as human-readable text.
func printDequantText(w io.Writer, r *dequantResult) {
	fmt.Fprintf(w, "Quantized %dx%d weights (%s, block size %d, double quant: %t): %d bytes\n",
		r.Rows, r.Cols, r.QuantType, r.BlockSize, r.DoubleQuant, r.PackedBytes)
	fmt.Fprintf(w, "reference (%s): %s\n", r.ReferenceTime, formatValues(r.Reference))
	fmt.Fprintf(w, "fast      (%s): %s\n", r.FastTime, formatValues(r.Fast))
	fmt.Fprintf(w, "Max abs diff:  %g\n", r.Comparison.MaxAbsDiff)
	fmt.Fprintf(w, "Mean abs diff: %g\n", r.Comparison.MeanAbsDiff)
	fmt.Fprintf(w, "Quantization error vs original: max %g, mean %g, rms %g\n",
		r.Reconstruction.MaxAbsDiff, r.Reconstruction.MeanAbsDiff, r.Reconstruction.RMSDiff)
	if r.Comparison.Match {
		fmt.Fprintf(w, "Outputs match within tolerance %g.\n", r.Tolerance)
	} else {
		fmt.Fprintf(w, "Outputs differ beyond tolerance %g.\n", r.Tolerance)
	}
}

func formatValues(v []float32) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = fmt.Sprintf("%.6f", x)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
