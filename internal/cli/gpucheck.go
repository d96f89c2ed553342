// gpucheck.go implements the "t4dev gpu-check" command.
//
// The command verifies that the NVIDIA driver answers through nvidia-smi,
// that PyTorch sees a CUDA device and can run a matrix multiply on it, and
// reports whether Docker has the NVIDIA container runtime registered. The
// exit code is ExitGPUCheckFailed unless both nvidia-smi and CUDA are OK.

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/t4dev/internal/gpu"
	"github.com/mmr-tortoise/t4dev/internal/model"
)

// gpuCheckFlags holds the flag values for the gpu-check command.
type gpuCheckFlags struct {
	textfile   string
	python     string
	skipDocker bool
}

// newCheckerFunc builds the checker for a run. Replaced in tests.
type newCheckerFunc func(python string, skipDocker bool) *gpu.Checker

func defaultNewChecker(python string, skipDocker bool) *gpu.Checker {
	return gpu.NewChecker(gpu.ExecRunner{}, python, skipDocker)
}

// NewGPUCheckCommand creates the "gpu-check" cobra command.
func NewGPUCheckCommand() *cobra.Command {
	return newGPUCheckCommand(defaultNewChecker)
}

func newGPUCheckCommand(newChecker newCheckerFunc) *cobra.Command {
	flags := &gpuCheckFlags{}

	cmd := &cobra.Command{
		Use:   "gpu-check",
		Short: "Verify the GPU is accessible from the driver, CUDA and containers",
		Long: `Run nvidia-smi, probe CUDA through PyTorch and query the Docker daemon
for the NVIDIA container runtime.

With --textfile the results are also written as Prometheus gauges for the
node_exporter textfile collector.

Examples:
  t4dev gpu-check
  t4dev gpu-check --python /opt/venv/bin/python --skip-docker
  t4dev gpu-check --textfile /var/lib/node_exporter/t4dev_gpu.prom`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runGPUCheck(cmd, flags, newChecker)
		},
	}

	cmd.Flags().StringVar(&flags.textfile, "textfile", "", "Write Prometheus metrics to this file")
	cmd.Flags().StringVar(&flags.python, "python", gpu.DefaultPython, "Python interpreter with PyTorch installed")
	cmd.Flags().BoolVar(&flags.skipDocker, "skip-docker", false, "Do not query the Docker daemon")

	return cmd
}

// runGPUCheck is the main logic function for the gpu-check command.
func runGPUCheck(cmd *cobra.Command, flags *gpuCheckFlags, newChecker newCheckerFunc) error {
	report, err := newChecker(flags.python, flags.skipDocker).Run(cmd.Context())
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "GPU check did not complete", err)
	}

	if flags.textfile != "" {
		if err := gpu.WriteTextfile(report, flags.textfile); err != nil {
			return model.WrapCLIError(model.ExitGeneralError, "failed to write metrics textfile", err)
		}
	}

	if IsJSONOutput() {
		result := struct {
			*gpu.Report
			OK bool `json:"ok"`
		}{report, report.OK()}
		if err := printJSON(cmd.OutOrStdout(), result); err != nil {
			return err
		}
	} else {
		printGPUReportText(cmd.OutOrStdout(), report)
	}

	if !report.OK() {
		return model.NewCLIError(model.ExitGPUCheckFailed, "GPU check failed")
	}
	return nil
}

// printGPUReportText outputs the report as human-readable sections.
func printGPUReportText(w io.Writer, r *gpu.Report) {
	fmt.Fprintln(w, "Tesla T4 GPU Verification Tool")
	fmt.Fprintln(w, "==============================")

	fmt.Fprintln(w, "=== System Information ===")
	fmt.Fprintf(w, "Platform: %s\n", r.System.Platform())
	fmt.Fprintf(w, "Go Version: %s\n", r.System.GoVersion)
	fmt.Fprintf(w, "RAM: %s\n", r.System.RAM())

	fmt.Fprintln(w, "\n=== GPU Information (nvidia-smi) ===")
	if r.SMI.OK {
		fmt.Fprintln(w, strings.TrimRight(r.SMI.Raw, "\n"))
		for _, d := range r.SMI.Devices {
			fmt.Fprintf(w, "GPU %d: %s, %.0f MiB, driver %s%s\n",
				d.Index, d.Name, d.MemoryTotalMiB, d.DriverVersion, formatSensors(d))
		}
	} else {
		fmt.Fprintf(w, "Error: %s\n", r.SMI.Error)
	}

	fmt.Fprintln(w, "\n=== CUDA Information ===")
	printCUDAText(w, r.CUDA)

	fmt.Fprintln(w, "\n=== Container Runtime ===")
	printRuntimeText(w, r.Runtime)

	fmt.Fprintln(w, "\n=== Summary ===")
	if r.OK() {
		fmt.Fprintln(w, "✅ Success! Tesla T4 GPU is properly configured and accessible via PyTorch.")
		fmt.Fprintln(w, "You can now proceed with running the Unsloth tasks.")
	} else {
		fmt.Fprintln(w, "❌ There are issues with your GPU setup. Please resolve them before proceeding.")
	}
}

func formatSensors(d gpu.Device) string {
	var parts []string
	if d.TemperatureC != nil {
		parts = append(parts, fmt.Sprintf("%.0f°C", *d.TemperatureC))
	}
	if d.UtilizationPct != nil {
		parts = append(parts, fmt.Sprintf("%.0f%% util", *d.UtilizationPct))
	}
	if len(parts) == 0 {
		return ""
	}
	return ", " + strings.Join(parts, ", ")
}

func printCUDAText(w io.Writer, c gpu.CUDAResult) {
	if !c.Installed {
		fmt.Fprintln(w, c.Error)
		return
	}

	fmt.Fprintf(w, "PyTorch version: %s\n", c.TorchVersion)
	fmt.Fprintf(w, "CUDA available: %t\n", c.Available)
	if c.Error != "" {
		fmt.Fprintln(w, c.Error)
		return
	}
	if !c.Available {
		fmt.Fprintln(w, "CUDA is not available. Check that the NVIDIA driver and CUDA toolkit are installed.")
		return
	}

	fmt.Fprintf(w, "CUDA version: %s\n", c.CUDAVersion)
	fmt.Fprintf(w, "Number of GPUs: %d\n", len(c.Devices))
	for i, name := range c.Devices {
		fmt.Fprintf(w, "GPU %d: %s\n", i, name)
	}
	if c.MatmulOK {
		fmt.Fprintln(w, "\nTesting GPU with tensor operation...")
		fmt.Fprintln(w, "GPU tensor operation successful!")
	}
}

func printRuntimeText(w io.Writer, r *gpu.RuntimeResult) {
	switch {
	case r == nil || !r.Checked:
		fmt.Fprintln(w, "Skipped")
	case r.Error != "":
		fmt.Fprintf(w, "Docker: %s\n", r.Error)
	default:
		fmt.Fprintf(w, "Docker: %s (default runtime: %s)\n", r.ServerVersion, r.DefaultRuntime)
		fmt.Fprintf(w, "Runtimes: %s\n", strings.Join(r.Runtimes, ", "))
		if r.NvidiaAvailable {
			fmt.Fprintln(w, "NVIDIA runtime: available")
		} else {
			fmt.Fprintln(w, "NVIDIA runtime: not registered (install the NVIDIA Container Toolkit)")
		}
	}
}
