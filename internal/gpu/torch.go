package gpu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// DefaultPython is the interpreter used for the PyTorch probe.
const DefaultPython = "python3"

// torchNotInstalledMessage is reported when the probe cannot import torch.
const torchNotInstalledMessage = "PyTorch is not installed. Install it with: pip install torch"

// torchProbeScript prints a single JSON object describing what PyTorch
// sees. It never raises: failures are reported in the "error" field.
const torchProbeScript = `
import json
out = {"installed": False}
try:
    import torch
except ImportError:
    print(json.dumps(out))
    raise SystemExit(0)
out["installed"] = True
try:
    out["version"] = torch.__version__
    out["cuda_available"] = bool(torch.cuda.is_available())
    if out["cuda_available"]:
        out["cuda_version"] = torch.version.cuda
        out["devices"] = [torch.cuda.get_device_name(i) for i in range(torch.cuda.device_count())]
        x = torch.randn(1000, 1000).cuda()
        y = torch.randn(1000, 1000).cuda()
        torch.matmul(x, y)
        torch.cuda.synchronize()
        out["matmul_ok"] = True
except Exception as e:
    out["error"] = str(e)
print(json.dumps(out))
`

// CUDAResult is the outcome of the PyTorch probe.
type CUDAResult struct {
	Installed    bool     `json:"installed"`
	TorchVersion string   `json:"torchVersion,omitempty"`
	Available    bool     `json:"available"`
	CUDAVersion  string   `json:"cudaVersion,omitempty"`
	Devices      []string `json:"devices,omitempty"`

	// MatmulOK is true once a 1000x1000 matrix multiply ran on the GPU.
	MatmulOK bool   `json:"matmulOk"`
	Error    string `json:"error,omitempty"`
}

// torchProbeOutput mirrors the JSON printed by torchProbeScript.
type torchProbeOutput struct {
	Installed     bool     `json:"installed"`
	Version       string   `json:"version"`
	CUDAAvailable bool     `json:"cuda_available"`
	CUDAVersion   string   `json:"cuda_version"`
	Devices       []string `json:"devices"`
	MatmulOK      bool     `json:"matmul_ok"`
	Error         string   `json:"error"`
}

// Torch probes CUDA through PyTorch in a Python subprocess.
type Torch struct {
	runner Runner
	python string
}

// NewTorch creates a Torch probe. An empty python uses DefaultPython.
func NewTorch(runner Runner, python string) *Torch {
	if python == "" {
		python = DefaultPython
	}
	return &Torch{runner: runner, python: python}
}

// Probe runs the probe script and parses its output. A missing interpreter
// is reported like a missing torch module.
func (t *Torch) Probe(ctx context.Context) CUDAResult {
	out, err := t.runner.Run(ctx, t.python, "-c", torchProbeScript)
	if err != nil {
		slog.Debug("torch probe failed", slog.String("python", t.python), slog.String("error", err.Error()))
		if errors.Is(err, ErrCommandNotFound) {
			return CUDAResult{Error: fmt.Sprintf("%s not found. %s", t.python, torchNotInstalledMessage)}
		}
		return CUDAResult{Error: fmt.Sprintf("Error checking CUDA: %v", err)}
	}
	return parseTorchProbe(out)
}

// parseTorchProbe decodes the last non-empty line of out, so warnings that
// torch prints while importing do not break parsing.
func parseTorchProbe(out string) CUDAResult {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])

	var p torchProbeOutput
	if err := json.Unmarshal([]byte(last), &p); err != nil {
		return CUDAResult{Error: fmt.Sprintf("Error checking CUDA: unexpected probe output %q", last)}
	}
	if !p.Installed {
		return CUDAResult{Error: torchNotInstalledMessage}
	}

	res := CUDAResult{
		Installed:    true,
		TorchVersion: p.Version,
		Available:    p.CUDAAvailable,
		CUDAVersion:  p.CUDAVersion,
		Devices:      p.Devices,
		MatmulOK:     p.MatmulOK,
	}
	if p.Error != "" {
		res.Available = false
		res.Error = "Error checking CUDA: " + p.Error
	}
	return res
}
