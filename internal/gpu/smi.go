package gpu

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// DefaultSMIBinary is the NVIDIA System Management Interface program.
const DefaultSMIBinary = "nvidia-smi"

// smiQueryFields are requested from nvidia-smi in this order.
var smiQueryFields = []string{
	"index",
	"name",
	"memory.total",
	"driver_version",
	"temperature.gpu",
	"utilization.gpu",
}

// smiFailureMessage is reported when nvidia-smi cannot be run.
const smiFailureMessage = "nvidia-smi command not found or failed. NVIDIA driver might not be installed."

// Device is one GPU as reported by nvidia-smi.
type Device struct {
	Index          int     `json:"index"`
	Name           string  `json:"name"`
	MemoryTotalMiB float64 `json:"memoryTotalMiB"`
	DriverVersion  string  `json:"driverVersion"`

	// TemperatureC and UtilizationPct are nil when nvidia-smi prints
	// "[N/A]" or "[Not Supported]".
	TemperatureC   *float64 `json:"temperatureC,omitempty"`
	UtilizationPct *float64 `json:"utilizationPct,omitempty"`
}

// SMIResult is the outcome of the nvidia-smi probe.
type SMIResult struct {
	OK bool `json:"ok"`

	// Raw is the default nvidia-smi table, printed as-is.
	Raw string `json:"-"`

	Devices []Device `json:"devices,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// SMI queries the NVIDIA driver through nvidia-smi.
type SMI struct {
	runner Runner
	binary string
}

// NewSMI creates an SMI probe. An empty binary uses DefaultSMIBinary.
func NewSMI(runner Runner, binary string) *SMI {
	if binary == "" {
		binary = DefaultSMIBinary
	}
	return &SMI{runner: runner, binary: binary}
}

// Collect runs nvidia-smi twice: once for the human-readable table and once
// with --query-gpu for structured device data. The probe fails only when
// the first invocation fails; a malformed query result is logged and leaves
// Devices empty.
func (s *SMI) Collect(ctx context.Context) SMIResult {
	raw, err := s.runner.Run(ctx, s.binary)
	if err != nil {
		slog.Debug("nvidia-smi failed", slog.String("error", err.Error()))
		return SMIResult{Error: smiFailureMessage}
	}

	res := SMIResult{OK: true, Raw: raw}

	out, err := s.runner.Run(ctx, s.binary,
		"--query-gpu="+strings.Join(smiQueryFields, ","),
		"--format=csv,noheader,nounits")
	if err != nil {
		slog.Debug("nvidia-smi query failed", slog.String("error", err.Error()))
		return res
	}

	devices, err := parseSMIQuery(out)
	if err != nil {
		slog.Debug("failed to parse nvidia-smi query output", slog.String("error", err.Error()))
		return res
	}
	res.Devices = devices
	return res
}

// parseSMIQuery parses `nvidia-smi --query-gpu=... --format=csv,noheader,nounits`
// output. Each line holds the fields listed in smiQueryFields.
//
// Example input:
//
//	0, Tesla T4, 15360, 535.183.01, 34, 0
func parseSMIQuery(out string) ([]Device, error) {
	r := csv.NewReader(strings.NewReader(out))
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = len(smiQueryFields)

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("invalid nvidia-smi csv: %w", err)
	}

	devices := make([]Device, 0, len(records))
	for _, rec := range records {
		idx, err := strconv.Atoi(strings.TrimSpace(rec[0]))
		if err != nil {
			return nil, fmt.Errorf("invalid gpu index %q: %w", rec[0], err)
		}
		mem, err := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid memory.total %q for gpu %d: %w", rec[2], idx, err)
		}
		devices = append(devices, Device{
			Index:          idx,
			Name:           strings.TrimSpace(rec[1]),
			MemoryTotalMiB: mem,
			DriverVersion:  strings.TrimSpace(rec[3]),
			TemperatureC:   optionalFloat(rec[4]),
			UtilizationPct: optionalFloat(rec[5]),
		})
	}
	return devices, nil
}

// optionalFloat parses s, returning nil for placeholders such as "[N/A]".
func optionalFloat(s string) *float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	return &v
}
