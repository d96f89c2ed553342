package gpu

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/docker/docker/api/types/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSMIQuery(t *testing.T) {
	out := "0, Tesla T4, 15360, 535.183.01, 34, 7\n1, Tesla T4, 15360, 535.183.01, [N/A], [Not Supported]\n"

	devices, err := parseSMIQuery(out)
	require.NoError(t, err)
	require.Len(t, devices, 2)

	d := devices[0]
	assert.Equal(t, 0, d.Index)
	assert.Equal(t, "Tesla T4", d.Name)
	assert.Equal(t, 15360.0, d.MemoryTotalMiB)
	assert.Equal(t, "535.183.01", d.DriverVersion)
	require.NotNil(t, d.TemperatureC)
	assert.Equal(t, 34.0, *d.TemperatureC)
	require.NotNil(t, d.UtilizationPct)
	assert.Equal(t, 7.0, *d.UtilizationPct)

	assert.Nil(t, devices[1].TemperatureC)
	assert.Nil(t, devices[1].UtilizationPct)
}

func TestParseSMIQuery_Errors(t *testing.T) {
	tests := []struct {
		name string
		out  string
	}{
		{"wrong field count", "0, Tesla T4, 15360\n"},
		{"bad index", "x, Tesla T4, 15360, 535, 34, 7\n"},
		{"bad memory", "0, Tesla T4, lots, 535, 34, 7\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseSMIQuery(tt.out)
			assert.Error(t, err)
		})
	}
}

func TestSMI_Collect(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		r := newFakeRunner()
		r.out["nvidia-smi"] = smiTable
		r.out["nvidia-smi query"] = smiQuery

		res := NewSMI(r, "").Collect(context.Background())
		assert.True(t, res.OK)
		assert.Equal(t, smiTable, res.Raw)
		require.Len(t, res.Devices, 1)
		assert.Empty(t, res.Error)
	})

	t.Run("binary missing", func(t *testing.T) {
		res := NewSMI(newFakeRunner(), "").Collect(context.Background())
		assert.False(t, res.OK)
		assert.Equal(t, "nvidia-smi command not found or failed. NVIDIA driver might not be installed.", res.Error)
	})

	t.Run("query fails but table works", func(t *testing.T) {
		r := newFakeRunner()
		r.out["nvidia-smi"] = smiTable
		r.errs["nvidia-smi query"] = errBoom

		res := NewSMI(r, "").Collect(context.Background())
		assert.True(t, res.OK)
		assert.Empty(t, res.Devices)
	})
}

func TestParseTorchProbe(t *testing.T) {
	tests := []struct {
		name      string
		out       string
		installed bool
		available bool
		errSub    string
	}{
		{
			name:      "cuda available",
			out:       torchOK,
			installed: true,
			available: true,
		},
		{
			name:      "warnings before json",
			out:       "UserWarning: something\n" + torchOK + "\n",
			installed: true,
			available: true,
		},
		{
			name:      "no cuda",
			out:       `{"installed": true, "version": "2.3.1", "cuda_available": false}`,
			installed: true,
		},
		{
			name:   "not installed",
			out:    `{"installed": false}`,
			errSub: "PyTorch is not installed. Install it with: pip install torch",
		},
		{
			name:      "runtime error",
			out:       `{"installed": true, "version": "2.3.1", "cuda_available": true, "error": "CUDA out of memory"}`,
			installed: true,
			errSub:    "Error checking CUDA: CUDA out of memory",
		},
		{
			name:   "garbage",
			out:    "Segmentation fault",
			errSub: "unexpected probe output",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := parseTorchProbe(tt.out)
			assert.Equal(t, tt.installed, res.Installed)
			assert.Equal(t, tt.available, res.Available)
			if tt.errSub == "" {
				assert.Empty(t, res.Error)
			} else {
				assert.Contains(t, res.Error, tt.errSub)
			}
		})
	}
}

func TestTorch_Probe(t *testing.T) {
	t.Run("parses output", func(t *testing.T) {
		r := newFakeRunner()
		r.out["python3"] = torchOK

		res := NewTorch(r, "").Probe(context.Background())
		assert.True(t, res.Available)
		assert.True(t, res.MatmulOK)
		assert.Equal(t, "12.1", res.CUDAVersion)
		assert.Equal(t, []string{"Tesla T4"}, res.Devices)
	})

	t.Run("custom interpreter missing", func(t *testing.T) {
		res := NewTorch(newFakeRunner(), "/opt/venv/bin/python").Probe(context.Background())
		assert.False(t, res.Available)
		assert.Contains(t, res.Error, "/opt/venv/bin/python not found")
	})

	t.Run("interpreter fails", func(t *testing.T) {
		r := newFakeRunner()
		r.errs["python3"] = errBoom
		res := NewTorch(r, "").Probe(context.Background())
		assert.Contains(t, res.Error, "Error checking CUDA")
	})
}

func TestRuntime_Check(t *testing.T) {
	t.Run("nvidia registered", func(t *testing.T) {
		d := &fakeDaemon{info: system.Info{
			ServerVersion:  "28.5.2",
			DefaultRuntime: "runc",
			Runtimes: map[string]system.RuntimeWithStatus{
				"runc":   {},
				"nvidia": {},
			},
		}}

		res := runtimeWith(d, nil).Check(context.Background())
		assert.True(t, res.Checked)
		assert.True(t, res.NvidiaAvailable)
		assert.Equal(t, []string{"nvidia", "runc"}, res.Runtimes)
		assert.Equal(t, "28.5.2", res.ServerVersion)
		assert.True(t, d.closed)
	})

	t.Run("only runc", func(t *testing.T) {
		d := &fakeDaemon{info: system.Info{
			Runtimes: map[string]system.RuntimeWithStatus{"runc": {}},
		}}
		res := runtimeWith(d, nil).Check(context.Background())
		assert.False(t, res.NvidiaAvailable)
		assert.Empty(t, res.Error)
	})

	t.Run("daemon down", func(t *testing.T) {
		res := runtimeWith(&fakeDaemon{err: errBoom}, nil).Check(context.Background())
		assert.Contains(t, res.Error, "Docker daemon is not responding")
	})

	t.Run("no socket", func(t *testing.T) {
		res := runtimeWith(nil, errBoom).Check(context.Background())
		assert.True(t, res.Checked)
		assert.Equal(t, "boom", res.Error)
	})
}

func TestDetectUnixSocket(t *testing.T) {
	dir := t.TempDir()
	sock := filepath.Join(dir, "docker.sock")
	require.NoError(t, os.WriteFile(sock, nil, 0o600))

	host, err := detectUnixSocket([]string{filepath.Join(dir, "missing.sock"), sock})
	require.NoError(t, err)
	assert.Equal(t, "unix://"+sock, host)

	_, err = detectUnixSocket([]string{filepath.Join(dir, "missing.sock")})
	assert.Error(t, err)
}

func TestSystemInfo_Format(t *testing.T) {
	s := SystemInfo{OS: "linux", Arch: "amd64", KernelRelease: "6.1.0"}
	assert.Equal(t, "linux/amd64 (kernel 6.1.0)", s.Platform())
	assert.Equal(t, "Unable to determine on this platform", s.RAM())

	s.RAMGiB = 15.4321
	assert.Equal(t, "15.4 GiB", s.RAM())
}

func TestCollectSystem(t *testing.T) {
	info, err := CollectSystem(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, info.OS)
	assert.NotEmpty(t, info.GoVersion)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = CollectSystem(ctx)
	assert.Error(t, err)
}

func newTestChecker(r *fakeRunner, rt *Runtime) *Checker {
	return &Checker{
		SMI:     NewSMI(r, ""),
		Torch:   NewTorch(r, ""),
		Runtime: rt,
		System: func(context.Context) (SystemInfo, error) {
			return SystemInfo{OS: "linux", Arch: "amd64", RAMGiB: 15.5}, nil
		},
	}
}

func TestChecker_Run(t *testing.T) {
	t.Run("healthy host", func(t *testing.T) {
		r := newFakeRunner()
		r.out["nvidia-smi"] = smiTable
		r.out["nvidia-smi query"] = smiQuery
		r.out["python3"] = torchOK
		d := &fakeDaemon{info: system.Info{Runtimes: map[string]system.RuntimeWithStatus{"nvidia": {}}}}

		report, err := newTestChecker(r, runtimeWith(d, nil)).Run(context.Background())
		require.NoError(t, err)
		assert.True(t, report.OK())
		assert.Equal(t, "linux", report.System.OS)
		require.NotNil(t, report.Runtime)
		assert.True(t, report.Runtime.NvidiaAvailable)
		assert.ElementsMatch(t, []string{"system", "smi", "torch", "runtime"}, mapKeys(report.ProbeDurations))
	})

	t.Run("no driver", func(t *testing.T) {
		r := newFakeRunner()
		r.out["python3"] = `{"installed": true, "version": "2.3.1", "cuda_available": false}`

		report, err := newTestChecker(r, nil).Run(context.Background())
		require.NoError(t, err)
		assert.False(t, report.OK())
		assert.False(t, report.SMI.OK)
		assert.Nil(t, report.Runtime, "runtime probe skipped")
		assert.NotContains(t, report.ProbeDurations, "runtime")
	})

	t.Run("driver but no torch", func(t *testing.T) {
		r := newFakeRunner()
		r.out["nvidia-smi"] = smiTable
		r.out["nvidia-smi query"] = smiQuery
		r.out["python3"] = `{"installed": false}`

		report, err := newTestChecker(r, nil).Run(context.Background())
		require.NoError(t, err)
		assert.True(t, report.SMI.OK)
		assert.False(t, report.OK())
	})

	t.Run("runtime failure does not fail the check", func(t *testing.T) {
		r := newFakeRunner()
		r.out["nvidia-smi"] = smiTable
		r.out["python3"] = torchOK

		report, err := newTestChecker(r, runtimeWith(nil, errBoom)).Run(context.Background())
		require.NoError(t, err)
		assert.True(t, report.OK())
		assert.NotEmpty(t, report.Runtime.Error)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := newTestChecker(newFakeRunner(), nil).Run(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestWriteTextfile(t *testing.T) {
	temp, util := 34.0, 50.0
	report := &Report{
		SMI: SMIResult{OK: true, Devices: []Device{{
			Index:          0,
			Name:           "Tesla T4",
			MemoryTotalMiB: 15360,
			TemperatureC:   &temp,
			UtilizationPct: &util,
		}}},
		CUDA: CUDAResult{Installed: true, Available: true},
		ProbeDurations: map[string]time.Duration{
			"smi":   200 * time.Millisecond,
			"torch": 2 * time.Second,
		},
	}

	path := filepath.Join(t.TempDir(), "t4dev_gpu.prom")
	require.NoError(t, WriteTextfile(report, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)

	assert.Contains(t, text, `t4dev_gpu_probe_duration_seconds_bucket{probe="smi",le="0.5"} 1`)
	assert.Contains(t, text, `t4dev_gpu_probe_duration_seconds_bucket{probe="torch",le="1"} 0`)
	assert.Contains(t, text, `t4dev_gpu_probe_duration_seconds_bucket{probe="torch",le="5"} 1`)
	assert.Contains(t, text, `t4dev_gpu_probe_duration_seconds_sum{probe="torch"} 2`)
	assert.Contains(t, text, `t4dev_gpu_probe_duration_seconds_count{probe="smi"} 1`)

	assert.Contains(t, text, `t4dev_gpu_memory_total_mib{gpu="0",name="Tesla T4"} 15360`)
	assert.Contains(t, text, `t4dev_gpu_temperature_celsius{gpu="0",name="Tesla T4"} 34`)
	assert.Contains(t, text, `t4dev_gpu_utilization_ratio{gpu="0",name="Tesla T4"} 0.5`)
	assert.Contains(t, text, "t4dev_gpu_cuda_available 1")
	assert.Contains(t, text, "t4dev_gpu_check_success 1")
}

// TestWriteTextfile_AfterRun writes the metrics of a real checker run.
func TestWriteTextfile_AfterRun(t *testing.T) {
	r := newFakeRunner()
	r.out["nvidia-smi"] = smiTable
	r.out["nvidia-smi query"] = smiQuery
	r.out["python3"] = torchOK

	report, err := newTestChecker(r, nil).Run(context.Background())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "t4dev_gpu.prom")
	require.NoError(t, WriteTextfile(report, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	for _, probe := range []string{"system", "smi", "torch"} {
		assert.Contains(t, string(data), `t4dev_gpu_probe_duration_seconds_count{probe="`+probe+`"} 1`)
	}
	assert.NotContains(t, string(data), `probe="runtime"`)
}

func mapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func TestWriteTextfile_Failure(t *testing.T) {
	report := &Report{}
	path := filepath.Join(t.TempDir(), "t4dev_gpu.prom")
	require.NoError(t, WriteTextfile(report, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "t4dev_gpu_check_success 0")
	assert.NotContains(t, string(data), "t4dev_gpu_memory_total_mib{")
}
