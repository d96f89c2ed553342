package gpu

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// probeBuckets are the histogram buckets for probe durations, in seconds.
var probeBuckets = []float64{0.1, 0.5, 1, 5, 10, 30}

// WriteTextfile writes the report as Prometheus gauges to path, in the
// format read by the node_exporter textfile collector. The file is written
// atomically.
func WriteTextfile(report *Report, path string) error {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	probeDuration := factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "t4dev_gpu_probe_duration_seconds",
		Help:    "Time taken by individual GPU check probes",
		Buckets: probeBuckets,
	}, []string{"probe"}) // system, smi, torch, runtime

	memory := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "t4dev_gpu_memory_total_mib",
		Help: "Total GPU memory reported by nvidia-smi, in MiB",
	}, []string{"gpu", "name"})
	temperature := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "t4dev_gpu_temperature_celsius",
		Help: "GPU core temperature reported by nvidia-smi",
	}, []string{"gpu", "name"})
	utilization := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "t4dev_gpu_utilization_ratio",
		Help: "GPU utilization reported by nvidia-smi, 0 to 1",
	}, []string{"gpu", "name"})
	cudaAvailable := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "t4dev_gpu_cuda_available",
		Help: "1 if PyTorch reports a usable CUDA device",
	})
	success := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "t4dev_gpu_check_success",
		Help: "1 if the GPU check passed",
	})
	reg.MustRegister(memory, temperature, utilization, cudaAvailable, success)

	for _, d := range report.SMI.Devices {
		labels := prometheus.Labels{"gpu": strconv.Itoa(d.Index), "name": d.Name}
		memory.With(labels).Set(d.MemoryTotalMiB)
		if d.TemperatureC != nil {
			temperature.With(labels).Set(*d.TemperatureC)
		}
		if d.UtilizationPct != nil {
			utilization.With(labels).Set(*d.UtilizationPct / 100)
		}
	}
	for probe, d := range report.ProbeDurations {
		probeDuration.WithLabelValues(probe).Observe(d.Seconds())
	}
	cudaAvailable.Set(boolFloat(report.CUDA.Available))
	success.Set(boolFloat(report.OK()))

	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
