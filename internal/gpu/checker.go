package gpu

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Report is the combined result of all probes.
type Report struct {
	System  SystemInfo     `json:"system"`
	SMI     SMIResult      `json:"nvidiaSmi"`
	CUDA    CUDAResult     `json:"cuda"`
	Runtime *RuntimeResult `json:"containerRuntime,omitempty"`

	Duration time.Duration `json:"duration"`

	// ProbeDurations holds the wall time of each probe, keyed by probe name
	// (system, smi, torch, runtime).
	ProbeDurations map[string]time.Duration `json:"probeDurations,omitempty"`
}

// OK reports whether the host is ready for GPU work: nvidia-smi succeeded
// and PyTorch sees CUDA.
func (r *Report) OK() bool {
	return r.SMI.OK && r.CUDA.Available
}

// Checker runs the GPU probes.
type Checker struct {
	SMI   *SMI
	Torch *Torch

	// Runtime is optional. A nil Runtime skips the container runtime probe.
	Runtime *Runtime

	// System collects host information. Defaults to CollectSystem.
	System func(ctx context.Context) (SystemInfo, error)
}

// NewChecker creates a Checker that runs external programs through runner.
// python selects the interpreter for the PyTorch probe. When skipDocker is
// set the container runtime is not queried.
func NewChecker(runner Runner, python string, skipDocker bool) *Checker {
	c := &Checker{
		SMI:    NewSMI(runner, ""),
		Torch:  NewTorch(runner, python),
		System: CollectSystem,
	}
	if !skipDocker {
		c.Runtime = NewRuntime()
	}
	return c
}

// Run executes all probes in parallel and returns the report. Probe
// failures are recorded in the report; an error is returned only when the
// context is cancelled or host information cannot be collected.
func (c *Checker) Run(ctx context.Context) (*Report, error) {
	slog.Debug("starting gpu check")

	start := time.Now()
	report := &Report{ProbeDurations: make(map[string]time.Duration)}

	var mu sync.Mutex
	observe := func(probe string, start time.Time) {
		mu.Lock()
		report.ProbeDurations[probe] = time.Since(start)
		mu.Unlock()
	}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer observe("system", time.Now())
		collect := c.System
		if collect == nil {
			collect = CollectSystem
		}
		info, err := collect(gctx)
		if err != nil {
			return fmt.Errorf("failed to collect system information: %w", err)
		}
		mu.Lock()
		report.System = info
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		defer observe("smi", time.Now())
		res := c.SMI.Collect(gctx)
		mu.Lock()
		report.SMI = res
		mu.Unlock()
		slog.Debug("nvidia-smi probe done", slog.Bool("ok", res.OK), slog.Int("devices", len(res.Devices)))
		return nil
	})

	g.Go(func() error {
		defer observe("torch", time.Now())
		res := c.Torch.Probe(gctx)
		mu.Lock()
		report.CUDA = res
		mu.Unlock()
		slog.Debug("torch probe done", slog.Bool("cuda_available", res.Available))
		return nil
	})

	if c.Runtime != nil {
		g.Go(func() error {
			defer observe("runtime", time.Now())
			res := c.Runtime.Check(gctx)
			mu.Lock()
			report.Runtime = &res
			mu.Unlock()
			slog.Debug("container runtime probe done", slog.Bool("nvidia", res.NvidiaAvailable))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	// Probes swallow their own errors, so a cancelled check shows up only
	// on the parent context.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report.Duration = time.Since(start)
	slog.Debug("gpu check complete", slog.Bool("ok", report.OK()), slog.Duration("elapsed", report.Duration))
	return report, nil
}
