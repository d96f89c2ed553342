// Package gpu verifies that the host can run GPU workloads.
//
// A check is made of independent probes:
//   - host platform and memory (CollectSystem)
//   - the NVIDIA driver, through nvidia-smi (SMI)
//   - CUDA as seen by PyTorch, through a short Python program (Torch)
//   - the Docker daemon's registered runtimes, looking for "nvidia" (Runtime)
//
// Checker runs the probes concurrently and assembles a Report. The host is
// considered ready when nvidia-smi succeeds and PyTorch sees a CUDA device;
// the container runtime is reported for information only.
//
// External programs are started through the Runner interface so tests can
// replace them with canned output.
package gpu
