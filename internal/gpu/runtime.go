package gpu

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"time"

	"github.com/docker/docker/api/types/system"
	"github.com/docker/docker/client"
)

// NvidiaRuntime is the runtime name registered by the NVIDIA Container
// Toolkit.
const NvidiaRuntime = "nvidia"

// defaultInfoTimeout bounds the daemon Info request. Docker Desktop on macOS
// can take a few seconds to answer after waking up.
const defaultInfoTimeout = 5 * time.Second

// DaemonAPI is the subset of the Docker client used by Runtime.
// *client.Client satisfies it.
type DaemonAPI interface {
	Info(ctx context.Context) (system.Info, error)
	Close() error
}

// RuntimeResult describes the container runtimes the Docker daemon offers.
type RuntimeResult struct {
	// Checked is false when the probe was skipped.
	Checked bool `json:"checked"`

	ServerVersion  string   `json:"serverVersion,omitempty"`
	DefaultRuntime string   `json:"defaultRuntime,omitempty"`
	Runtimes       []string `json:"runtimes,omitempty"`

	// NvidiaAvailable is true when an "nvidia" runtime is registered.
	NvidiaAvailable bool   `json:"nvidiaAvailable"`
	Error           string `json:"error,omitempty"`
}

// Runtime asks the Docker daemon which runtimes it has registered.
type Runtime struct {
	connect func() (DaemonAPI, error)
}

// NewRuntime creates a Runtime that connects with NewDockerClient.
func NewRuntime() *Runtime {
	return &Runtime{connect: func() (DaemonAPI, error) { return NewDockerClient() }}
}

// Check queries the daemon. Connection or API failures are reported in
// RuntimeResult.Error; they never fail the overall check.
func (r *Runtime) Check(ctx context.Context) RuntimeResult {
	res := RuntimeResult{Checked: true}

	cli, err := r.connect()
	if err != nil {
		res.Error = err.Error()
		return res
	}
	defer func() { _ = cli.Close() }()

	infoCtx, cancel := context.WithTimeout(ctx, defaultInfoTimeout)
	defer cancel()

	info, err := cli.Info(infoCtx)
	if err != nil {
		slog.Debug("docker info failed", slog.String("error", err.Error()))
		res.Error = fmt.Sprintf("Docker daemon is not responding: %v", err)
		return res
	}

	res.ServerVersion = info.ServerVersion
	res.DefaultRuntime = info.DefaultRuntime
	for name := range info.Runtimes {
		res.Runtimes = append(res.Runtimes, name)
		if name == NvidiaRuntime {
			res.NvidiaAvailable = true
		}
	}
	sort.Strings(res.Runtimes)
	return res
}

// NewDockerClient creates a Docker client. DOCKER_HOST is honoured when set;
// otherwise the platform's default socket locations are probed.
func NewDockerClient() (*client.Client, error) {
	host := os.Getenv("DOCKER_HOST")
	if host == "" {
		var err error
		host, err = detectDockerHost()
		if err != nil {
			return nil, err
		}
	}

	c, err := client.NewClientWithOpts(
		client.WithHost(host),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client for host %q: %w", host, err)
	}
	return c, nil
}

// detectDockerHost returns the Docker host URI for the current platform.
func detectDockerHost() (string, error) {
	switch runtime.GOOS {
	case "linux":
		return detectUnixSocket([]string{"/var/run/docker.sock"})
	case "darwin":
		paths := []string{"/var/run/docker.sock"}
		if home, err := os.UserHomeDir(); err == nil {
			paths = append(paths, home+"/.docker/run/docker.sock")
		}
		return detectUnixSocket(paths)
	case "windows":
		return "npipe:////./pipe/docker_engine", nil
	default:
		return "", fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

// detectUnixSocket returns the URI of the first path that exists.
func detectUnixSocket(paths []string) (string, error) {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return "unix://" + path, nil
		}
	}
	return "", fmt.Errorf("Docker socket not found at any of: %v (is Docker running?)", paths)
}
