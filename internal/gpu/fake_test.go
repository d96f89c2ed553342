package gpu

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/docker/docker/api/types/system"
)

// fakeRunner returns canned output keyed by program name and, for
// nvidia-smi, whether the --query-gpu form was used.
type fakeRunner struct {
	mu    sync.Mutex
	out   map[string]string
	errs  map[string]error
	calls []string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{out: map[string]string{}, errs: map[string]error{}}
}

func runnerKey(name string, args []string) string {
	if len(args) > 0 && strings.HasPrefix(args[0], "--query-gpu=") {
		return name + " query"
	}
	return name
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	key := runnerKey(name, args)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, key)

	if err, ok := f.errs[key]; ok {
		return "", err
	}
	if out, ok := f.out[key]; ok {
		return out, nil
	}
	return "", fmt.Errorf("%s: %w", name, ErrCommandNotFound)
}

// fakeDaemon is a DaemonAPI returning a fixed Info.
type fakeDaemon struct {
	info   system.Info
	err    error
	closed bool
}

func (f *fakeDaemon) Info(context.Context) (system.Info, error) {
	return f.info, f.err
}

func (f *fakeDaemon) Close() error {
	f.closed = true
	return nil
}

func runtimeWith(d *fakeDaemon, connectErr error) *Runtime {
	return &Runtime{connect: func() (DaemonAPI, error) {
		if connectErr != nil {
			return nil, connectErr
		}
		return d, nil
	}}
}

var errBoom = errors.New("boom")

const smiTable = `+-----------------------------------------------------------------------------+
| NVIDIA-SMI 535.183.01   Driver Version: 535.183.01   CUDA Version: 12.2     |
|   0  Tesla T4            On   | 00000000:00:1E.0 Off |                    0 |
+-----------------------------------------------------------------------------+
`

const smiQuery = "0, Tesla T4, 15360, 535.183.01, 34, 7\n"

const torchOK = `{"installed": true, "version": "2.3.1+cu121", "cuda_available": true, "cuda_version": "12.1", "devices": ["Tesla T4"], "matmul_ok": true}`
