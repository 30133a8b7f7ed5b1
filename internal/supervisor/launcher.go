package supervisor

import (
	"context"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	gopsprocess "github.com/shirou/gopsutil/v3/process"

	"github.com/multiacct/sessionhost/internal/isolation"
)

// ProcessLauncher is the standalone/reference Launcher: it spawns a
// configured external renderer-host binary as a child OS process per
// account, satisfying spec §4.3's "each account's execution is physically
// a separate process" without this module reaching into any particular
// GUI toolkit. A shell embedding this module as a library (rather than
// running it as a standalone host) supplies its own Launcher instead.
type ProcessLauncher struct {
	// BinaryPath is the renderer-host executable launched once per
	// account. It receives the account id, partition directory, session
	// label, user agent, the proxy protocol/host/port (when the proxy is
	// enabled) and the preload script path as command-line flags; proxy
	// credentials and the rest of the view policy are not passed to it. It
	// is expected to keep running until told to stop.
	BinaryPath string
}

// NewProcessLauncher constructs a ProcessLauncher that spawns binaryPath
// for every account.
func NewProcessLauncher(binaryPath string) *ProcessLauncher {
	return &ProcessLauncher{BinaryPath: binaryPath}
}

func (l *ProcessLauncher) Launch(ctx context.Context, runtime isolation.Runtime) (ProcessHandle, error) {
	cmd := exec.Command(l.BinaryPath,
		"--account-id", runtime.AccountID,
		"--partition-dir", runtime.Partition.Dir,
		"--session-label", string(runtime.SessionLabel),
		"--user-agent", runtime.View.UserAgent,
	)
	if runtime.Proxy.Enabled {
		cmd.Args = append(cmd.Args, "--proxy-protocol", runtime.Proxy.Protocol,
			"--proxy-host", runtime.Proxy.Host,
			"--proxy-port", fmt.Sprintf("%d", runtime.Proxy.Port))
	}
	if runtime.View.PreloadScript != "" {
		cmd.Args = append(cmd.Args, "--preload", runtime.View.PreloadScript)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("launch renderer host for %s: %w", runtime.AccountID, err)
	}

	return &osProcessHandle{cmd: cmd}, nil
}

// osProcessHandle wraps a spawned os/exec.Cmd as a ProcessHandle.
type osProcessHandle struct {
	cmd *exec.Cmd
}

func (h *osProcessHandle) Pid() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Probe reports whether the OS process is still alive. It does not
// observe whether the renderer inside it has hung: this reference Launcher
// never parses the renderer's own IPC, so a hung but still-running process
// passes the probe.
func (h *osProcessHandle) Probe(ctx context.Context, timeout time.Duration) error {
	proc, err := gopsprocess.NewProcess(int32(h.Pid()))
	if err != nil {
		return fmt.Errorf("probe process %d: %w", h.Pid(), err)
	}
	running, err := proc.IsRunning()
	if err != nil {
		return fmt.Errorf("probe process %d: %w", h.Pid(), err)
	}
	if !running {
		return fmt.Errorf("process %d is not running", h.Pid())
	}
	return nil
}

// Stop sends SIGTERM and waits up to timeout for the process to exit,
// force-killing it with SIGKILL if it has not.
func (h *osProcessHandle) Stop(ctx context.Context, timeout time.Duration) error {
	if h.cmd.Process == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- h.cmd.Wait() }()

	_ = h.cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		_ = h.cmd.Process.Kill()
		<-done
		return nil
	case <-ctx.Done():
		_ = h.cmd.Process.Kill()
		<-done
		return ctx.Err()
	}
}
