package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/nextlevelbuilder/agentd/internal/config"
)

// Execution statuses.
const (
	StatusSuccess         = "success"
	StatusError           = "error"
	StatusTimeout         = "timeout"
	StatusSecurityBlocked = "security_blocked"
)

const truncationMarker = "… [output truncated]"

// ExecutionRequest is one sandboxed run. Network opts the container into
// bridge networking for this run; it is forced on when pip packages are
// requested.
type ExecutionRequest struct {
	Code        string   `json:"code"`
	TimeoutSec  int      `json:"timeout_sec,omitempty"`
	Network     bool     `json:"network,omitempty"`
	PipPackages []string `json:"pip_packages,omitempty"`
}

// ExecutionResult is the outcome. Stdout and stderr are truncated to the
// configured byte limit; Truncated records that the cut happened.
type ExecutionResult struct {
	Status    string        `json:"status"`
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr"`
	ExitCode  int           `json:"exit_code"`
	Truncated bool          `json:"truncated"`
	Duration  time.Duration `json:"duration"`
	Warnings  []string      `json:"warnings,omitempty"`
}

// Manager runs code in throwaway containers. Each execution creates a
// fresh container and force-removes it afterwards.
type Manager struct {
	cli *client.Client
	cfg config.SandboxConfig
}

// NewManager connects to the local Docker daemon.
func NewManager(cfg config.SandboxConfig) (*Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Manager{cli: cli, cfg: cfg}, nil
}

// Ping verifies the daemon is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	if _, err := m.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}
	return nil
}

// PullImage fetches the sandbox image. Called at startup when configured.
func (m *Manager) PullImage(ctx context.Context) error {
	rc, err := m.cli.ImagePull(ctx, m.cfg.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull %s: %w", m.cfg.Image, err)
	}
	defer rc.Close()
	_, _ = io.Copy(io.Discard, rc)
	return nil
}

// Execute runs the request end to end: static check, container run,
// output collection. All failure modes come back as a result, not an
// error, so callers can hand the outcome straight to the LLM.
func (m *Manager) Execute(ctx context.Context, req ExecutionRequest) *ExecutionResult {
	check := Check(req.Code)
	if !check.Allowed {
		return &ExecutionResult{
			Status: StatusSecurityBlocked,
			Stderr: check.Reason,
		}
	}

	timeout := m.timeout(req.TimeoutSec)
	start := time.Now()

	result, err := m.runContainer(ctx, req, timeout)
	if err != nil {
		slog.Error("sandbox execution failed", "error", err)
		return &ExecutionResult{
			Status:   StatusError,
			Stderr:   err.Error(),
			Duration: time.Since(start),
			Warnings: check.Warnings,
		}
	}

	result.Duration = time.Since(start)
	result.Warnings = check.Warnings
	return result
}

func (m *Manager) timeout(requested int) time.Duration {
	sec := m.cfg.TimeoutSec
	if requested > 0 {
		sec = requested
	}
	if m.cfg.MaxTimeoutSec > 0 && sec > m.cfg.MaxTimeoutSec {
		sec = m.cfg.MaxTimeoutSec
	}
	if sec <= 0 {
		sec = 30
	}
	return time.Duration(sec) * time.Second
}

func (m *Manager) runContainer(ctx context.Context, req ExecutionRequest, timeout time.Duration) (*ExecutionResult, error) {
	workdir := m.cfg.ContainerWorkdir
	if workdir == "" {
		workdir = "/workspace"
	}

	networkMode := "none"
	if m.cfg.NetworkEnabled || req.Network || len(req.PipPackages) > 0 {
		// pip installs need the network; everything else runs isolated
		// unless this run asked for it.
		networkMode = "bridge"
	}

	pids := m.cfg.PidsLimit
	if pids <= 0 {
		pids = 64
	}
	memory := int64(m.cfg.MemoryLimitMB) * 1024 * 1024
	if memory <= 0 {
		memory = 256 * 1024 * 1024
	}
	cpuPeriod := m.cfg.CPUPeriod
	if cpuPeriod <= 0 {
		cpuPeriod = 100000
	}
	cpuQuota := m.cfg.CPUQuota
	if cpuQuota <= 0 {
		cpuQuota = 50000
	}

	created, err := m.cli.ContainerCreate(ctx,
		&container.Config{
			Image:           m.cfg.Image,
			Cmd:             []string{"sh", "-c", buildCommand(req.PipPackages)},
			WorkingDir:      workdir,
			NetworkDisabled: networkMode == "none",
		},
		&container.HostConfig{
			NetworkMode: container.NetworkMode(networkMode),
			SecurityOpt: []string{"no-new-privileges"},
			Resources: container.Resources{
				Memory:    memory,
				CPUPeriod: cpuPeriod,
				CPUQuota:  cpuQuota,
				PidsLimit: &pids,
			},
		},
		nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}
	containerID := created.ID

	defer func() {
		// Cleanup runs even when the parent context is gone.
		rmCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.cli.ContainerRemove(rmCtx, containerID, container.RemoveOptions{Force: true}); err != nil {
			slog.Warn("failed to remove sandbox container", "container_id", containerID[:12], "error", err)
		}
	}()

	if err := m.copyCode(ctx, containerID, workdir, req.Code); err != nil {
		return nil, err
	}

	if err := m.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	statusCh, errCh := m.cli.ContainerWait(waitCtx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if waitCtx.Err() != nil {
			_ = m.cli.ContainerKill(context.Background(), containerID, "SIGKILL")
			return &ExecutionResult{
				Status: StatusTimeout,
				Stderr: fmt.Sprintf("Execution timed out after %ds", int(timeout.Seconds())),
			}, nil
		}
		return nil, fmt.Errorf("wait container: %w", err)
	case status := <-statusCh:
		stdout, stderr, truncated := m.collectLogs(ctx, containerID)
		result := &ExecutionResult{
			Stdout:    stdout,
			Stderr:    stderr,
			ExitCode:  int(status.StatusCode),
			Truncated: truncated,
		}
		if status.StatusCode == 0 {
			result.Status = StatusSuccess
		} else {
			result.Status = StatusError
		}
		return result, nil
	}
}

// buildCommand installs requested packages before running the snippet.
func buildCommand(pipPackages []string) string {
	if len(pipPackages) == 0 {
		return "python /workspace/main.py"
	}
	return fmt.Sprintf("pip install --quiet --no-cache-dir %s && python /workspace/main.py",
		strings.Join(pipPackages, " "))
}

// copyCode injects main.py into the container via a tar stream.
func (m *Manager) copyCode(ctx context.Context, containerID, workdir, code string) error {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name: "main.py",
		Mode: 0o644,
		Size: int64(len(code)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("tar header: %w", err)
	}
	if _, err := tw.Write([]byte(code)); err != nil {
		return fmt.Errorf("tar write: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("tar close: %w", err)
	}

	if err := m.cli.CopyToContainer(ctx, containerID, workdir, &buf, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("copy code: %w", err)
	}
	return nil
}

func (m *Manager) collectLogs(ctx context.Context, containerID string) (stdout, stderr string, truncated bool) {
	rc, err := m.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", fmt.Sprintf("failed to collect logs: %v", err), false
	}
	defer rc.Close()

	var outBuf, errBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&outBuf, &errBuf, rc); err != nil {
		slog.Warn("log demux failed", "error", err)
	}
	var outCut, errCut bool
	stdout, outCut = m.truncate(outBuf.String())
	stderr, errCut = m.truncate(errBuf.String())
	return stdout, stderr, outCut || errCut
}

func (m *Manager) truncate(s string) (string, bool) {
	limit := m.cfg.MaxOutputBytes
	if limit <= 0 {
		limit = 64 * 1024
	}
	if len(s) <= limit {
		return s, false
	}
	// Cut on a rune boundary.
	cut := limit
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncationMarker, true
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// Close releases the Docker client.
func (m *Manager) Close() error { return m.cli.Close() }
