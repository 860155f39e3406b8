package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types"
	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/hirelane/livewire/internal/sandbox"
)

// Runtime implements sandbox.Runtime against candidate containers managed by
// the Docker daemon. Containers themselves are provisioned by the dashboard;
// this layer only execs into them.
type Runtime struct {
	client *client.Client

	// containerName resolves a candidate id to its container. Injected so the
	// naming scheme stays with the provisioning side.
	containerName func(candidateID string) string
}

// NewRuntime creates a new Docker runtime
func NewRuntime(containerName func(candidateID string) string) (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if containerName == nil {
		containerName = func(candidateID string) string {
			return "livewire-" + candidateID
		}
	}
	return &Runtime{client: cli, containerName: containerName}, nil
}

// Name returns the runtime name
func (r *Runtime) Name() string {
	return "docker"
}

// Ping verifies connectivity to the Docker daemon
func (r *Runtime) Ping(ctx context.Context) error {
	_, err := r.client.Ping(ctx)
	return err
}

// Close closes the Docker client connection
func (r *Runtime) Close() error {
	return r.client.Close()
}

// CreateShell starts an interactive shell in the candidate's container
func (r *Runtime) CreateShell(ctx context.Context, spec sandbox.ShellSpec) (*sandbox.Shell, error) {
	containerID := r.containerName(spec.CandidateID)

	inspect, err := r.client.ContainerInspect(ctx, containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, sandbox.ErrWorkspaceMissing
		}
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}
	if inspect.State == nil || !inspect.State.Running {
		return nil, fmt.Errorf("container %s is not running", containerID)
	}

	execConfig := dockercontainer.ExecOptions{
		Cmd:          []string{"/bin/bash", "-i"},
		Env:          spec.Env,
		WorkingDir:   spec.WorkingDir,
		AttachStdout: true,
		AttachStderr: true,
		AttachStdin:  true,
		Tty:          true,
	}

	execResp, err := r.client.ContainerExecCreate(ctx, containerID, execConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create exec: %w", err)
	}

	attachResp, err := r.client.ContainerExecAttach(ctx, execResp.ID, dockercontainer.ExecStartOptions{Tty: true})
	if err != nil {
		return nil, fmt.Errorf("failed to attach to exec: %w", err)
	}

	// With a TTY the stream is raw (no stdout/stderr multiplexing), so the
	// hijacked reader can feed the relay directly.
	stdoutReader, stdoutWriter := io.Pipe()
	go func() {
		defer func() { _ = stdoutWriter.Close() }()
		_, _ = io.Copy(stdoutWriter, attachResp.Reader)
	}()

	execID := execResp.ID
	wait := func() (int, error) {
		for {
			inspectResp, err := r.client.ContainerExecInspect(context.Background(), execID)
			if err != nil {
				return -1, fmt.Errorf("failed to inspect exec: %w", err)
			}
			if !inspectResp.Running {
				return inspectResp.ExitCode, nil
			}
			time.Sleep(100 * time.Millisecond)
		}
	}

	stdin := &hijackedWriteCloser{conn: attachResp}

	return sandbox.NewShell(stdin, stdoutReader, true, wait), nil
}

// Run executes a one-shot command in the candidate's container
func (r *Runtime) Run(ctx context.Context, candidateID string, cmd []string) (*sandbox.RunResult, error) {
	containerID := r.containerName(candidateID)

	execConfig := dockercontainer.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	}

	execResp, err := r.client.ContainerExecCreate(ctx, containerID, execConfig)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, sandbox.ErrWorkspaceMissing
		}
		return nil, fmt.Errorf("failed to create exec: %w", err)
	}

	attachResp, err := r.client.ContainerExecAttach(ctx, execResp.ID, dockercontainer.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach to exec: %w", err)
	}
	defer attachResp.Close()

	var outBuf, errBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&outBuf, &errBuf, attachResp.Reader); err != nil {
		return nil, fmt.Errorf("failed to read exec output: %w", err)
	}

	inspectResp, err := r.client.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect exec: %w", err)
	}

	return &sandbox.RunResult{
		Stdout:   outBuf.String(),
		Stderr:   errBuf.String(),
		ExitCode: inspectResp.ExitCode,
	}, nil
}

// hijackedWriteCloser wraps a HijackedResponse to implement io.WriteCloser
type hijackedWriteCloser struct {
	conn types.HijackedResponse
}

func (h *hijackedWriteCloser) Write(p []byte) (n int, err error) {
	return h.conn.Conn.Write(p)
}

func (h *hijackedWriteCloser) Close() error {
	h.conn.Close()
	return nil
}
