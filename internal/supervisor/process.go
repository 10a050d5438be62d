package supervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// ProcessSpawner starts workers by re-executing a binary, normally the
// running one, with extra environment entries that select the worker role
type ProcessSpawner struct {
	Path   string
	Args   []string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

// NewProcessSpawner creates a spawner for the current executable
func NewProcessSpawner(args, env []string) (*ProcessSpawner, error) {
	path, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate executable: %w", err)
	}

	return &ProcessSpawner{
		Path:   path,
		Args:   args,
		Env:    env,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}, nil
}

// Spawn starts one worker process. The process is not tied to ctx: its
// lifetime is managed by the supervisor through signals.
func (p *ProcessSpawner) Spawn(_ context.Context, slot int) (Process, error) {
	cmd := exec.Command(p.Path, p.Args...)
	cmd.Env = append(os.Environ(), p.Env...)
	cmd.Env = append(cmd.Env, fmt.Sprintf("PDFCONV_WORKER_SLOT=%d", slot))
	cmd.Stdout = p.Stdout
	cmd.Stderr = p.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker process: %w", err)
	}

	return &osProcess{cmd: cmd}, nil
}

type osProcess struct {
	cmd *exec.Cmd
}

func (p *osProcess) PID() int {
	return p.cmd.Process.Pid
}

func (p *osProcess) Wait() error {
	return p.cmd.Wait()
}

func (p *osProcess) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}

func (p *osProcess) Kill() error {
	return p.cmd.Process.Kill()
}
