package localservice

import (
	"fmt"
	"os"
	"os/exec"
	"sync/atomic"
)

// Spawner launches the daemon process. The extra env entries are appended
// to the parent environment.
type Spawner interface {
	Start(command []string, extraEnv []string) (Process, error)
}

// Process is a handle on one spawned child.
type Process interface {
	Alive() bool
	Kill() error
}

// ExecSpawner is the production spawner backed by os/exec.
type ExecSpawner struct{}

func (ExecSpawner) Start(command []string, extraEnv []string) (Process, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("empty spawn command")
	}
	cmd := exec.Command(command[0], command[1:]...)
	cmd.Env = append(os.Environ(), extraEnv...)
	// Child output is not surfaced to the parent except via its own logs.
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &execProcess{cmd: cmd}
	go func() {
		_ = cmd.Wait()
		p.done.Store(true)
	}()
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done atomic.Bool
}

func (p *execProcess) Alive() bool {
	return !p.done.Load()
}

func (p *execProcess) Kill() error {
	if p.done.Load() {
		return nil
	}
	return p.cmd.Process.Kill()
}
