// Package sandbox provisions isolated execution environments for agent
// sessions. When a container runtime is installed and an image is
// configured, agent processes run inside a throwaway container with the
// worktree bind-mounted; otherwise they run directly on the host.
package sandbox

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync"
)

// Runtime identifies a detected container runtime.
type Runtime string

const (
	RuntimeDocker Runtime = "docker"
	RuntimePodman Runtime = "podman"
	RuntimeNone   Runtime = "none"
)

// Spawner builds processes for agent sessions. Implementations pin the
// working directory and pass through only the environment the agent needs.
type Spawner interface {
	// Command builds a command for argv rooted at dir.
	Command(ctx context.Context, dir, name string, args ...string) *exec.Cmd
	// Isolated reports whether processes run inside a container.
	Isolated() bool
	// Describe returns a short label for logs and events.
	Describe() string
}

// Environment is the provisioned execution environment for one worktree.
type Environment struct {
	Spawner Spawner
	Runtime Runtime
	Image   string
	// Fallback is set when isolation was requested but no runtime was
	// found, so the agent runs directly instead.
	Fallback bool
}

// Options configures the provisioner.
type Options struct {
	// Enabled permits container isolation. Off forces the direct spawner.
	Enabled bool
	// Image is the container image to run agents in. Empty forces the
	// direct spawner even when a runtime is installed.
	Image string
	// Env lists environment variables passed through to agent processes.
	Env []string
}

// Provisioner detects the available runtime once and hands out
// per-worktree environments.
type Provisioner struct {
	opts Options

	detectOnce sync.Once
	runtime    Runtime
}

// NewProvisioner creates a Provisioner with the given options.
func NewProvisioner(opts Options) *Provisioner {
	return &Provisioner{opts: opts}
}

// DetectRuntime probes for a container runtime in PATH, docker first.
// The result is cached for the provisioner's lifetime.
func (p *Provisioner) DetectRuntime() Runtime {
	p.detectOnce.Do(func() {
		p.runtime = RuntimeNone
		for _, candidate := range []Runtime{RuntimeDocker, RuntimePodman} {
			if _, err := exec.LookPath(string(candidate)); err == nil {
				p.runtime = candidate
				return
			}
		}
	})
	return p.runtime
}

// Provision returns the execution environment for a worktree. It never
// fails; when isolation is unavailable it falls back to running agents
// directly and says so in the log.
func (p *Provisioner) Provision(worktree string) *Environment {
	direct := &Environment{
		Spawner: &DirectSpawner{Env: p.opts.Env},
		Runtime: RuntimeNone,
	}
	if !p.opts.Enabled {
		return direct
	}
	if p.opts.Image == "" {
		return direct
	}

	runtime := p.DetectRuntime()
	if runtime == RuntimeNone {
		log.Printf("[sandbox] no container runtime found, running agents directly")
		direct.Fallback = true
		return direct
	}

	return &Environment{
		Spawner: &ContainerSpawner{
			Runtime:  runtime,
			Image:    p.opts.Image,
			Worktree: worktree,
			Env:      p.opts.Env,
		},
		Runtime: runtime,
		Image:   p.opts.Image,
	}
}

// DirectSpawner runs processes on the host.
type DirectSpawner struct {
	// Env lists extra environment variables appended to the host env.
	Env []string
}

// Command builds a host command rooted at dir.
func (s *DirectSpawner) Command(ctx context.Context, dir, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}
	return cmd
}

func (s *DirectSpawner) Isolated() bool { return false }

func (s *DirectSpawner) Describe() string { return "direct" }

// ContainerSpawner runs processes in a throwaway container with the
// worktree bind-mounted at the same path, so file paths in agent output
// stay valid on the host.
type ContainerSpawner struct {
	Runtime  Runtime
	Image    string
	Worktree string
	// Env lists environment variables forwarded into the container.
	Env []string
}

// Command wraps argv in a container run.
func (s *ContainerSpawner) Command(ctx context.Context, dir, name string, args ...string) *exec.Cmd {
	runArgs := []string{
		"run", "--rm", "-i",
		"--init",
		"-v", s.Worktree + ":" + s.Worktree,
		"-w", dir,
	}
	for _, kv := range s.Env {
		runArgs = append(runArgs, "-e", kv)
	}
	runArgs = append(runArgs, s.Image, name)
	runArgs = append(runArgs, args...)
	return exec.CommandContext(ctx, string(s.Runtime), runArgs...)
}

func (s *ContainerSpawner) Isolated() bool { return true }

func (s *ContainerSpawner) Describe() string {
	return fmt.Sprintf("%s:%s", s.Runtime, s.Image)
}

// Verify both spawners satisfy Spawner at compile time.
var (
	_ Spawner = (*DirectSpawner)(nil)
	_ Spawner = (*ContainerSpawner)(nil)
)
