package orchestrator

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// ContainerRuntime is the slice of the container engine the handoff
// needs. The docker SDK satisfies it through dockerRuntime; tests use
// an in-memory fake.
type ContainerRuntime interface {
	Stop(ctx context.Context, name string) error
	Start(ctx context.Context, name string) error
}

type dockerRuntime struct {
	cli *client.Client
}

// NewDockerRuntime connects to the docker socket using the standard
// environment (DOCKER_HOST et al).
func NewDockerRuntime() (ContainerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to docker: %w", err)
	}
	return &dockerRuntime{cli: cli}, nil
}

func (d *dockerRuntime) Stop(ctx context.Context, name string) error {
	timeout := 30
	return d.cli.ContainerStop(ctx, name, container.StopOptions{Timeout: &timeout})
}

func (d *dockerRuntime) Start(ctx context.Context, name string) error {
	return d.cli.ContainerStart(ctx, name, container.StartOptions{})
}

// VRAMProber reports current GPU memory usage. The handoff treats
// anything under the release ceiling as a drained card.
type VRAMProber interface {
	UsedMiB(ctx context.Context) (int, error)
}

// SMIProber shells out to nvidia-smi. There is no stable library API
// for the query; the CLI's CSV output is the supported surface.
type SMIProber struct{}

func (SMIProber) UsedMiB(ctx context.Context) (int, error) {
	out, err := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=memory.used", "--format=csv,noheader,nounits").Output()
	if err != nil {
		return 0, fmt.Errorf("nvidia-smi failed: %w", err)
	}
	// Multi-GPU hosts report one line per card; the handoff cares about
	// total residency.
	total := 0
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		used, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil {
			return 0, fmt.Errorf("unparseable nvidia-smi output %q: %w", line, err)
		}
		total += used
	}
	return total, nil
}
