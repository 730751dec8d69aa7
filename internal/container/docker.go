package container

import (
	"context"
	"fmt"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
)

// dockerRuntime implements Runtime against the Docker Engine API.
type dockerRuntime struct {
	cli *client.Client
}

// NewDockerRuntime connects to the local Docker daemon using environment
// configuration (DOCKER_HOST etc.) with API version negotiation.
func NewDockerRuntime() (Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("connect to docker daemon: %w", err)
	}
	return &dockerRuntime{cli: cli}, nil
}

func (d *dockerRuntime) Create(ctx context.Context, spec Spec) (string, error) {
	cfg := &dockercontainer.Config{
		Image:        spec.Image,
		Cmd:          spec.Cmd,
		Env:          spec.Env,
		Labels:       spec.Labels,
		WorkingDir:   spec.WorkingDir,
		OpenStdin:    true,
		StdinOnce:    true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	}
	hostCfg := &dockercontainer.HostConfig{
		Binds: spec.Binds,
	}
	created, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("create container %s: %w", spec.Name, err)
	}
	return created.ID, nil
}

func (d *dockerRuntime) Attach(ctx context.Context, id string) (*AttachedStreams, error) {
	resp, err := d.cli.ContainerAttach(ctx, id, dockercontainer.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("attach container %s: %w", id, err)
	}
	return &AttachedStreams{
		Stdin:  &hijackedStdin{resp: resp},
		Output: resp.Reader,
		Close:  resp.Close,
	}, nil
}

// hijackedStdin adapts the hijacked connection's write half. Close sends a
// half-close so the container observes EOF on its stdin.
type hijackedStdin struct {
	resp dockertypes.HijackedResponse
}

func (h *hijackedStdin) Write(p []byte) (int, error) {
	return h.resp.Conn.Write(p)
}

func (h *hijackedStdin) Close() error {
	return h.resp.CloseWrite()
}

func (d *dockerRuntime) Start(ctx context.Context, id string) error {
	if err := d.cli.ContainerStart(ctx, id, dockercontainer.StartOptions{}); err != nil {
		return fmt.Errorf("start container %s: %w", id, err)
	}
	return nil
}

func (d *dockerRuntime) Stop(ctx context.Context, id string, grace time.Duration) error {
	seconds := int(grace.Seconds())
	return d.cli.ContainerStop(ctx, id, dockercontainer.StopOptions{Timeout: &seconds})
}

func (d *dockerRuntime) Kill(ctx context.Context, id string) error {
	return d.cli.ContainerKill(ctx, id, "SIGKILL")
}

func (d *dockerRuntime) Wait(ctx context.Context, id string) (int64, error) {
	waitCh, errCh := d.cli.ContainerWait(ctx, id, dockercontainer.WaitConditionNotRunning)
	select {
	case resp := <-waitCh:
		if resp.Error != nil {
			return -1, fmt.Errorf("wait container %s: %s", id, resp.Error.Message)
		}
		return resp.StatusCode, nil
	case err := <-errCh:
		return -1, fmt.Errorf("wait container %s: %w", id, err)
	}
}

func (d *dockerRuntime) Remove(ctx context.Context, id string) error {
	return d.cli.ContainerRemove(ctx, id, dockercontainer.RemoveOptions{Force: true})
}

func (d *dockerRuntime) ListByLabel(ctx context.Context, key, value string) ([]string, error) {
	args := filters.NewArgs(
		filters.Arg("label", fmt.Sprintf("%s=%s", key, value)),
		filters.Arg("status", "running"),
		filters.Arg("status", "created"),
	)
	list, err := d.cli.ContainerList(ctx, dockercontainer.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, fmt.Errorf("list containers by label %s: %w", key, err)
	}
	ids := make([]string, 0, len(list))
	for _, item := range list {
		ids = append(ids, item.ID)
	}
	return ids, nil
}
