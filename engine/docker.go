package engine

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// workspacePort is the port the workspace image serves on inside the
// container; the spec's host port is published onto it.
const workspacePort = "3000/tcp"

// DockerEngine implements Engine against the local Docker daemon.
type DockerEngine struct {
	cli *client.Client
}

func NewDockerEngine() (*DockerEngine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	if _, err := cli.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to reach docker daemon: %w", err)
	}

	log.Println("Connected to Docker daemon")
	return &DockerEngine{cli: cli}, nil
}

func (e *DockerEngine) Create(ctx context.Context, spec Spec) (string, error) {
	reader, err := e.cli.ImagePull(ctx, spec.Image, image.PullOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to pull image %s: %w", spec.Image, err)
	}
	io.Copy(io.Discard, reader)
	reader.Close()

	config := &container.Config{
		Image:        spec.Image,
		ExposedPorts: nat.PortSet{workspacePort: struct{}{}},
		Labels:       spec.Labels,
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			workspacePort: []nat.PortBinding{
				{HostIP: "0.0.0.0", HostPort: fmt.Sprintf("%d", spec.Port)},
			},
		},
		RestartPolicy: container.RestartPolicy{Name: "unless-stopped"},
	}

	resp, err := e.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	log.Printf("Engine: created container %s (port %d)", resp.ID[:12], spec.Port)
	return resp.ID, nil
}

func (e *DockerEngine) Start(ctx context.Context, handle string) error {
	if err := e.cli.ContainerStart(ctx, handle, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}
	return nil
}

func (e *DockerEngine) Stop(ctx context.Context, handle string) error {
	timeout := 10
	if err := e.cli.ContainerStop(ctx, handle, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	return nil
}

func (e *DockerEngine) Remove(ctx context.Context, handle string) error {
	if err := e.cli.ContainerRemove(ctx, handle, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}
