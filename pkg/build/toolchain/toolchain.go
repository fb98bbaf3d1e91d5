// Package toolchain runs the componentizer toolchain as a subprocess
// inside an ephemeral Docker container, following the same container
// lifecycle (pull-if-missing, create, start, wait, collect logs, remove)
// used for native-plugin builds elsewhere in this codebase's Docker
// integration, substituting "build and exit" for "start and stay up". The
// workspace crosses the Docker API as a tar stream rather than a bind
// mount, so the Builder works the same whether it runs on bare metal or
// inside its own container alongside the daemon it talks to.
package toolchain

import (
	"bytes"
	"context"
	"fmt"
	"io"

	archive "github.com/moby/go-archive"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"

	modrunerrors "github.com/architect-io/modrun/pkg/errors"
)

// Client wraps the Docker SDK client used to run the componentizer
// toolchain.
type Client struct {
	docker *client.Client
}

// NewClient connects to the local Docker daemon using the same
// environment-derived configuration as every other Docker client in this
// codebase.
func NewClient() (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, modrunerrors.Internal("failed to create docker client", err)
	}
	return &Client{docker: cli}, nil
}

// RunOptions configures one toolchain invocation.
type RunOptions struct {
	// Image is the componentizer toolchain's container image.
	Image string
	// WorkspaceDir is a host directory archived into the container at
	// /workspace, containing the materialized source and provisioned WIT
	// files on the way in; the container's /workspace/out is extracted back
	// into it once the toolchain exits, carrying the produced component.
	WorkspaceDir string
	// Command is the entrypoint-relative command run inside the container.
	Command []string
	// Env is passed through as container environment variables.
	Env map[string]string
}

// Result carries a completed toolchain invocation's captured output.
type Result struct {
	Stdout   string
	ExitCode int64
}

// Run pulls Image if not already present, copies WorkspaceDir into a fresh
// container at /workspace, runs Command, waits for it to exit, extracts
// /workspace/out back onto WorkspaceDir, and returns the run's combined
// output. The container is always removed afterward regardless of outcome.
func (c *Client) Run(ctx context.Context, opts RunOptions) (Result, error) {
	if opts.Image == "" {
		return Result{}, modrunerrors.BadRequest("toolchain image is required", nil)
	}

	if _, err := c.docker.ImageInspect(ctx, opts.Image); err != nil {
		reader, err := c.docker.ImagePull(ctx, opts.Image, image.PullOptions{})
		if err != nil {
			return Result{}, modrunerrors.PreparationFailed("", fmt.Errorf("failed to pull toolchain image %q: %w", opts.Image, err))
		}
		_, _ = io.Copy(io.Discard, reader)
		reader.Close()
	}

	var envList []string
	for k, v := range opts.Env {
		envList = append(envList, fmt.Sprintf("%s=%s", k, v))
	}

	config := &container.Config{
		Image:      opts.Image,
		Cmd:        opts.Command,
		Env:        envList,
		WorkingDir: "/workspace",
	}

	resp, err := c.docker.ContainerCreate(ctx, config, &container.HostConfig{}, &network.NetworkingConfig{}, nil, "")
	if err != nil {
		return Result{}, modrunerrors.PreparationFailed("", fmt.Errorf("failed to create toolchain container: %w", err))
	}
	containerID := resp.ID
	defer func() {
		_ = c.docker.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
	}()

	workspaceTar, err := archive.TarWithOptions(opts.WorkspaceDir, &archive.TarOptions{
		ExcludePatterns: []string{".git", "node_modules", "__pycache__"},
	})
	if err != nil {
		return Result{}, modrunerrors.Internal("failed to archive build workspace", err)
	}
	defer workspaceTar.Close()
	if err := c.docker.CopyToContainer(ctx, containerID, "/workspace", workspaceTar, container.CopyToContainerOptions{}); err != nil {
		return Result{}, modrunerrors.PreparationFailed("", fmt.Errorf("failed to copy build workspace into toolchain container: %w", err))
	}

	if err := c.docker.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return Result{}, modrunerrors.PreparationFailed("", fmt.Errorf("failed to start toolchain container: %w", err))
	}

	statusCh, errCh := c.docker.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case err := <-errCh:
		if err != nil {
			return Result{}, modrunerrors.PreparationFailed("", fmt.Errorf("error waiting for toolchain container: %w", err))
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	}

	logs, err := c.docker.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return Result{}, modrunerrors.PreparationFailed("", fmt.Errorf("failed to read toolchain container logs: %w", err))
	}
	var buf bytes.Buffer
	_, _ = io.Copy(&buf, logs)
	logs.Close()

	result := Result{Stdout: buf.String(), ExitCode: exitCode}
	if exitCode != 0 {
		return result, modrunerrors.InvalidModule(fmt.Sprintf("toolchain rejected source, exit code %d: %s", exitCode, buf.String()), nil)
	}

	outTar, _, err := c.docker.CopyFromContainer(ctx, containerID, "/workspace/out")
	if err != nil {
		return result, modrunerrors.Internal("toolchain did not produce an output directory", err)
	}
	defer outTar.Close()
	if err := archive.Untar(outTar, opts.WorkspaceDir, &archive.TarOptions{}); err != nil {
		return result, modrunerrors.Internal("failed to extract toolchain output", err)
	}

	return result, nil
}
