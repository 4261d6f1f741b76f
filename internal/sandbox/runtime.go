package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/sadlab/sadserver/pkg/models"
)

// The analysis web UI listens on a fixed port inside the container. The
// host side is always an ephemeral port read back from container inspect,
// so concurrent instances never collide.
const webUIContainerPort = "9090/tcp"

// Runtime is the single touchpoint with the Docker daemon. Everything the
// service does to a container (launch, exec, copy-in, shell attach, stop)
// goes through here.
type Runtime struct {
	client *client.Client
}

// NewRuntime creates a Docker-backed runtime from the environment
// (DOCKER_HOST etc.), negotiating the API version with the daemon.
func NewRuntime() (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Runtime{client: cli}, nil
}

// LaunchOptions describes one container launch.
type LaunchOptions struct {
	InstanceID  string
	Image       string
	CPUs        float64
	MemoryBytes int64
	PublishPort bool
}

// LaunchResult reports a successful launch.
type LaunchResult struct {
	ContainerID string
	HostPort    int // published web UI port on the host, 0 when unpublished
}

// Launch creates and starts a resource-limited container that idles until
// someone execs into it. The container is named after the instance id so it
// is identifiable in `docker ps` during a lab session.
func (rt *Runtime) Launch(ctx context.Context, opts LaunchOptions) (*LaunchResult, error) {
	containerConfig := &container.Config{
		Image: opts.Image,
		Cmd:   []string{"sleep", "infinity"},
		Labels: map[string]string{
			"instance-id": opts.InstanceID,
			"managed-by":  "sadserver",
		},
	}

	hostConfig := &container.HostConfig{
		AutoRemove: false,
		Resources: container.Resources{
			NanoCPUs: int64(opts.CPUs * 1e9),
			Memory:   opts.MemoryBytes,
		},
	}

	if opts.PublishPort {
		containerConfig.ExposedPorts = nat.PortSet{
			webUIContainerPort: struct{}{},
		}
		hostConfig.PortBindings = nat.PortMap{
			webUIContainerPort: []nat.PortBinding{
				{HostIP: "0.0.0.0", HostPort: "0"},
			},
		}
	}

	resp, err := rt.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, opts.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := rt.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// don't leave a created-but-never-started container behind
		_ = rt.client.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	result := &LaunchResult{ContainerID: resp.ID}

	if opts.PublishPort {
		inspect, err := rt.client.ContainerInspect(ctx, resp.ID)
		if err != nil {
			_ = rt.Stop(ctx, resp.ID)
			return nil, fmt.Errorf("failed to inspect container: %w", err)
		}
		bindings := inspect.NetworkSettings.Ports[webUIContainerPort]
		if len(bindings) == 0 {
			_ = rt.Stop(ctx, resp.ID)
			return nil, fmt.Errorf("no host port bound for %s", webUIContainerPort)
		}
		port, err := strconv.Atoi(bindings[0].HostPort)
		if err != nil {
			_ = rt.Stop(ctx, resp.ID)
			return nil, fmt.Errorf("unparseable host port %q: %w", bindings[0].HostPort, err)
		}
		result.HostPort = port
	}

	return result, nil
}

// Stop stops and removes a container.
func (rt *Runtime) Stop(ctx context.Context, containerID string) error {
	timeout := 10
	if err := rt.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	if err := rt.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

// Exec runs a command inside the container and captures its output.
// Stdout and stderr are demultiplexed; the exit code comes from exec inspect.
func (rt *Runtime) Exec(ctx context.Context, containerID string, cmd []string) (stdout, stderr string, exitCode int, err error) {
	created, err := rt.client.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", "", -1, fmt.Errorf("exec create: %w", err)
	}

	attach, err := rt.client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return "", "", -1, fmt.Errorf("exec attach: %w", err)
	}
	defer attach.Close()

	var outBuf, errBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&outBuf, &errBuf, attach.Reader); err != nil {
		return outBuf.String(), errBuf.String(), -1, fmt.Errorf("exec read: %w", err)
	}

	inspect, err := rt.client.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return outBuf.String(), errBuf.String(), -1, fmt.Errorf("exec inspect: %w", err)
	}

	return outBuf.String(), errBuf.String(), inspect.ExitCode, nil
}

// ExecDetached starts a command inside the container without waiting for it.
// Used for long-running background tools whose outcome is confirmed later by
// probing the process table.
func (rt *Runtime) ExecDetached(ctx context.Context, containerID string, cmd []string) error {
	created, err := rt.client.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:    cmd,
		Detach: true,
	})
	if err != nil {
		return fmt.Errorf("exec create: %w", err)
	}
	if err := rt.client.ContainerExecStart(ctx, created.ID, container.ExecStartOptions{Detach: true}); err != nil {
		return fmt.Errorf("exec start: %w", err)
	}
	return nil
}

// CopyFiles materializes files inside the container via a tar stream.
func (rt *Runtime) CopyFiles(ctx context.Context, containerID string, files []models.ScenarioFile) error {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, f := range files {
		mode := int64(f.Mode)
		if mode == 0 {
			mode = 0o644
		}
		hdr := &tar.Header{
			Name:    f.Path,
			Mode:    mode,
			Size:    int64(len(f.Content)),
			ModTime: time.Now(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("tar header %s: %w", f.Path, err)
		}
		if _, err := tw.Write([]byte(f.Content)); err != nil {
			return fmt.Errorf("tar body %s: %w", f.Path, err)
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("tar close: %w", err)
	}

	if err := rt.client.CopyToContainer(ctx, containerID, "/", &buf, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("copy to container: %w", err)
	}
	return nil
}

// AttachShell starts an interactive bash with a pseudo-terminal inside the
// container and returns the bidirectional byte stream. Closing the stream
// hangs up the tty, which terminates the shell.
func (rt *Runtime) AttachShell(ctx context.Context, containerID string) (io.ReadWriteCloser, error) {
	created, err := rt.client.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          []string{"/bin/bash"},
		Env:          []string{"TERM=xterm-256color"},
		Tty:          true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("shell exec create: %w", err)
	}

	attach, err := rt.client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{Tty: true})
	if err != nil {
		return nil, fmt.Errorf("shell exec attach: %w", err)
	}

	return &shellStream{hijack: attach}, nil
}

// shellStream adapts a hijacked exec connection to io.ReadWriteCloser.
// With a tty there is no stream multiplexing, so reads are raw bytes.
type shellStream struct {
	hijack types.HijackedResponse
}

func (s *shellStream) Read(p []byte) (int, error)  { return s.hijack.Reader.Read(p) }
func (s *shellStream) Write(p []byte) (int, error) { return s.hijack.Conn.Write(p) }

func (s *shellStream) Close() error {
	s.hijack.Close()
	return nil
}

// EnsureImage pulls an image if it is not present locally.
func (rt *Runtime) EnsureImage(ctx context.Context, ref string) error {
	images, err := rt.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return err
	}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == ref {
				return nil
			}
		}
	}

	reader, err := rt.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

// Close releases the Docker client.
func (rt *Runtime) Close() error {
	return rt.client.Close()
}
