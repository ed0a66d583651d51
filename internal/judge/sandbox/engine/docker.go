package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"judgebox/internal/judge/sandbox/result"
	"judgebox/internal/judge/sandbox/spec"
	appErr "judgebox/pkg/errors"
	"judgebox/pkg/utils/logger"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-units"
	specs "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"
)

type dockerClient interface {
	Close() error
	ImagePull(ctx context.Context, ref string, opts image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *specs.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// DockerEngine runs each RunSpec in a fresh container with the workspace bind-mounted.
type DockerEngine struct {
	cfg      Config
	cli      dockerClient
	registry *runRegistry
}

const (
	cleanupTimeout = 10 * time.Second
	tmpfsOptions   = "rw,exec,size=64m"
)

// NewDockerEngine connects to the daemon described by the DOCKER_* environment.
func NewDockerEngine(cfg Config) (*DockerEngine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.SandboxUnavailable, "create docker client failed")
	}
	return newDockerEngineWithClient(cli, cfg), nil
}

func newDockerEngineWithClient(cli dockerClient, cfg Config) *DockerEngine {
	return &DockerEngine{
		cfg:      cfg.withDefaults(),
		cli:      cli,
		registry: newRunRegistry(),
	}
}

// Close releases the docker client.
func (d *DockerEngine) Close() error {
	return d.cli.Close()
}

func (d *DockerEngine) Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error) {
	if err := validateRunSpec(runSpec); err != nil {
		return result.RunResult{}, err
	}
	if runSpec.Image == "" {
		return result.RunResult{}, appErr.ValidationError("image", "required")
	}
	if err := ctx.Err(); err != nil {
		return result.RunResult{}, err
	}

	containerID, err := d.createContainer(ctx, runSpec)
	if err != nil {
		return result.RunResult{}, err
	}
	d.registry.add(runSpec.SubmissionID, containerID)
	defer func() {
		d.registry.remove(runSpec.SubmissionID, containerID)
		d.removeContainer(containerID)
	}()

	start := time.Now()
	if err := d.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return result.RunResult{}, appErr.Wrapf(err, appErr.SandboxUnavailable, "start container failed")
	}

	waitCtx := ctx
	var cancel context.CancelFunc
	if wall := durationFromMs(runSpec.Limits.WallTimeMs); wall > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, wall)
	}
	status, waitErr := d.waitForExit(waitCtx, containerID)
	if cancel != nil {
		cancel()
	}
	wallMs := time.Since(start).Milliseconds()

	runResult := result.RunResult{TimeMs: wallMs, WallMs: wallMs}
	switch {
	case waitErr == nil:
		runResult.ExitCode = int(status.StatusCode)
	case ctx.Err() != nil:
		return result.RunResult{}, ctx.Err()
	case errors.Is(waitErr, context.DeadlineExceeded):
		runResult.TimedOut = true
		runResult.ExitCode = -1
		return runResult, nil
	default:
		return result.RunResult{}, appErr.InfrastructureError(waitErr, "wait for container failed")
	}

	// Inspection and log collection must finish even when the caller's deadline is near.
	collectCtx, cancelCollect := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancelCollect()

	inspect, err := d.cli.ContainerInspect(collectCtx, containerID)
	if err != nil {
		return result.RunResult{}, appErr.InfrastructureError(err, "inspect container failed")
	}
	if inspect.ContainerJSONBase != nil && inspect.State != nil {
		runResult.OomKilled = inspect.State.OOMKilled
	}

	stdout, stderr, outputBytes, err := d.fetchLogs(collectCtx, containerID)
	if err != nil {
		return result.RunResult{}, appErr.InfrastructureError(err, "fetch container logs failed")
	}
	runResult.Stdout = stdout
	runResult.Stderr = stderr
	runResult.OutputKB = outputBytes / 1024
	return runResult, nil
}

func (d *DockerEngine) KillSubmission(ctx context.Context, submissionID string) error {
	if submissionID == "" {
		return appErr.ValidationError("submission_id", "required")
	}
	for _, containerID := range d.registry.snapshot(submissionID) {
		if err := d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
			logger.Warn(ctx, "remove container failed", zap.String("container_id", containerID), zap.Error(err))
		}
	}
	return nil
}

func (d *DockerEngine) createContainer(ctx context.Context, runSpec spec.RunSpec) (string, error) {
	config, hostConfig, err := d.containerConfig(runSpec)
	if err != nil {
		return "", err
	}

	resp, err := d.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, "")
	if err != nil && client.IsErrNotFound(err) && d.cfg.PullImages {
		if pullErr := d.pullImage(ctx, runSpec.Image); pullErr != nil {
			return "", pullErr
		}
		resp, err = d.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, "")
	}
	if err != nil {
		return "", appErr.Wrapf(err, appErr.SandboxUnavailable, "create container from %s failed", runSpec.Image)
	}
	for _, warning := range resp.Warnings {
		logger.Warn(ctx, "container create warning", zap.String("warning", warning))
	}
	return resp.ID, nil
}

func (d *DockerEngine) containerConfig(runSpec spec.RunSpec) (*container.Config, *container.HostConfig, error) {
	workDir := d.cfg.ContainerWorkDir
	cmd := runSpec.Cmd
	if runSpec.StdinPath != "" {
		stdin, err := d.containerPath(runSpec.StdinPath, runSpec.WorkDir)
		if err != nil {
			return nil, nil, err
		}
		cmd = append([]string{"/bin/sh", "-c", `exec "$@" < "$STDIN_PATH"`, "sandbox"}, runSpec.Cmd...)
		runSpec.Env = append(append([]string(nil), runSpec.Env...), "STDIN_PATH="+stdin)
	}

	config := &container.Config{
		Image:           runSpec.Image,
		Cmd:             cmd,
		Env:             runSpec.Env,
		WorkingDir:      workDir,
		AttachStdout:    true,
		AttachStderr:    true,
		NetworkDisabled: runSpec.DisableNetwork,
		Labels: map[string]string{
			"judgebox.submission": runSpec.SubmissionID,
			"judgebox.test":       runSpec.TestID,
		},
	}
	if runSpec.RunAs.UID > 0 {
		config.User = fmt.Sprintf("%d:%d", runSpec.RunAs.UID, runSpec.RunAs.GID)
	}

	limits := runSpec.Limits
	resources := container.Resources{}
	if limits.MemoryMB > 0 {
		resources.Memory = limits.MemoryMB * 1024 * 1024
		resources.MemorySwap = resources.Memory
	}
	if limits.CPUQuota > 0 {
		resources.NanoCPUs = int64(limits.CPUQuota * 1e9)
	}
	if limits.PIDs > 0 {
		pids := limits.PIDs
		resources.PidsLimit = &pids
	}
	if limits.OutputMB > 0 {
		fsize := limits.OutputMB * 1024 * 1024
		resources.Ulimits = append(resources.Ulimits, &units.Ulimit{Name: "fsize", Soft: fsize, Hard: fsize})
	}
	if limits.StackMB > 0 {
		stack := limits.StackMB * 1024 * 1024
		resources.Ulimits = append(resources.Ulimits, &units.Ulimit{Name: "stack", Soft: stack, Hard: stack})
	}

	hostConfig := &container.HostConfig{
		Resources:      resources,
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		ReadonlyRootfs: true,
		Tmpfs:          map[string]string{"/tmp": tmpfsOptions},
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: runSpec.WorkDir,
			Target: workDir,
		}},
	}
	if runSpec.DisableNetwork {
		hostConfig.NetworkMode = "none"
	}
	for _, m := range runSpec.BindMounts {
		hostConfig.Mounts = append(hostConfig.Mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}
	return config, hostConfig, nil
}

// containerPath maps a host path inside the workspace, or a workspace-relative name, to its
// location under the container work directory.
func (d *DockerEngine) containerPath(p, hostWorkDir string) (string, error) {
	rel := p
	if filepath.IsAbs(p) {
		var err error
		rel, err = filepath.Rel(hostWorkDir, p)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", appErr.ValidationError("stdin_path", "outside work dir")
		}
	}
	return path.Join(d.cfg.ContainerWorkDir, filepath.ToSlash(rel)), nil
}

func (d *DockerEngine) pullImage(ctx context.Context, ref string) error {
	logger.Info(ctx, "pulling image", zap.String("image", ref))
	reader, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return appErr.Wrapf(err, appErr.SandboxUnavailable, "pull image %s failed", ref)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return appErr.Wrapf(err, appErr.SandboxUnavailable, "consume pull output for %s failed", ref)
	}
	return nil
}

func (d *DockerEngine) waitForExit(ctx context.Context, containerID string) (*container.WaitResponse, error) {
	statusCh, errCh := d.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		if status.Error != nil {
			return nil, fmt.Errorf("container error: %s", status.Error.Message)
		}
		return &status, nil
	case err := <-errCh:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("wait for container: %w", err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *DockerEngine) fetchLogs(ctx context.Context, containerID string) (string, string, int64, error) {
	logs, err := d.cli.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", 0, err
	}
	defer logs.Close()

	stdout := &cappedBuffer{max: d.cfg.StdoutStderrMaxBytes}
	stderr := &cappedBuffer{max: d.cfg.StdoutStderrMaxBytes}
	if _, err := stdcopy.StdCopy(stdout, stderr, logs); err != nil {
		return "", "", 0, err
	}
	return stdout.String(), stderr.String(), stdout.total, nil
}

func (d *DockerEngine) removeContainer(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		logger.Warn(ctx, "remove container failed", zap.String("container_id", containerID), zap.Error(err))
	}
}

func (d *DockerEngine) String() string {
	return "docker(workdir=" + d.cfg.ContainerWorkDir + " pull=" + strconv.FormatBool(d.cfg.PullImages) + ")"
}

// cappedBuffer keeps the first max bytes and counts the rest.
type cappedBuffer struct {
	buf   bytes.Buffer
	max   int64
	total int64
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	c.total += int64(len(p))
	if room := c.max - int64(c.buf.Len()); room > 0 {
		if int64(len(p)) > room {
			c.buf.Write(p[:room])
		} else {
			c.buf.Write(p)
		}
	}
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	return c.buf.String()
}
