package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/blastgcp/blastq/internal/domain"
)

// Config describes the BLAST container.
type Config struct {
	Image      string
	BlastDBDir string
	MemoryMB   int64
}

// Client runs BLAST searches in ephemeral Docker containers.
type Client struct {
	cli *client.Client
	cfg Config
	log *slog.Logger

	// pullMu guards pulled; the image is pulled once per Client.
	pullMu sync.Mutex
	pulled bool
}

// Check if Client implements domain.SearchRunner
var _ domain.SearchRunner = (*Client)(nil)

// NewClient initializes a Docker client and pings the daemon so that a
// worker without Docker fails at startup.
func NewClient(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to connect to Docker daemon: %w", err)
	}

	log.Info("Docker client initialized", "image", cfg.Image, "blastdb", cfg.BlastDBDir)
	return &Client{cli: cli, cfg: cfg, log: log}, nil
}

// Close releases the Docker client.
func (c *Client) Close() error {
	return c.cli.Close()
}

// Run executes one search in a fresh container and removes it afterwards.
// It enforces the memory limit and honours ctx cancellation.
func (c *Client) Run(ctx context.Context, job domain.SearchJob) (domain.JobResult, error) {
	cmd, env, err := buildCommand(job)
	if err != nil {
		return domain.Failure(err.Error()), nil
	}

	// 1. Pull Image
	if err := c.ensureImage(ctx); err != nil {
		return domain.JobResult{}, err
	}

	// 2. Create Container with Limits
	resp, err := c.cli.ContainerCreate(ctx, &container.Config{
		Image: c.cfg.Image,
		Cmd:   cmd,
		Env:   env,
		Labels: map[string]string{
			"blastgcp.job": job.ID,
		},
	}, &container.HostConfig{
		Resources: container.Resources{
			Memory: c.cfg.MemoryMB * 1024 * 1024,
		},
		Mounts: []mount.Mount{{
			Type:     mount.TypeBind,
			Source:   c.cfg.BlastDBDir,
			Target:   containerDBDir,
			ReadOnly: true,
		}},
		NetworkMode: "none",
	}, nil, nil, "")
	if err != nil {
		return domain.JobResult{}, fmt.Errorf("failed to create container: %w", err)
	}
	c.log.Debug("Container created", "jobID", job.ID, "containerID", resp.ID)

	defer func() {
		// ctx may already be done; removal must still happen.
		rmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.cli.ContainerRemove(rmCtx, resp.ID, container.RemoveOptions{Force: true}); err != nil {
			c.log.Warn("Failed to remove container", "containerID", resp.ID, "error", err)
		}
	}()

	// 3. Start and wait
	if err := c.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return domain.JobResult{}, fmt.Errorf("failed to start container: %w", err)
	}

	statusCh, errCh := c.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case err := <-errCh:
		return domain.JobResult{}, fmt.Errorf("failed waiting for container: %w", err)
	case st := <-statusCh:
		if st.Error != nil {
			return domain.JobResult{}, fmt.Errorf("container wait: %s", st.Error.Message)
		}
		exitCode = st.StatusCode
	}

	// 4. Collect output
	logs, err := c.cli.ContainerLogs(ctx, resp.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return domain.JobResult{}, fmt.Errorf("failed to read container logs: %w", err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return domain.JobResult{}, fmt.Errorf("failed to demultiplex container logs: %w", err)
	}

	c.log.Info("Search container finished", "jobID", job.ID, "exitCode", exitCode)
	return classify(exitCode, stdout.String(), stderr.String()), nil
}

func (c *Client) ensureImage(ctx context.Context) error {
	c.pullMu.Lock()
	defer c.pullMu.Unlock()
	if c.pulled {
		return nil
	}

	c.log.Info("Pulling image", "image", c.cfg.Image)
	reader, err := c.cli.ImagePull(ctx, c.cfg.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", c.cfg.Image, err)
	}
	defer reader.Close()
	// Drain the response body to ensure the pull completes properly.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", c.cfg.Image, err)
	}
	c.pulled = true
	return nil
}
