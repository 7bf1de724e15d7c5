package runtime

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/artpar/stackctl/internal/core/health"
)

// composeProjectLabel is the label compose v2 stamps on every container.
const (
	composeProjectLabel = "com.docker.compose.project"
	composeServiceLabel = "com.docker.compose.service"
)

// =============================================================================
// Types
// =============================================================================

// PortBinding is one published port of a running container.
type PortBinding struct {
	ContainerPort int
	HostPort      int
	Protocol      string
	HostIP        string
}

// ContainerInfo is the status-view of one project container.
type ContainerInfo struct {
	Name    string
	Service string
	Image   string
	State   string
	Health  string
	Ports   []PortBinding
}

// =============================================================================
// Client
// =============================================================================

// Client wraps the Docker SDK for runtime inspection. Lifecycle mutation
// stays with the Compose runner; the client only observes.
type Client struct {
	cli    *client.Client
	logger *slog.Logger
}

// NewClient creates a Docker client from the environment.
func NewClient(logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, NewInspectError("NewClient", "", err.Error(), ErrConnectionFailed)
	}
	return &Client{cli: cli, logger: logger}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.cli.Close()
}

// ContainerState returns the live state snapshot used by health
// classification. A missing container maps to ErrContainerNotFound.
func (c *Client) ContainerState(ctx context.Context, name string) (health.Probe, error) {
	resp, err := c.cli.ContainerInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return health.Probe{}, NewInspectError("ContainerState", name, "container not found", ErrContainerNotFound)
		}
		return health.Probe{}, NewInspectError("ContainerState", name, err.Error(), err)
	}

	probe := health.Probe{
		Status:   resp.State.Status,
		Restarts: resp.RestartCount,
	}
	if resp.State.Health != nil {
		h := resp.State.Health.Status
		probe.Health = &h
	}
	return probe, nil
}

// LogTail returns the last n log lines of a container, demultiplexed into
// plain text for diagnostics.
func (c *Client) LogTail(ctx context.Context, name string, n int) (string, error) {
	reader, err := c.cli.ContainerLogs(ctx, name, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       fmt.Sprintf("%d", n),
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return "", NewInspectError("LogTail", name, "container not found", ErrContainerNotFound)
		}
		return "", NewInspectError("LogTail", name, err.Error(), err)
	}
	defer reader.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, reader); err != nil {
		// Non-multiplexed stream (tty container); fall back to raw copy.
		buf.Reset()
		buf.ReadFrom(reader)
	}
	return buf.String(), nil
}

// ListProject lists all containers belonging to a compose project,
// including stopped ones, with their published ports decoded.
func (c *Client) ListProject(ctx context.Context, project string) ([]ContainerInfo, error) {
	f := filters.NewArgs()
	f.Add("label", fmt.Sprintf("%s=%s", composeProjectLabel, project))

	containers, err := c.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return nil, NewInspectError("ListProject", project, err.Error(), err)
	}

	result := make([]ContainerInfo, 0, len(containers))
	for _, summary := range containers {
		name := ""
		if len(summary.Names) > 0 {
			name = strings.TrimPrefix(summary.Names[0], "/")
		}

		info := ContainerInfo{
			Name:    name,
			Service: summary.Labels[composeServiceLabel],
			Image:   summary.Image,
			State:   summary.State,
		}

		inspect, err := c.cli.ContainerInspect(ctx, summary.ID)
		if err == nil {
			if inspect.State.Health != nil {
				info.Health = inspect.State.Health.Status
			}
			info.Ports = decodePorts(inspect.NetworkSettings.Ports)
		}

		result = append(result, info)
	}
	return result, nil
}

// Prune removes unreferenced runtime resources (stopped containers,
// dangling images, unused networks and volumes).
func (c *Client) Prune(ctx context.Context) error {
	none := filters.NewArgs()

	if _, err := c.cli.ContainersPrune(ctx, none); err != nil {
		return NewInspectError("Prune", "containers", err.Error(), err)
	}
	if _, err := c.cli.ImagesPrune(ctx, none); err != nil {
		return NewInspectError("Prune", "images", err.Error(), err)
	}
	if _, err := c.cli.NetworksPrune(ctx, none); err != nil {
		return NewInspectError("Prune", "networks", err.Error(), err)
	}
	if _, err := c.cli.VolumesPrune(ctx, none); err != nil {
		return NewInspectError("Prune", "volumes", err.Error(), err)
	}
	c.logger.Info("runtime resources pruned")
	return nil
}

// decodePorts flattens a nat.PortMap into the status view.
func decodePorts(ports nat.PortMap) []PortBinding {
	var result []PortBinding
	for containerPort, bindings := range ports {
		port, proto := containerPort.Port(), containerPort.Proto()
		for _, binding := range bindings {
			var hostPort, containerPortInt int
			if binding.HostPort != "" {
				fmt.Sscanf(binding.HostPort, "%d", &hostPort)
			}
			fmt.Sscanf(port, "%d", &containerPortInt)
			result = append(result, PortBinding{
				ContainerPort: containerPortInt,
				HostPort:      hostPort,
				Protocol:      proto,
				HostIP:        binding.HostIP,
			})
		}
	}
	return result
}
