package runtime

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"stackctl/internal/config"
	"stackctl/pkg/logging"
)

const (
	projectLabel = "io.stackctl.project"
	serviceLabel = "io.stackctl.service"

	stopTimeoutSeconds = 10
)

// Docker implements Runtime on the Docker Engine API.
type Docker struct {
	client  *client.Client
	project string
}

// NewDocker creates a runtime bound to the given project. Connection settings come
// from the usual DOCKER_* environment variables.
func NewDocker(project string) (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &Docker{client: cli, project: project}, nil
}

// Close releases the underlying client.
func (d *Docker) Close() error {
	return d.client.Close()
}

func (d *Docker) Ping(ctx context.Context) error {
	if _, err := d.client.Ping(ctx); err != nil {
		return fmt.Errorf("docker engine not reachable: %w", err)
	}
	return nil
}

func (d *Docker) Up(ctx context.Context, specs []config.ServiceSpec) error {
	netName, err := d.ensureNetwork(ctx)
	if err != nil {
		return err
	}

	existing, err := d.containers(ctx)
	if err != nil {
		return err
	}

	for _, spec := range specs {
		if c, ok := existing[spec.Name]; ok {
			if c.State == "running" {
				logging.Debug("Runtime", "Service %s already running (%s)", spec.Name, shortID(c.ID))
				continue
			}
			logging.Info("Runtime", "Starting existing container for %s", spec.Name)
			if err := d.client.ContainerStart(ctx, c.ID, container.StartOptions{}); err != nil {
				return fmt.Errorf("failed to start container for %s: %w", spec.Name, err)
			}
			continue
		}

		if err := d.create(ctx, spec, netName); err != nil {
			return err
		}
	}
	return nil
}

func (d *Docker) create(ctx context.Context, spec config.ServiceSpec, netName string) error {
	if err := d.ensureImage(ctx, spec.Container.Image); err != nil {
		return err
	}

	exposed, bindings, err := nat.ParsePortSpecs(spec.Container.Ports)
	if err != nil {
		return fmt.Errorf("invalid ports for %s: %w", spec.Name, err)
	}

	binds := make([]string, 0, len(spec.Container.Volumes))
	for _, v := range spec.Container.Volumes {
		bind, named := volumeBind(d.project, v)
		if named != "" {
			if _, err := d.client.VolumeCreate(ctx, volume.CreateOptions{
				Name:   named,
				Labels: d.labels(""),
			}); err != nil {
				return fmt.Errorf("failed to create volume %s: %w", named, err)
			}
		}
		binds = append(binds, bind)
	}

	cfg := &container.Config{
		Image:        spec.Container.Image,
		Cmd:          spec.Container.Command,
		Env:          envList(spec.Container.Env),
		Labels:       d.labels(spec.Name),
		ExposedPorts: nat.PortSet(exposed),
	}
	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap(bindings),
		Binds:        binds,
	}
	netCfg := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			netName: {Aliases: []string{spec.Name}},
		},
	}

	name := containerName(d.project, spec.Name)
	resp, err := d.client.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, name)
	if err != nil {
		return fmt.Errorf("failed to create container %s: %w", name, err)
	}
	if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		if rmErr := d.client.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true}); rmErr != nil {
			logging.Warn("Runtime", "Failed to remove container %s after start failure: %v", name, rmErr)
		}
		return fmt.Errorf("failed to start container %s: %w", name, err)
	}
	logging.Info("Runtime", "Started %s (%s)", name, shortID(resp.ID))
	return nil
}

func (d *Docker) ensureImage(ctx context.Context, ref string) error {
	if _, err := d.client.ImageInspect(ctx, ref); err == nil {
		return nil
	}
	logging.Info("Runtime", "Pulling image %s", ref)
	reader, err := d.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	return nil
}

func (d *Docker) ensureNetwork(ctx context.Context) (string, error) {
	name := d.project + "_default"
	nets, err := d.client.NetworkList(ctx, network.ListOptions{
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to list networks: %w", err)
	}
	for _, n := range nets {
		if n.Name == name {
			return name, nil
		}
	}
	if _, err := d.client.NetworkCreate(ctx, name, network.CreateOptions{Labels: d.labels("")}); err != nil {
		return "", fmt.Errorf("failed to create network %s: %w", name, err)
	}
	return name, nil
}

func (d *Docker) Status(ctx context.Context) ([]ServiceStatus, error) {
	list, err := d.client.ContainerList(ctx, container.ListOptions{All: true, Filters: d.projectFilter()})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	statuses := make([]ServiceStatus, 0, len(list))
	for _, c := range list {
		st := ServiceStatus{
			Service:     c.Labels[serviceLabel],
			ContainerID: shortID(c.ID),
			State:       c.State,
			Status:      c.Status,
		}
		for _, p := range c.Ports {
			if p.PublicPort != 0 {
				st.Ports = append(st.Ports, fmt.Sprintf("%d->%d/%s", p.PublicPort, p.PrivatePort, p.Type))
			}
		}
		statuses = append(statuses, st)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Service < statuses[j].Service })
	return statuses, nil
}

func (d *Docker) Down(ctx context.Context, opts DownOptions) error {
	list, err := d.client.ContainerList(ctx, container.ListOptions{All: true, Filters: d.projectFilter()})
	if err != nil {
		return fmt.Errorf("failed to list containers: %w", err)
	}

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for _, c := range list {
		name := c.Labels[serviceLabel]
		if !opts.Force && c.State == "running" {
			timeout := stopTimeoutSeconds
			if err := d.client.ContainerStop(ctx, c.ID, container.StopOptions{Timeout: &timeout}); err != nil {
				logging.Warn("Runtime", "Failed to stop %s: %v", name, err)
			}
		}
		err := d.client.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true, RemoveVolumes: opts.Volumes})
		if err != nil {
			record(fmt.Errorf("failed to remove container for %s: %w", name, err))
			continue
		}
		logging.Info("Runtime", "Removed container for %s", name)
	}

	if opts.Volumes {
		vols, err := d.client.VolumeList(ctx, volume.ListOptions{Filters: d.projectFilter()})
		if err != nil {
			record(fmt.Errorf("failed to list volumes: %w", err))
		} else {
			for _, v := range vols.Volumes {
				record(d.client.VolumeRemove(ctx, v.Name, opts.Force))
			}
		}
	}

	nets, err := d.client.NetworkList(ctx, network.ListOptions{Filters: d.projectFilter()})
	if err != nil {
		record(fmt.Errorf("failed to list networks: %w", err))
	} else {
		for _, n := range nets {
			record(d.client.NetworkRemove(ctx, n.ID))
		}
	}
	return firstErr
}

func (d *Docker) Logs(ctx context.Context, service string, opts LogOptions) (io.ReadCloser, error) {
	id, err := d.containerID(ctx, service)
	if err != nil {
		return nil, err
	}

	tail := "all"
	if opts.Tail > 0 {
		tail = strconv.Itoa(opts.Tail)
	}
	raw, err := d.client.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     opts.Follow,
		Tail:       tail,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read logs of %s: %w", service, err)
	}

	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, raw)
		pw.CloseWithError(err)
	}()
	return &demuxedLogs{PipeReader: pr, raw: raw}, nil
}

type demuxedLogs struct {
	*io.PipeReader
	raw io.Closer
}

func (l *demuxedLogs) Close() error {
	err := l.raw.Close()
	l.PipeReader.Close()
	return err
}

func (d *Docker) Exec(ctx context.Context, service string, cmd []string) (ExecResult, error) {
	id, err := d.containerID(ctx, service)
	if err != nil {
		return ExecResult{}, err
	}

	created, err := d.client.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ExecResult{}, fmt.Errorf("failed to create exec in %s: %w", service, err)
	}

	attached, err := d.client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, fmt.Errorf("failed to attach exec in %s: %w", service, err)
	}
	defer attached.Close()

	var out strings.Builder
	copyDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&out, &out, attached.Reader)
		copyDone <- err
	}()
	select {
	case err := <-copyDone:
		if err != nil {
			return ExecResult{}, fmt.Errorf("failed to read exec output in %s: %w", service, err)
		}
	case <-ctx.Done():
		return ExecResult{}, ctx.Err()
	}

	for {
		inspect, err := d.client.ContainerExecInspect(ctx, created.ID)
		if err != nil {
			return ExecResult{}, fmt.Errorf("failed to inspect exec in %s: %w", service, err)
		}
		if !inspect.Running {
			return ExecResult{ExitCode: inspect.ExitCode, Output: out.String()}, nil
		}
		select {
		case <-ctx.Done():
			return ExecResult{}, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (d *Docker) containers(ctx context.Context) (map[string]container.Summary, error) {
	list, err := d.client.ContainerList(ctx, container.ListOptions{All: true, Filters: d.projectFilter()})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	byService := make(map[string]container.Summary, len(list))
	for _, c := range list {
		byService[c.Labels[serviceLabel]] = c
	}
	return byService, nil
}

func (d *Docker) containerID(ctx context.Context, service string) (string, error) {
	existing, err := d.containers(ctx)
	if err != nil {
		return "", err
	}
	c, ok := existing[service]
	if !ok {
		return "", fmt.Errorf("no container for service %s", service)
	}
	return c.ID, nil
}

func (d *Docker) labels(service string) map[string]string {
	l := map[string]string{projectLabel: d.project}
	if service != "" {
		l[serviceLabel] = service
	}
	return l
}

func (d *Docker) projectFilter() filters.Args {
	return filters.NewArgs(filters.Arg("label", projectLabel+"="+d.project))
}

func containerName(project, service string) string {
	return project + "-" + service
}

// volumeBind turns a "source:target" volume spec into a bind string. Sources that are
// not paths are named volumes and get the project prefix; the prefixed name is returned.
func volumeBind(project, spec string) (bind string, named string) {
	source, target, ok := strings.Cut(spec, ":")
	if !ok {
		return spec, ""
	}
	if strings.HasPrefix(source, "/") || strings.HasPrefix(source, ".") || strings.HasPrefix(source, "~") {
		return spec, ""
	}
	named = project + "_" + source
	return named + ":" + target, named
}

// envList flattens an environment map into sorted KEY=VALUE pairs.
func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
