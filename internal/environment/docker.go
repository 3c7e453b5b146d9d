package environment

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/rs/zerolog"

	"github.com/footron/footron/internal/experience"
	"github.com/footron/footron/internal/log"
	"github.com/footron/footron/internal/videodev"
)

const (
	x11SocketPath = "/tmp/.X11-unix"
	// containerShmSize keeps Chromium-based images from crashing on the
	// default 64 MiB /dev/shm.
	containerShmSize = 1 << 30
)

// dockerEnvironment runs an experience's container image on the display.
type dockerEnvironment struct {
	exp    *experience.Experience
	docker client.APIClient
	logger zerolog.Logger

	display      string
	dataPath     string
	messagingURL string

	life *lifecycle

	availableOnce sync.Once
	available     bool

	mu          sync.Mutex
	containerID string
}

type dockerConfig struct {
	Display string
	// DataPath is the host directory mounted per-image at /localdata.
	DataPath     string
	MessagingURL string
}

func newDockerEnvironment(exp *experience.Experience, docker client.APIClient, cfg dockerConfig) *dockerEnvironment {
	return &dockerEnvironment{
		exp:          exp,
		docker:       docker,
		logger:       log.WithExperience("environment.docker", exp.ID),
		display:      cfg.Display,
		dataPath:     cfg.DataPath,
		messagingURL: cfg.MessagingURL,
		life:         newLifecycle(),
	}
}

// Available memoizes one daemon check: the image must be present, or
// pullable when it is not.
func (d *dockerEnvironment) Available(ctx context.Context) bool {
	d.availableOnce.Do(func() {
		if _, _, err := d.docker.ImageInspectWithRaw(ctx, d.exp.ImageID); err == nil {
			d.available = true
			return
		} else if !errdefs.IsNotFound(err) {
			d.logger.Warn().Err(err).Str("event", "docker.inspect_failed").Msg("image inspect failed")
			return
		}
		reader, err := d.docker.ImagePull(ctx, d.exp.ImageID, image.PullOptions{})
		if err != nil {
			d.logger.Warn().
				Err(err).
				Str("event", "docker.pull_failed").
				Str("image", d.exp.ImageID).
				Msg("image pull failed")
			return
		}
		defer reader.Close()
		if _, err := io.Copy(io.Discard, reader); err != nil {
			return
		}
		d.available = true
	})
	return d.available
}

func (d *dockerEnvironment) Start(ctx context.Context, prev Environment) error {
	if err := d.life.beginStart(); err != nil {
		return err
	}
	if err := d.start(ctx); err != nil {
		d.life.fail()
		return err
	}
	d.life.finishStart()
	return nil
}

func (d *dockerEnvironment) start(ctx context.Context) error {
	// Leftovers from a crashed run hold the X socket and the container name.
	if err := d.removeExisting(ctx); err != nil {
		return err
	}

	devices, err := videodev.Devices()
	if err != nil {
		d.logger.Warn().Err(err).Str("event", "docker.videodev_failed").Msg("video device scan failed")
	}
	if err := os.MkdirAll(d.localDataPath(), 0o755); err != nil {
		return fmt.Errorf("create localdata dir: %w", err)
	}

	deviceMappings := make([]container.DeviceMapping, 0, len(devices))
	for _, dev := range devices {
		deviceMappings = append(deviceMappings, container.DeviceMapping{
			PathOnHost:        dev.HostPath,
			PathInContainer:   dev.ContainerPath,
			CgroupPermissions: "rwm",
		})
	}

	hostConfig := &container.HostConfig{
		AutoRemove: true,
		CapAdd:     []string{"SYS_ADMIN"},
		ShmSize:    containerShmSize,
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: x11SocketPath, Target: x11SocketPath},
			{Type: mount.TypeBind, Source: d.localDataPath(), Target: "/localdata"},
		},
		Resources: container.Resources{
			Devices: deviceMappings,
			DeviceRequests: []container.DeviceRequest{
				{Driver: "nvidia", Count: -1, Capabilities: [][]string{{"gpu"}}},
			},
		},
	}
	if d.exp.HostNetwork {
		hostConfig.NetworkMode = "host"
	}

	created, err := d.docker.ContainerCreate(ctx, &container.Config{
		Image: d.exp.ImageID,
		Env: []string{
			"DISPLAY=" + d.display,
			fmt.Sprintf("FT_MSG_URL=%s/out/%s", d.messagingURL, d.exp.ID),
		},
	}, hostConfig, nil, nil, d.containerName())
	if err != nil {
		return fmt.Errorf("create container: %w", err)
	}
	if err := d.docker.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container: %w", err)
	}

	d.mu.Lock()
	d.containerID = created.ID
	d.mu.Unlock()
	d.logger.Info().
		Str("event", "docker.started").
		Str("container", created.ID[:12]).
		Str("image", d.exp.ImageID).
		Msg("container started")
	return nil
}

func (d *dockerEnvironment) Stop(ctx context.Context, next Environment) error {
	if err := d.life.beginStop(); err != nil {
		return err
	}
	if err := d.stop(ctx); err != nil {
		d.life.fail()
		return err
	}
	d.life.finishStop()
	return nil
}

func (d *dockerEnvironment) stop(ctx context.Context) error {
	d.mu.Lock()
	id := d.containerID
	d.containerID = ""
	d.mu.Unlock()

	if id != "" {
		if err := d.docker.ContainerKill(ctx, id, "SIGKILL"); err != nil && !errdefs.IsNotFound(err) {
			return fmt.Errorf("kill container: %w", err)
		}
	}
	// Sweep siblings from the same image. Crashed daemons leave them behind
	// and they still hold the display.
	return d.killByImage(ctx)
}

func (d *dockerEnvironment) killByImage(ctx context.Context) error {
	containers, err := d.docker.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("ancestor", d.exp.ImageID)),
	})
	if err != nil {
		return fmt.Errorf("list containers: %w", err)
	}
	for _, c := range containers {
		if err := d.docker.ContainerKill(ctx, c.ID, "SIGKILL"); err != nil && !errdefs.IsNotFound(err) {
			d.logger.Warn().
				Err(err).
				Str("event", "docker.sweep_failed").
				Str("container", c.ID[:12]).
				Msg("killing leftover container failed")
		}
	}
	return nil
}

func (d *dockerEnvironment) State(ctx context.Context) State {
	state := d.life.state()
	if state != StateRunning {
		return state
	}

	d.mu.Lock()
	id := d.containerID
	d.mu.Unlock()
	if id == "" {
		d.life.fail()
		return StateFailed
	}

	inspected, err := d.docker.ContainerInspect(ctx, id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			d.life.fail()
			return StateFailed
		}
		// Daemon hiccups are not container death.
		return StateRunning
	}
	switch inspected.State.Status {
	case "running", "created":
		return StateRunning
	default:
		d.life.fail()
		return StateFailed
	}
}

func (d *dockerEnvironment) removeExisting(ctx context.Context) error {
	containers, err := d.docker.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", d.containerName())),
	})
	if err != nil {
		return fmt.Errorf("list containers: %w", err)
	}
	for _, c := range containers {
		err := d.docker.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true})
		if err != nil && !errdefs.IsNotFound(err) {
			return fmt.Errorf("remove stale container: %w", err)
		}
	}
	// AutoRemove cleanup is asynchronous; give the daemon a beat.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		remaining, err := d.docker.ContainerList(ctx, container.ListOptions{
			All:     true,
			Filters: filters.NewArgs(filters.Arg("name", d.containerName())),
		})
		if err != nil || len(remaining) == 0 {
			break
		}
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (d *dockerEnvironment) containerName() string {
	return "footron-" + d.exp.ID
}

// localDataPath is a per-image host directory experiences can persist to.
func (d *dockerEnvironment) localDataPath() string {
	sanitized := strings.NewReplacer("/", "-", ":", "-").Replace(d.exp.ImageID)
	return d.dataPath + "/" + sanitized
}
