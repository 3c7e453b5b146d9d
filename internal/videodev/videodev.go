// Package videodev maps host V4L devices to stable in-container names using
// FT_VIDEO_DEV_* environment variables.
package videodev

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const envPrefix = "FT_VIDEO_DEV_"

// Mapping pairs a host /dev/video* node with its container-side target.
type Mapping struct {
	HostPath      string
	ContainerPath string
}

// Devices resolves the configured device mappings against the host's
// video4linux tree. FT_VIDEO_DEV_<NAME>=vvvv:pppp maps the first device whose
// USB id matches to /dev/video<name> inside containers.
func Devices() ([]Mapping, error) {
	return devices("/sys/class/video4linux", os.Environ())
}

func devices(sysDir string, environ []string) ([]Mapping, error) {
	wanted := map[string]string{}
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, envPrefix) {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(key, envPrefix))
		if name == "" || value == "" {
			continue
		}
		wanted[strings.ToLower(value)] = name
	}
	if len(wanted) == 0 {
		return nil, nil
	}

	entries, err := os.ReadDir(sysDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read video4linux devices: %w", err)
	}

	var out []Mapping
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), "video") {
			continue
		}
		id, err := usbID(filepath.Join(sysDir, entry.Name()))
		if err != nil {
			continue
		}
		name, ok := wanted[id]
		if !ok {
			continue
		}
		out = append(out, Mapping{
			HostPath:      "/dev/" + entry.Name(),
			ContainerPath: "/dev/video" + name,
		})
		// First matching node per id wins; metadata nodes share the id.
		delete(wanted, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HostPath < out[j].HostPath })
	return out, nil
}

// usbID reads the vvvv:pppp id from the device's USB parent directory. The
// "device/.." hop must be resolved by the kernel, not cleaned lexically,
// because device is a symlink into the USB tree.
func usbID(devDir string) (string, error) {
	vendor, err := os.ReadFile(devDir + "/device/../idVendor")
	if err != nil {
		return "", err
	}
	product, err := os.ReadFile(devDir + "/device/../idProduct")
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(string(vendor)) + ":" + strings.TrimSpace(string(product))), nil
}
