package videodev

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDevice lays out a video4linux node whose device symlink points into a
// USB directory carrying the vendor and product ids.
func fakeDevice(t *testing.T, sysDir, node, vendor, product string) {
	t.Helper()
	usbDir := filepath.Join(sysDir, "usb", node)
	interfaceDir := filepath.Join(usbDir, "iface")
	require.NoError(t, os.MkdirAll(interfaceDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(usbDir, "idVendor"), []byte(vendor+"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(usbDir, "idProduct"), []byte(product+"\n"), 0o644))

	devDir := filepath.Join(sysDir, node)
	require.NoError(t, os.MkdirAll(devDir, 0o755))
	require.NoError(t, os.Symlink(interfaceDir, filepath.Join(devDir, "device")))
}

func TestDevicesMatchesConfiguredIDs(t *testing.T) {
	sysDir := t.TempDir()
	fakeDevice(t, sysDir, "video0", "046d", "085e")
	fakeDevice(t, sysDir, "video2", "1d6b", "0104")

	environ := []string{
		"FT_VIDEO_DEV_WEBCAM=046d:085e",
		"FT_VIDEO_DEV_HDMI=aaaa:bbbb",
		"UNRELATED=1",
	}
	out, err := devices(sysDir, environ)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "/dev/video0", out[0].HostPath)
	assert.Equal(t, "/dev/videowebcam", out[0].ContainerPath)
}

func TestDevicesNoConfiguredMappings(t *testing.T) {
	out, err := devices(t.TempDir(), []string{"PATH=/bin"})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestDevicesMissingSysDir(t *testing.T) {
	out, err := devices(filepath.Join(t.TempDir(), "nope"), []string{"FT_VIDEO_DEV_X=1111:2222"})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestDevicesFirstNodePerIDWins(t *testing.T) {
	sysDir := t.TempDir()
	// Metadata nodes share the USB id with the capture node.
	fakeDevice(t, sysDir, "video0", "046d", "085e")
	fakeDevice(t, sysDir, "video1", "046d", "085e")

	out, err := devices(sysDir, []string{"FT_VIDEO_DEV_CAM=046d:085e"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "/dev/video0", out[0].HostPath)
}
