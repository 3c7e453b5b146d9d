package environment

import (
	"fmt"
	"path/filepath"

	"github.com/docker/docker/client"

	"github.com/footron/footron/internal/capture"
	"github.com/footron/footron/internal/experience"
	"github.com/footron/footron/internal/netutil"
)

// Deps carries everything environment construction needs from the app.
type Deps struct {
	Docker  client.APIClient
	Capture capture.API
	Ports   *netutil.PortManager

	Display string
	// MessagingURL is the base messaging endpoint apps connect back to.
	MessagingURL string
	// DataPath hosts per-image /localdata mounts.
	DataPath string
	// BinPath holds the helper binaries (loader, capture shell).
	BinPath string
	// ChromeProfilePath holds the base kiosk profile plus per-experience clones.
	ChromeProfilePath string
}

type browserDeps struct {
	MessagingBaseURL string
	ProfileBase      string
	ProfileDir       string
	Display          string
	Ports            *netutil.PortManager
}

// NewFactory maps experience kinds to their environment families.
func NewFactory(deps Deps) Factory {
	return func(exp *experience.Experience) (Environment, error) {
		switch exp.Kind {
		case experience.KindDocker:
			return newDockerEnvironment(exp, deps.Docker, dockerConfig{
				Display:      deps.Display,
				DataPath:     deps.DataPath,
				MessagingURL: deps.MessagingURL,
			}), nil
		case experience.KindWeb:
			return newWebEnvironment(exp, deps.browserDeps(exp)), nil
		case experience.KindVideo:
			return newVideoEnvironment(exp, deps.browserDeps(exp)), nil
		case experience.KindCapture:
			return newCaptureEnvironment(exp, deps.Capture, deps.BinPath), nil
		default:
			return nil, fmt.Errorf("no environment for experience type %q", exp.Kind)
		}
	}
}

func (d Deps) browserDeps(exp *experience.Experience) browserDeps {
	return browserDeps{
		MessagingBaseURL: d.MessagingURL,
		ProfileBase:      filepath.Join(d.ChromeProfilePath, "base"),
		ProfileDir:       filepath.Join(d.ChromeProfilePath, exp.ID),
		Display:          d.Display,
		Ports:            d.Ports,
	}
}
