// Package experience defines the catalog of displayable experiences and
// their on-disk configuration format.
package experience

import (
	"errors"
	"fmt"
)

// Kind selects which environment family runs an experience.
type Kind string

const (
	KindDocker  Kind = "docker"
	KindWeb     Kind = "web"
	KindVideo   Kind = "video"
	KindCapture Kind = "capture"
)

// Layout is the display composition mode the window manager applies.
type Layout string

const (
	LayoutFull Layout = "full"
	LayoutWide Layout = "wide"
	LayoutHd   Layout = "hd"
)

// DefaultLifetime is the scheduler's dwell time, in seconds, when a config
// sets none.
const DefaultLifetime = 60

// Experience is an immutable descriptor loaded from a config file. Grouping
// membership (Collection, Tags, Folders) is populated by the controller from
// the separate grouping files.
type Experience struct {
	ID              string `json:"id" toml:"id"`
	Kind            Kind   `json:"type" toml:"type"`
	Title           string `json:"title" toml:"title"`
	Description     string `json:"description,omitempty" toml:"description"`
	LongDescription string `json:"long_description,omitempty" toml:"long_description"`
	Artist          string `json:"artist,omitempty" toml:"artist"`
	Lifetime        int    `json:"lifetime" toml:"lifetime"`
	Layout          Layout `json:"layout" toml:"layout"`
	Unlisted        bool   `json:"unlisted" toml:"unlisted"`
	Queueable       bool   `json:"queueable" toml:"queueable"`
	LoadTime        int    `json:"load_time,omitempty" toml:"load_time"`

	// Grouping membership.
	Collection string   `json:"collection,omitempty" toml:"-"`
	Tags       []string `json:"tags" toml:"-"`
	Folders    []string `json:"folders" toml:"-"`

	// Kind-specific fields.
	ImageID     string `json:"image_id,omitempty" toml:"image_id"`         // docker
	HostNetwork bool   `json:"host_network,omitempty" toml:"host_network"` // docker
	URL         string `json:"url,omitempty" toml:"url"`                   // web
	Filename    string `json:"filename,omitempty" toml:"filename"`         // video
	Scrubbing   bool   `json:"scrubbing,omitempty" toml:"scrubbing"`       // video
	CapturePath string `json:"path,omitempty" toml:"path"`                 // capture

	// Path is the experience's directory on disk.
	Path string `json:"-" toml:"-"`
}

var defaultLayouts = map[Kind]Layout{
	KindDocker:  LayoutWide,
	KindWeb:     LayoutWide,
	KindVideo:   LayoutHd,
	KindCapture: LayoutFull,
}

// ActionHints describes how users interact with a video experience. It is
// derived from the scrubbing flag and never set from a config file.
func (e Experience) ActionHints() []string {
	if e.Kind != KindVideo {
		return nil
	}
	if e.Scrubbing {
		return []string{"scrub"}
	}
	return []string{"watch"}
}

func (e *Experience) applyDefaults() {
	if e.Lifetime == 0 {
		e.Lifetime = DefaultLifetime
	}
	if e.Layout == "" {
		e.Layout = defaultLayouts[e.Kind]
	}
}

func (e Experience) validate() error {
	if e.ID == "" {
		return errors.New("experience requires an id")
	}
	if e.Title == "" {
		return fmt.Errorf("experience %q requires a title", e.ID)
	}
	if e.LongDescription != "" && e.Description == "" {
		return fmt.Errorf("experience %q: 'description' must be set for 'long_description' to be set", e.ID)
	}
	switch e.Kind {
	case KindDocker:
		if e.ImageID == "" {
			return fmt.Errorf("docker experience %q requires image_id", e.ID)
		}
	case KindWeb:
		// URL is optional; defaults to "/".
	case KindVideo:
		if e.Filename == "" {
			return fmt.Errorf("video experience %q requires filename", e.ID)
		}
	case KindCapture:
		if e.CapturePath == "" {
			return fmt.Errorf("capture experience %q requires path", e.ID)
		}
	default:
		return fmt.Errorf("experience %q has unknown type %q", e.ID, e.Kind)
	}
	switch e.Layout {
	case LayoutFull, LayoutWide, LayoutHd:
	default:
		return fmt.Errorf("experience %q has unknown layout %q", e.ID, e.Layout)
	}
	return nil
}
