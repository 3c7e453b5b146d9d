// Package protocol defines the typed wire protocol spoken between apps,
// their on-display clients, and the messaging router.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/footron/footron/internal/experience"
)

// Version is the protocol version stamped on every frame. Frames carrying a
// different version are rejected at decode time.
const Version = 1

// Type is the wire tag of a message.
type Type string

const (
	// TypeAppHeartbeat tells a client whether its app is up.
	TypeAppHeartbeat Type = "ahb"
	// TypeClientHeartbeat tells an app which clients are connected. An up=true
	// roster is authoritative; up=false carries a removal list.
	TypeClientHeartbeat Type = "chb"
	// TypeConnect is a client's request to connect to the app.
	TypeConnect Type = "con"
	// TypeAccess is the app's response to a connection request.
	TypeAccess Type = "acc"
	// TypeApplicationClient carries application-defined payloads from a client.
	TypeApplicationClient Type = "cap"
	// TypeApplicationApp carries application-defined payloads from the app.
	TypeApplicationApp Type = "app"
	// TypeDisplaySettings lets the app adjust its run (end time, lock).
	TypeDisplaySettings Type = "dse"
	// TypeLifecycle notifies the router of pause/resume.
	TypeLifecycle Type = "lcy"
)

var (
	ErrMissingType     = errors.New("message doesn't contain required field 'type'")
	ErrUnknownType     = errors.New("message specified unrecognized type")
	ErrVersionMismatch = errors.New("message specified unsupported protocol version")
)

// Message is any protocol frame.
type Message interface {
	MessageType() Type
	envelope() *Envelope
}

// Envelope carries the fields shared by every frame.
type Envelope struct {
	Version int  `json:"version"`
	Type    Type `json:"type"`
}

func (e *Envelope) envelope() *Envelope { return e }

// AppHeartbeat is router -> client.
type AppHeartbeat struct {
	Envelope
	Up bool `json:"up"`
}

func (*AppHeartbeat) MessageType() Type { return TypeAppHeartbeat }

// ClientHeartbeat is router -> app (and synthetic client-down notices).
type ClientHeartbeat struct {
	Envelope
	Up      bool     `json:"up"`
	Clients []string `json:"clients"`
}

func (*ClientHeartbeat) MessageType() Type { return TypeClientHeartbeat }

// Connect is client -> app. The router stamps Client with the sender's id
// before forwarding so the app can address its access response.
type Connect struct {
	Envelope

	Client string `json:"client,omitempty"`
}

func (*Connect) MessageType() Type { return TypeConnect }

// Access is app -> client. Client names the target and is stripped before the
// frame reaches the client.
type Access struct {
	Envelope
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
	Client   string `json:"client,omitempty"`
}

func (*Access) MessageType() Type { return TypeAccess }

// ClientApplication is an application-defined frame from a client. The router
// stamps Client with the sender's id before forwarding to the app.
type ClientApplication struct {
	Envelope
	Body json.RawMessage `json:"body"`
	Req  string          `json:"req,omitempty"`

	Client string `json:"client,omitempty"`
}

func (*ClientApplication) MessageType() Type { return TypeApplicationClient }

// AppApplication is an application-defined reply from the app. Client names
// the target and is stripped before forwarding.
type AppApplication struct {
	Envelope
	Body json.RawMessage `json:"body"`
	Req  string          `json:"req,omitempty"`

	Client string `json:"client,omitempty"`
}

func (*AppApplication) MessageType() Type { return TypeApplicationApp }

// DisplaySettings is app -> router; the router patches the controller.
type DisplaySettings struct {
	Envelope
	Settings DisplaySettingsBody `json:"settings"`
}

func (*DisplaySettings) MessageType() Type { return TypeDisplaySettings }

// DisplaySettingsBody carries the patchable run settings. Nil fields are
// untouched.
type DisplaySettingsBody struct {
	EndTime *int64                 `json:"end_time,omitempty"`
	Lock    *experience.LockStatus `json:"lock,omitempty"`
}

// Lifecycle is app -> router.
type Lifecycle struct {
	Envelope
	Paused bool `json:"paused"`
}

func (*Lifecycle) MessageType() Type { return TypeLifecycle }

// TargetClient returns the client id a frame names, if its kind carries one.
func TargetClient(m Message) (string, bool) {
	switch msg := m.(type) {
	case *Access:
		return msg.Client, true
	case *AppApplication:
		return msg.Client, true
	}
	return "", false
}

// StripClient clears the client field on kinds that carry one, for frames
// bound to a client that must not learn its own id.
func StripClient(m Message) {
	switch msg := m.(type) {
	case *Access:
		msg.Client = ""
	case *AppApplication:
		msg.Client = ""
	case *ClientApplication:
		msg.Client = ""
	}
}

// Marshal encodes a frame, forcing the canonical envelope.
func Marshal(m Message) ([]byte, error) {
	env := m.envelope()
	env.Version = Version
	env.Type = m.MessageType()
	return json.Marshal(m)
}

// Unmarshal decodes one frame, validating version and type.
func Unmarshal(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode message envelope: %w", err)
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}
	if env.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrVersionMismatch, env.Version)
	}

	var m Message
	switch env.Type {
	case TypeAppHeartbeat:
		m = &AppHeartbeat{}
	case TypeClientHeartbeat:
		m = &ClientHeartbeat{}
	case TypeConnect:
		m = &Connect{}
	case TypeAccess:
		m = &Access{}
	case TypeApplicationClient:
		m = &ClientApplication{}
	case TypeApplicationApp:
		m = &AppApplication{}
	case TypeDisplaySettings:
		m = &DisplaySettings{}
	case TypeLifecycle:
		m = &Lifecycle{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decode %s message: %w", env.Type, err)
	}
	return m, nil
}
