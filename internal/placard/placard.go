// Package placard drives the side-panel description service over its
// unix-domain socket.
package placard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/footron/footron/internal/experience"
)

// ExperienceData is the description panel's content. Empty fields clear.
type ExperienceData struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Artist      string `json:"artist,omitempty"`
}

// URLData is the rotating QR-code target.
type URLData struct {
	URL string `json:"url,omitempty"`
}

// PlacardLayout is the panel's own composition mode.
type PlacardLayout string

const (
	PlacardFull   PlacardLayout = "full"
	PlacardSlim   PlacardLayout = "slim"
	PlacardHidden PlacardLayout = "hidden"
)

var displayLayoutMap = map[experience.Layout]PlacardLayout{
	experience.LayoutHd:   PlacardFull,
	experience.LayoutWide: PlacardSlim,
	experience.LayoutFull: PlacardHidden,
}

// FromDisplayLayout maps a display layout to the placard layout shown with it.
func FromDisplayLayout(layout experience.Layout) PlacardLayout {
	if p, ok := displayLayoutMap[layout]; ok {
		return p
	}
	return PlacardSlim
}

// API is what the controller and operator routes need from the placard.
type API interface {
	Experience(ctx context.Context) (ExperienceData, error)
	SetExperience(ctx context.Context, data ExperienceData) error
	URL(ctx context.Context) (URLData, error)
	SetURL(ctx context.Context, url string) error
	SetLayout(ctx context.Context, layout PlacardLayout) error
}

// Client speaks HTTP over the placard's unix socket. Transient failures are
// retried once after a second; the control loop never waits longer.
type Client struct {
	http *http.Client
}

func New(socketPath string) *Client {
	return &Client{
		http: &http.Client{
			Timeout: 5 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

func (c *Client) Experience(ctx context.Context) (ExperienceData, error) {
	var data ExperienceData
	err := c.get(ctx, "/experience", &data)
	return data, err
}

func (c *Client) SetExperience(ctx context.Context, data ExperienceData) error {
	return c.put(ctx, "/experience", data)
}

func (c *Client) URL(ctx context.Context) (URLData, error) {
	var data URLData
	err := c.get(ctx, "/url", &data)
	return data, err
}

func (c *Client) SetURL(ctx context.Context, url string) error {
	return c.put(ctx, "/url", URLData{URL: url})
}

func (c *Client) SetLayout(ctx context.Context, layout PlacardLayout) error {
	return c.put(ctx, "/layout", map[string]PlacardLayout{"layout": layout})
}

func (c *Client) get(ctx context.Context, endpoint string, into any) error {
	return c.do(ctx, http.MethodGet, endpoint, nil, into)
}

func (c *Client) put(ctx context.Context, endpoint string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPut, endpoint, payload, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte, into any) error {
	return retry.Do(
		func() error {
			var reader io.Reader
			if body != nil {
				reader = bytes.NewReader(body)
			}
			// Host is ignored by the unix transport but required by net/http.
			req, err := http.NewRequestWithContext(ctx, method, "http://placard"+endpoint, reader)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			if body != nil {
				req.Header.Set("Content-Type", "application/json")
			}
			resp, err := c.http.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode >= 400 {
				return fmt.Errorf("placard returned %s", resp.Status)
			}
			if into != nil {
				return json.NewDecoder(resp.Body).Decode(into)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(2),
		retry.Delay(time.Second),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
}

// Disabled is a no-op placard for FT_DISABLE_PLACARD deployments.
type Disabled struct{}

func (Disabled) Experience(context.Context) (ExperienceData, error)  { return ExperienceData{}, nil }
func (Disabled) SetExperience(context.Context, ExperienceData) error { return nil }
func (Disabled) URL(context.Context) (URLData, error)                { return URLData{}, nil }
func (Disabled) SetURL(context.Context, string) error                { return nil }
func (Disabled) SetLayout(context.Context, PlacardLayout) error      { return nil }
