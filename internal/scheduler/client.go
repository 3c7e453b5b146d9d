// Package scheduler rotates the display through the experience playlist by
// driving the controller's operator API.
package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/footron/footron/internal/experience"
)

// ErrThrottled means another set landed inside the guard window; the
// scheduler just tries again on a later tick.
var ErrThrottled = errors.New("current experience set was throttled")

// CurrentState mirrors the controller's GET /current response.
type CurrentState struct {
	ID              *string               `json:"id"`
	Lifetime        int                   `json:"lifetime"`
	StartTime       *int64                `json:"start_time"`
	EndTime         *int64                `json:"end_time"`
	LastInteraction *int64                `json:"last_interaction"`
	Lock            experience.LockStatus `json:"lock"`
	LastLockUpdate  *int64                `json:"last_lock_update"`
	LastUpdate      int64                 `json:"last_update"`
}

// Client talks to the controller daemon's operator API.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Experiences(ctx context.Context) ([]*experience.Experience, error) {
	var out []*experience.Experience
	if err := c.get(ctx, "/experiences", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Collections(ctx context.Context) (map[string]experience.Collection, error) {
	out := map[string]experience.Collection{}
	if err := c.get(ctx, "/collections", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Current(ctx context.Context) (CurrentState, error) {
	var out CurrentState
	err := c.get(ctx, "/current", &out)
	return out, err
}

// SetCurrent asks the controller to switch experiences. The throttle makes
// the request yield to anything set more recently than the window.
func (c *Client) SetCurrent(ctx context.Context, id string, throttle time.Duration) error {
	payload, err := json.Marshal(map[string]string{"id": id})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/current?throttle=%d", c.baseURL, int(throttle.Seconds()))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrThrottled
	case resp.StatusCode >= 400:
		return fmt.Errorf("set current returned %s", resp.Status)
	}
	return nil
}

func (c *Client) get(ctx context.Context, endpoint string, into any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("GET %s returned %s", endpoint, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(into)
}
