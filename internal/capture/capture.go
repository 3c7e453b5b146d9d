// Package capture is the client for the capture service that scrapes video
// from legacy on-display applications.
package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Status is the capture service's view of what it is scraping. Processes is
// the number of matching windows it currently has hold of.
type Status struct {
	ID        *string `json:"id"`
	Processes int     `json:"processes"`
}

type setCurrentBody struct {
	ID   *string `json:"id"`
	Path string  `json:"path,omitempty"`
}

// API is what capture environments need from the capture service.
type API interface {
	SetCurrent(ctx context.Context, id *string, path string) error
	Current(ctx context.Context) (Status, error)
}

// Client talks to the capture service's HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// SetCurrent points the capture service at an experience's window. A nil id
// clears the current capture.
func (c *Client) SetCurrent(ctx context.Context, id *string, path string) error {
	payload, err := json.Marshal(setCurrentBody{ID: id, Path: path})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/current", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("capture service returned %s", resp.Status)
	}
	return nil
}

// Current reports what the capture service is scraping right now.
func (c *Client) Current(ctx context.Context) (Status, error) {
	var status Status
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/current", nil)
	if err != nil {
		return status, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return status, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return status, fmt.Errorf("capture service returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return status, err
	}
	return status, nil
}
