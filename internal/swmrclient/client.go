// Package swmrclient is a small Go SDK for the control plane's HTTP API,
// wrapping the raw PUT/GET /register calls the way
// internal/client wraps the teacher's KV API: hide the HTTP and JSON
// plumbing, expose Write/Read.
package swmrclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to one node's control plane over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client. timeout defaults to 10s if zero.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// WriteResponse is returned after a successful write.
type WriteResponse struct {
	Value string `json:"value"`
}

// ReadResponse is returned by a read.
type ReadResponse struct {
	Value string `json:"value"`
}

// Write stores value in the register via this node.
func (c *Client) Write(ctx context.Context, value string) (*WriteResponse, error) {
	body, _ := json.Marshal(map[string]string{"value": value})

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/register", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("PUT /register failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var result WriteResponse
	return &result, json.NewDecoder(resp.Body).Decode(&result)
}

// Read fetches the current register value.
func (c *Client) Read(ctx context.Context) (*ReadResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/register", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET /register failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var result ReadResponse
	return &result, json.NewDecoder(resp.Body).Decode(&result)
}

// APIError carries the HTTP status and message from a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	var apiErr struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Error
	if msg == "" {
		msg = string(body)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
