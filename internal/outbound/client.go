// Package outbound implements the Sentry's outbound pipeline toward the
// Information Center (spec.md C6, §4.5): a callback buffer, a durable
// FIFO queue sitting between Sentry and IC, and the head-ship loop that
// drains it with at-least-once delivery.
package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/nexuts-io/nexuts/internal/nexerr"
	"github.com/nexuts-io/nexuts/internal/treeop"
)

// RegisterRequest mirrors spec §6 RegisterRequest.
type RegisterRequest struct {
	InstanceType string `json:"instance_type"`
	InstanceID   string `json:"instance_id"`
	SentryID     string `json:"sentry_id"`
	NodeIP       string `json:"node_ip"`
	SentryPort   int    `json:"sentry_port"`
	ServicePort  int    `json:"service_port"`
	TPSize       int    `json:"tp_size,omitempty"`
	BaseGPUID    int    `json:"base_gpu_id,omitempty"`
	Step         int    `json:"step,omitempty"`
}

// UpdatePayload is the body of POST /v1/Nexuts/update_prefix_tree.
type UpdatePayload struct {
	Timestamp   string      `json:"timestamp"`
	SentryOpsID uint64      `json:"sentry_ops_id"`
	SentryID    string      `json:"sentry_id"`
	Updates     []treeop.Op `json:"updates"`
}

// Client calls the IC's registration and tree-update endpoints.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client with the fixed 1s/2s timeouts spec §5
// mandates for outbound HTTP; callers pass the specific timeout per call.
func NewClient(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{}}
}

func (c *Client) postJSON(ctx context.Context, path string, timeout time.Duration, body any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return nexerr.Validation("outbound.postJSON", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nexerr.Validation("outbound.postJSON", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nexerr.Transient("outbound.postJSON", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nexerr.Transient("outbound.postJSON", nexerr.ErrUnexpectedStatus)
	}
	return nil
}

// Register calls POST /v1/Nexuts/register with a 1s timeout.
func (c *Client) Register(ctx context.Context, req RegisterRequest) error {
	return c.postJSON(ctx, "/v1/Nexuts/register", time.Second, req)
}

// Deregister calls POST /v1/Nexuts/deregister.
func (c *Client) Deregister(ctx context.Context, sentryID, instanceID string) error {
	body := map[string]string{"sentry_id": sentryID, "instance_id": instanceID}
	return c.postJSON(ctx, "/v1/Nexuts/deregister", time.Second, body)
}

// SetStatus calls POST /v1/Nexuts/set_status; lost=true means unreachable.
func (c *Client) SetStatus(ctx context.Context, sentryID, instanceID string, lost bool) error {
	body := map[string]any{"sentry_id": sentryID, "instance_id": instanceID, "status": lost}
	return c.postJSON(ctx, "/v1/Nexuts/set_status", time.Second, body)
}

// UpdatePrefixTree calls POST /v1/Nexuts/update_prefix_tree with a 2s
// timeout (spec §5 "Cancellation and timeouts").
func (c *Client) UpdatePrefixTree(ctx context.Context, payload UpdatePayload) error {
	return c.postJSON(ctx, "/v1/Nexuts/update_prefix_tree", 2*time.Second, payload)
}
