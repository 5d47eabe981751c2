// Package workerclient implements the Sentry's outbound calls toward a
// worker instance it manages: the heartbeat probe
// (GET /v1/pdserver/health), the instance-type probe
// (GET /v1/pdserver/status) and the full-tree pull used on restart
// (GET /v1/radixtree/full), per spec §6's Sentry→worker surface.
package workerclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nexuts-io/nexuts/internal/nexerr"
	"github.com/nexuts-io/nexuts/internal/sentrytree"
)

// AddressBook resolves an instance id to the host:port it listens on;
// the Sentry's in-memory registry satisfies this.
type AddressBook interface {
	WorkerAddr(instanceID string) (ip string, port int, ok bool)
}

// Client calls a worker's pdserver/radixtree endpoints.
type Client struct {
	http    *http.Client
	address AddressBook
}

// NewClient builds a Client resolving instance ids via address.
func NewClient(address AddressBook) *Client {
	return &Client{http: &http.Client{Timeout: time.Second}, address: address}
}

// PingWorker implements health.WorkerPinger.
func (c *Client) PingWorker(ctx context.Context, instanceID string) bool {
	ip, port, ok := c.address.WorkerAddr(instanceID)
	if !ok {
		return false
	}
	url := fmt.Sprintf("http://%s:%d/v1/pdserver/health", ip, port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type statusResponse struct {
	InstanceType string `json:"instance_type"`
}

// InstanceType calls /v1/pdserver/status and returns the worker's
// self-reported type ("prefill" or "decode").
func (c *Client) InstanceType(ctx context.Context, instanceID string) (string, error) {
	ip, port, ok := c.address.WorkerAddr(instanceID)
	if !ok {
		return "", nexerr.NotFound("workerclient.InstanceType", nexerr.ErrUnknownPath)
	}
	url := fmt.Sprintf("http://%s:%d/v1/pdserver/status", ip, port)
	var out statusResponse
	if err := c.getJSON(ctx, url, &out); err != nil {
		return "", err
	}
	return out.InstanceType, nil
}

type fullTreeResponse struct {
	Tree          sentrytree.Record `json:"tree"`
	OpsIDFinished uint64            `json:"ops_id_finished"`
}

// FetchFullTree implements health.FullTreeFetcher.
func (c *Client) FetchFullTree(ctx context.Context, instanceID string) (sentrytree.Record, uint64, error) {
	ip, port, ok := c.address.WorkerAddr(instanceID)
	if !ok {
		return sentrytree.Record{}, 0, nexerr.NotFound("workerclient.FetchFullTree", nexerr.ErrUnknownPath)
	}
	url := fmt.Sprintf("http://%s:%d/v1/radixtree/full", ip, port)
	var out fullTreeResponse
	if err := c.getJSON(ctx, url, &out); err != nil {
		return sentrytree.Record{}, 0, err
	}
	return out.Tree, out.OpsIDFinished, nil
}

func (c *Client) getJSON(ctx context.Context, url string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nexerr.Validation("workerclient.getJSON", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nexerr.Transient("workerclient.getJSON", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nexerr.Transient("workerclient.getJSON", nexerr.ErrUnexpectedStatus)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return nexerr.Validation("workerclient.getJSON", err)
	}
	return nil
}
