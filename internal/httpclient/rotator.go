package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Rotator changes the egress IP address before a request is re-attempted.
type Rotator interface {
	Rotate(ctx context.Context) error
}

// ServiceRotator calls a rotating-proxy provider over HTTP.
type ServiceRotator struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewServiceRotator builds a rotator for endpoint authenticated with token.
func NewServiceRotator(endpoint, token string, timeout time.Duration) *ServiceRotator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ServiceRotator{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: timeout},
	}
}

type rotationReply struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
}

// Rotate asks the provider for a new address. A non-2xx status or an
// explicit success=false reply is an error.
func (r *ServiceRotator) Rotate(ctx context.Context) error {
	u, err := url.Parse(r.endpoint)
	if err != nil {
		return fmt.Errorf("parse rotation endpoint: %w", err)
	}
	if r.token != "" {
		q := u.Query()
		q.Set("token", r.token)
		u.RawQuery = q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build rotation request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("rotation request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read rotation reply: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{URL: r.endpoint, Code: resp.StatusCode, Body: snippet(body)}
	}
	var reply rotationReply
	if json.Unmarshal(body, &reply) == nil && reply.Success != nil && !*reply.Success {
		return fmt.Errorf("rotation refused: %s", reply.Message)
	}
	return nil
}
