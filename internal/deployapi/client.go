// Package deployapi is a client for the remote deployment control plane.
package deployapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/picklr-io/microstrate/internal/ir"
	"github.com/picklr-io/microstrate/internal/logging"
)

// DefaultBaseURL is the public control plane endpoint.
const DefaultBaseURL = "https://api.microstrate.io"

const (
	commandDeployStack     = "deploy-stack"
	commandRemoveStack     = "remove-stack"
	commandAttachResources = "attach-resources"

	requestIDHeader = "X-Request-ID"
)

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("deployment api returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("deployment api returned status %d: %s", e.StatusCode, e.Message)
}

// Client talks to the deployment API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	poll       PollPolicy
	debug      bool
}

// Option customizes a Client.
type Option func(*Client)

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithPollPolicy replaces the poll policy used after mutating calls.
func WithPollPolicy(p PollPolicy) Option {
	return func(c *Client) { c.poll = p }
}

// WithDebug logs full request and response bodies.
func WithDebug(debug bool) Option {
	return func(c *Client) { c.debug = debug }
}

// NewClient creates a client for the given base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		poll:       DefaultPollPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type commandRequest struct {
	Command string `json:"command"`
	Body    any    `json:"body"`
}

type stackBody struct {
	Stack *ir.Stack `json:"stack"`
}

type refBody struct {
	Name      string   `json:"name"`
	Stage     string   `json:"stage"`
	Resources []string `json:"resources,omitempty"`
}

type envelope struct {
	Message string `json:"message"`
	Data    struct {
		Status    string                       `json:"status"`
		Resources map[string]ir.ResourceStatus `json:"resources"`
	} `json:"data"`
}

// DeployStack submits a stack and waits for its resources to settle.
// The returned result only covers the submitted resources.
func (c *Client) DeployStack(ctx context.Context, stack *ir.Stack) (*ir.DeploymentResult, error) {
	submitted, err := c.command(ctx, commandDeployStack, stackBody{Stack: stack})
	if err != nil {
		return nil, fmt.Errorf("failed to deploy stack %s/%s: %w", stack.Name, stack.Stage, err)
	}

	keys := stack.Keys()
	res, err := c.poll.Poll(ctx, func(ctx context.Context) (*ir.DeploymentResult, error) {
		res, err := c.GetStack(ctx, stack.Ref(), keys)
		if err != nil {
			return nil, err
		}
		// submitted resources the platform has not recorded yet are still pending
		for _, k := range keys {
			if _, ok := res.Resources[k]; !ok {
				res.Resources[k] = ir.ResourceStatus{Status: ir.StatusInProgress}
			}
		}
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	if res.Message == "" {
		res.Message = submitted.Message
	}
	return res, nil
}

// GetStack fetches the current state of a stack. A nil keys slice returns
// every resource, otherwise only the listed keys are kept.
func (c *Client) GetStack(ctx context.Context, ref ir.StackRef, keys []string) (*ir.DeploymentResult, error) {
	path := fmt.Sprintf("/deployment/stacks/%s/stages/%s", url.PathEscape(ref.Name), url.PathEscape(ref.Stage))

	res, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get stack %s/%s: %w", ref.Name, ref.Stage, err)
	}

	if keys != nil {
		filtered := make(map[string]ir.ResourceStatus, len(keys))
		for _, k := range keys {
			if status, ok := res.Resources[k]; ok {
				filtered[k] = status
			}
		}
		res.Resources = filtered
	}
	return res, nil
}

// RemoveStack deletes every resource of a stack.
func (c *Client) RemoveStack(ctx context.Context, ref ir.StackRef) (*ir.DeploymentResult, error) {
	res, err := c.command(ctx, commandRemoveStack, refBody{Name: ref.Name, Stage: ref.Stage})
	if err != nil {
		return nil, fmt.Errorf("failed to remove stack %s/%s: %w", ref.Name, ref.Stage, err)
	}
	return res, nil
}

// AttachResources adopts existing remote resources into a stack.
func (c *Client) AttachResources(ctx context.Context, ref ir.StackRef, keys []string) (*ir.DeploymentResult, error) {
	res, err := c.command(ctx, commandAttachResources, refBody{Name: ref.Name, Stage: ref.Stage, Resources: keys})
	if err != nil {
		return nil, fmt.Errorf("failed to attach resources to %s/%s: %w", ref.Name, ref.Stage, err)
	}
	return res, nil
}

func (c *Client) command(ctx context.Context, command string, body any) (*ir.DeploymentResult, error) {
	return c.do(ctx, http.MethodPost, "/deployments/stack", commandRequest{Command: command, Body: body})
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*ir.DeploymentResult, error) {
	var reqBody io.Reader
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	if c.debug {
		logging.Debug("api request", "method", method, "url", req.URL.String(),
			"request_id", req.Header.Get(requestIDHeader), "body", string(payload))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if c.debug {
		logging.Debug("api response", "status", resp.StatusCode, "body", string(data))
	}

	var env envelope
	decodeErr := json.Unmarshal(data, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: env.Message}
		if decodeErr != nil {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return nil, apiErr
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode response: %w", decodeErr)
	}

	res := &ir.DeploymentResult{
		Message:   env.Message,
		Status:    env.Data.Status,
		Resources: env.Data.Resources,
	}
	if res.Resources == nil {
		res.Resources = map[string]ir.ResourceStatus{}
	}
	return res, nil
}

// IsSuccessful reports whether every resource across all results succeeded.
func IsSuccessful(results ...*ir.DeploymentResult) bool {
	for _, res := range results {
		if res == nil {
			return false
		}
		for _, status := range res.Resources {
			if status.Status != ir.StatusSuccess {
				return false
			}
		}
	}
	return true
}
