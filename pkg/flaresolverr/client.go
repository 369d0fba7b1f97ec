package flaresolverr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

type ClientOptions struct {
	BaseURL string
	// Timeout for the HTTP requests to the FlareSolverr service.
	// Must be higher than MaxTimeout, because the service only responds
	// after it solved the challenge (or gave up).
	Timeout time.Duration
	// MaxTimeout is the time FlareSolverr itself may spend on solving
	// a challenge for a single request.
	MaxTimeout time.Duration
}

func NewClientOpts(baseURL string, timeout, maxTimeout time.Duration) ClientOptions {
	return ClientOptions{
		BaseURL:    baseURL,
		Timeout:    timeout,
		MaxTimeout: maxTimeout,
	}
}

var DefaultClientOpts = ClientOptions{
	BaseURL:    "http://localhost:8191",
	Timeout:    65 * time.Second,
	MaxTimeout: 55 * time.Second,
}

// command is the request body for FlareSolverr's single "/v1" endpoint.
type command struct {
	Cmd        string `json:"cmd"`
	Session    string `json:"session,omitempty"`
	URL        string `json:"url,omitempty"`
	MaxTimeout int64  `json:"maxTimeout,omitempty"`
}

// Client is a client for FlareSolverr, a proxy service that gets web pages
// through anti-bot challenges with a headless browser.
// All commands go to "POST <baseURL>/v1" as JSON.
type Client struct {
	apiURL       string
	httpClient   *http.Client
	maxTimeoutMS int64
	logger       *zap.Logger
}

func NewClient(opts ClientOptions, logger *zap.Logger) *Client {
	return &Client{
		apiURL: opts.BaseURL + "/v1",
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		maxTimeoutMS: opts.MaxTimeout.Milliseconds(),
		logger:       logger,
	}
}

// CreateSession creates a browser session with the given name on the
// FlareSolverr service. Sessions keep their cookies (including clearance
// cookies) across requests, which is what makes them worth warming up.
func (c *Client) CreateSession(ctx context.Context, session string) error {
	res, err := c.do(ctx, command{Cmd: "sessions.create", Session: session})
	if err != nil {
		return err
	}
	if status := res.Get("status").String(); status != "ok" {
		return fmt.Errorf("FlareSolverr returned status %q: %v", status, res.Get("message").String())
	}
	return nil
}

// DestroySession destroys a browser session on the FlareSolverr service.
func (c *Client) DestroySession(ctx context.Context, session string) error {
	res, err := c.do(ctx, command{Cmd: "sessions.destroy", Session: session})
	if err != nil {
		return err
	}
	if status := res.Get("status").String(); status != "ok" {
		return fmt.Errorf("FlareSolverr returned status %q: %v", status, res.Get("message").String())
	}
	return nil
}

// Get fetches the given URL through FlareSolverr and returns the page body.
// An empty session is OK, then FlareSolverr uses a throwaway browser tab.
func (c *Client) Get(ctx context.Context, url, session string) (string, error) {
	res, err := c.do(ctx, command{Cmd: "request.get", Session: session, URL: url, MaxTimeout: c.maxTimeoutMS})
	if err != nil {
		return "", err
	}
	if status := res.Get("status").String(); status != "ok" {
		return "", fmt.Errorf("FlareSolverr returned status %q: %v", status, res.Get("message").String())
	}
	solutionStatus := res.Get("solution.status").Int()
	if solutionStatus < 200 || solutionStatus >= 300 {
		return "", fmt.Errorf("FlareSolverr got a bad response from the target: %v", solutionStatus)
	}
	body := res.Get("solution.response").String()
	if body == "" {
		return "", fmt.Errorf("FlareSolverr returned an empty body for %v", url)
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, cmd command) (gjson.Result, error) {
	reqBody, err := json.Marshal(cmd)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("Couldn't marshal command to JSON: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.apiURL, bytes.NewReader(reqBody))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("Couldn't create request object: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("Couldn't POST %v to %v: %v", cmd.Cmd, c.apiURL, err)
	}
	defer res.Body.Close()
	// FlareSolverr responds with 500 on command errors, but still with a JSON body,
	// so we don't treat a bad status code as fatal and read the body either way.
	resBody, err := ioutil.ReadAll(res.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("Couldn't read response body: %v", err)
	}
	if !gjson.ValidBytes(resBody) {
		return gjson.Result{}, fmt.Errorf("Bad POST response: %v (body is not JSON)", res.StatusCode)
	}
	return gjson.ParseBytes(resBody), nil
}
