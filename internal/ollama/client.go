// Package ollama streams completions from a local Ollama server.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/joescharf/guardian/internal/models"
)

const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "gemma:2b"
	DefaultTimeout = 60 * time.Second
)

// ErrUnreachable indicates the Ollama server could not be reached (connection refused, timeout, or non-2xx).
var ErrUnreachable = errors.New("ollama server unreachable")

// Config holds the endpoint settings. Zero fields take the package defaults.
type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client calls the Ollama API. Zero value is not valid; use NewClient.
type Client struct {
	baseURL    string
	model      string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient builds an Ollama client. If httpClient is nil, http.DefaultClient
// is used; the per-request bound always comes from cfg.Timeout.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		httpClient: httpClient,
	}
}

// Model returns the model name sent with every request.
func (c *Client) Model() string { return c.model }

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

// Stream posts prompt to /api/generate and yields the response text as it
// arrives. The sequence is finite: it ends when the server closes the body,
// or with a single terminal fragment describing why the request failed.
// Undecodable lines are skipped. Stopping the range loop early closes the
// response body.
func (c *Client) Stream(ctx context.Context, prompt string) iter.Seq[models.Fragment] {
	return func(yield func(models.Fragment) bool) {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		payload, err := json.Marshal(generateRequest{Model: c.model, Prompt: prompt, Stream: true})
		if err != nil {
			yield(c.transportFailure(err))
			return
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(payload))
		if err != nil {
			yield(c.transportFailure(err))
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			yield(c.classify(ctx, err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			yield(c.transportFailure(fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(excerpt)))))
			return
		}

		reader := bufio.NewReader(resp.Body)
		records := 0
		for {
			line, readErr := reader.ReadBytes('\n')
			if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
				records++
				var chunk generateChunk
				if err := json.Unmarshal(trimmed, &chunk); err == nil {
					if chunk.Error != "" {
						yield(c.transportFailure(errors.New(chunk.Error)))
						return
					}
					if chunk.Response != "" && !yield(models.Fragment{Text: chunk.Response}) {
						return
					}
				}
			}
			if readErr == io.EOF {
				break
			}
			if readErr != nil {
				yield(c.classify(ctx, readErr))
				return
			}
		}

		if records == 0 {
			yield(c.emptyFailure())
		}
	}
}

// classify maps a transport error to one of the terminal failure kinds.
func (c *Client) classify(ctx context.Context, err error) models.Fragment {
	var netErr net.Error
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return models.Fragment{
			Failure: models.FailureTimeout,
			Text: fmt.Sprintf("\nError: Ollama request timed out (%s).\n"+
				"The model may still be processing. Try again.\n", c.timeout),
		}
	case isRefused(err):
		return models.Fragment{
			Failure: models.FailureRefused,
			Text: fmt.Sprintf("\nError: cannot connect to Ollama at %s\n"+
				"Make sure Ollama is running: `ollama serve`\n", c.baseURL),
		}
	}
	return c.transportFailure(err)
}

func isRefused(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func (c *Client) transportFailure(err error) models.Fragment {
	return models.Fragment{
		Failure: models.FailureTransport,
		Text:    fmt.Sprintf("\nError: Ollama request failed: %v\n", err),
	}
}

func (c *Client) emptyFailure() models.Fragment {
	return models.Fragment{
		Failure: models.FailureEmpty,
		Text: "\nError: no response received from Ollama.\n" +
			"Troubleshooting tips:\n" +
			"1. Is Ollama running? Try: `ollama serve` in another terminal\n" +
			"2. Is the model available? Try: `ollama list`\n" +
			fmt.Sprintf("3. If not, pull it: `ollama pull %s`\n", c.model),
	}
}

// CheckResult is the result of a health/model check.
type CheckResult struct {
	Reachable    bool     // Server responded with 200.
	ModelPresent bool     // Configured model appears in the tags list.
	ModelNames   []string // All model names from /api/tags (for diagnostics).
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Check verifies the server is reachable and whether the configured model is pulled.
// On connection/HTTP error returns ErrUnreachable (via %w).
func (c *Client) Check(ctx context.Context) (*CheckResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("ollama tags request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama tags: %w", errors.Join(ErrUnreachable, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama tags: %w: HTTP %d", ErrUnreachable, resp.StatusCode)
	}

	var body tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("ollama tags: parse response: %w", err)
	}

	result := &CheckResult{Reachable: true}
	for _, m := range body.Models {
		result.ModelNames = append(result.ModelNames, m.Name)
		if m.Name == c.model || m.Name == c.model+":latest" {
			result.ModelPresent = true
		}
	}
	return result, nil
}
