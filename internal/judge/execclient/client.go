package execclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	appErr "arenaoj/pkg/errors"
	"arenaoj/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultExecutePath   = "/api/v2/execute"
	defaultMaxRetries    = 3
	defaultRetryDelay    = 500 * time.Millisecond
	defaultMaxRetryDelay = 5 * time.Second
	defaultNetworkMargin = 3 * time.Second
	defaultMaxOutput     = 64 * 1024
	oomMarker            = "out of memory"
)

// Config holds execution client settings.
type Config struct {
	// BaseURL is the root of the Piston-style execution service.
	BaseURL string

	// HTTPClient overrides the transport; nil uses a default client.
	HTTPClient *http.Client

	// MaxRetries bounds retry attempts for network/5xx failures.
	MaxRetries int

	// RetryDelay is the base of the capped linear backoff between retries.
	RetryDelay time.Duration

	// MaxRetryDelay caps the backoff.
	MaxRetryDelay time.Duration

	// NetworkMargin is added to the declared run time limit to form the
	// hard wall-clock bound per call.
	NetworkMargin time.Duration

	// MaxOutputBytes caps captured stdout/stderr per stream.
	MaxOutputBytes int64
}

// Client submits source+stdin to the external execution service. The service
// is treated as untrusted-availability: every call carries a retry budget and
// a hard timeout. There is no mid-flight cancellation of a dispatched run;
// abandoning callers discard results instead.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	maxRetries     int
	retryDelay     time.Duration
	maxRetryDelay  time.Duration
	networkMargin  time.Duration
	maxOutputBytes int64
}

// Request describes one sandboxed execution.
type Request struct {
	Language string
	Version  string
	Source   string
	Stdin    string

	// TimeLimit is the declared per-test run limit. The wall-clock bound
	// for the whole call is TimeLimit + the configured network margin.
	TimeLimit time.Duration
}

// Result is the outcome of one sandboxed execution.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Signal   string

	CompileStderr   string
	CompileExitCode int

	// TimedOut marks the run exceeding the wall-clock bound. It is distinct
	// from a non-zero exit code: the code never finished.
	TimedOut bool

	WallTime time.Duration
}

// CompileFailed reports whether compilation ended with a non-zero status.
func (r *Result) CompileFailed() bool {
	return r.CompileExitCode != 0
}

// OOMKilled reports whether the run was killed with the executor's
// out-of-memory marker on stderr.
func (r *Result) OOMKilled() bool {
	return r.Signal == "SIGKILL" && strings.Contains(strings.ToLower(r.Stderr), oomMarker)
}

// NewClient creates an execution client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("execution service base url is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = defaultMaxRetryDelay
	}
	if cfg.NetworkMargin <= 0 {
		cfg.NetworkMargin = defaultNetworkMargin
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutput
	}
	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:     cfg.HTTPClient,
		maxRetries:     cfg.MaxRetries,
		retryDelay:     cfg.RetryDelay,
		maxRetryDelay:  cfg.MaxRetryDelay,
		networkMargin:  cfg.NetworkMargin,
		maxOutputBytes: cfg.MaxOutputBytes,
	}, nil
}

type executeFile struct {
	Content string `json:"content"`
}

type executeRequest struct {
	Language   string        `json:"language"`
	Version    string        `json:"version"`
	Files      []executeFile `json:"files"`
	Stdin      string        `json:"stdin"`
	RunTimeout int64         `json:"run_timeout"`
}

type executeStage struct {
	Stdout string  `json:"stdout"`
	Stderr string  `json:"stderr"`
	Code   *int    `json:"code"`
	Signal *string `json:"signal"`
}

type executeResponse struct {
	Compile *executeStage `json:"compile"`
	Run     executeStage  `json:"run"`
}

// Execute runs one test case. Network and 5xx failures are retried with a
// capped linear backoff; exhausting the budget returns ExecutorUnavailable.
// Exceeding the wall-clock bound is not an error: it returns a Result with
// TimedOut set so the pipeline classifies it as a time limit verdict.
func (c *Client) Execute(ctx context.Context, req Request) (*Result, error) {
	if req.Language == "" {
		return nil, appErr.ValidationError("language", "required")
	}
	if req.TimeLimit <= 0 {
		return nil, appErr.ValidationError("time_limit", "required")
	}

	body, err := json.Marshal(executeRequest{
		Language:   req.Language,
		Version:    req.Version,
		Files:      []executeFile{{Content: req.Source}},
		Stdin:      req.Stdin,
		RunTimeout: req.TimeLimit.Milliseconds(),
	})
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.JudgeSystemError, "encode execute request failed")
	}

	bound := req.TimeLimit + c.networkMargin
	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, bound)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt)
			timer := time.NewTimer(delay)
			select {
			case <-callCtx.Done():
				timer.Stop()
				return c.finishOnDeadline(callCtx, start, lastErr)
			case <-timer.C:
			}
		}

		result, retryable, err := c.doExecute(callCtx, body)
		if err == nil {
			result.WallTime = time.Since(start)
			return result, nil
		}
		if callCtx.Err() != nil {
			return c.finishOnDeadline(callCtx, start, err)
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
		logger.Warn(ctx, "execute attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return nil, appErr.Wrapf(lastErr, appErr.ExecutorUnavailable, "execution service unavailable after %d attempts", c.maxRetries+1)
}

// backoff computes the capped linear retry delay for an attempt (1-based).
func (c *Client) backoff(attempt int) time.Duration {
	delay := c.retryDelay * time.Duration(attempt)
	if delay > c.maxRetryDelay {
		return c.maxRetryDelay
	}
	return delay
}

// finishOnDeadline maps hitting the wall-clock bound to a timed-out result.
// Parent-context cancellation stays an error: the caller gave up, the run
// did not overrun.
func (c *Client) finishOnDeadline(callCtx context.Context, start time.Time, lastErr error) (*Result, error) {
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return &Result{TimedOut: true, WallTime: time.Since(start)}, nil
	}
	if lastErr != nil {
		return nil, appErr.Wrapf(lastErr, appErr.ExecutorUnavailable, "execute cancelled")
	}
	return nil, appErr.Wrap(callCtx.Err(), appErr.ExecutorUnavailable)
}

func (c *Client) doExecute(ctx context.Context, body []byte) (*Result, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+defaultExecutePath, bytes.NewReader(body))
	if err != nil {
		return nil, false, appErr.Wrapf(err, appErr.JudgeSystemError, "build execute request failed")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// network-class failure, retryable
		return nil, true, appErr.Wrapf(err, appErr.ExecutorUnavailable, "execute request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return nil, true, appErr.Newf(appErr.ExecutorUnavailable, "execution service returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, false, appErr.Newf(appErr.JudgeSystemError,
			"execution service rejected request: %d %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var decoded executeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, false, appErr.Wrapf(err, appErr.JudgeSystemError, "decode execute response failed")
	}

	result := &Result{
		Stdout: capOutput(decoded.Run.Stdout, c.maxOutputBytes),
		Stderr: capOutput(decoded.Run.Stderr, c.maxOutputBytes),
	}
	if decoded.Run.Code != nil {
		result.ExitCode = *decoded.Run.Code
	}
	if decoded.Run.Signal != nil {
		result.Signal = *decoded.Run.Signal
	}
	if decoded.Compile != nil {
		result.CompileStderr = capOutput(decoded.Compile.Stderr, c.maxOutputBytes)
		if decoded.Compile.Code != nil {
			result.CompileExitCode = *decoded.Compile.Code
		}
	}
	return result, false, nil
}

func capOutput(out string, limit int64) string {
	if int64(len(out)) <= limit {
		return out
	}
	return out[:limit]
}
