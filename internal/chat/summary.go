package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultMaxRetries bounds the "not ready yet" retry loop.
	DefaultMaxRetries = 3
	// DefaultRetryDelay separates consecutive retry attempts.
	DefaultRetryDelay = 3 * time.Second

	// notReadyMessage is the sentinel the backend returns, together with a
	// 404, while the summary is still being generated. Only this exact
	// condition is retried; every other failure is terminal.
	notReadyMessage = "Doctor summary not yet available."

	defaultFetchTimeout = 30 * time.Second
)

type SummaryStatus int

const (
	SummaryIdle SummaryStatus = iota
	SummaryLoading
	SummaryReady
	SummaryFailed
)

// SummaryState tracks one summary request as the UI sees it. Internal
// retries keep the state at Loading; each user-initiated fetch settles into
// exactly one of Ready or Failed.
type SummaryState struct {
	status SummaryStatus
	doc    json.RawMessage
	errMsg string
}

// Begin moves to Loading and clears the prior result. It refuses while a
// fetch is already in flight.
func (s *SummaryState) Begin() bool {
	if s.status == SummaryLoading {
		return false
	}
	s.status = SummaryLoading
	s.doc = nil
	s.errMsg = ""
	return true
}

func (s *SummaryState) Resolve(doc json.RawMessage) {
	s.status = SummaryReady
	s.doc = doc
	s.errMsg = ""
}

func (s *SummaryState) Fail(msg string) {
	s.status = SummaryFailed
	s.doc = nil
	s.errMsg = msg
}

func (s *SummaryState) Status() SummaryStatus     { return s.status }
func (s *SummaryState) Loading() bool             { return s.status == SummaryLoading }
func (s *SummaryState) Document() json.RawMessage { return s.doc }
func (s *SummaryState) Err() string               { return s.errMsg }

// statusError carries a non-2xx response so the retry loop can tell the
// retryable not-ready sentinel apart from terminal failures.
type statusError struct {
	code    int
	message string
}

func (e *statusError) Error() string { return e.message }

// Fetcher retrieves the on-demand doctor summary for a session. The
// document is opaque to the client; it is stored and rendered verbatim.
type Fetcher struct {
	BaseURL    string
	HTTP       *http.Client
	MaxRetries int
	RetryDelay time.Duration
	Log        *zap.Logger
}

func NewFetcher(baseURL string, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		BaseURL:    baseURL,
		HTTP:       &http.Client{Timeout: defaultFetchTimeout},
		MaxRetries: DefaultMaxRetries,
		RetryDelay: DefaultRetryDelay,
		Log:        logger,
	}
}

// Fetch retrieves the summary for userID. Only the backend's "not yet
// available" sentinel is retried, up to MaxRetries attempts separated by
// RetryDelay; onRetry is invoked once per scheduled retry. Cancelling ctx
// aborts the loop, including a pending delay, so a teardown never leaves a
// retry firing into a dead view.
func (f *Fetcher) Fetch(ctx context.Context, userID string, onRetry func(attempt, max int)) (json.RawMessage, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("no session identity; cannot request a doctor summary")
	}
	url := fmt.Sprintf("%s/chat/%s/doctorsummary", strings.TrimRight(f.BaseURL, "/"), userID)

	for attempt := 0; ; attempt++ {
		doc, err := f.request(ctx, url)
		if err == nil {
			return doc, nil
		}

		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound && se.message == notReadyMessage && attempt < f.MaxRetries {
			f.Log.Info("summary not ready, scheduling retry",
				zap.Int("attempt", attempt+1), zap.Int("max", f.MaxRetries))
			if onRetry != nil {
				onRetry(attempt+1, f.MaxRetries)
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.RetryDelay):
			}
			continue
		}

		f.Log.Error("summary fetch failed", zap.Int("attempt", attempt), zap.Error(err))
		return nil, err
	}
}

func (f *Fetcher) request(ctx context.Context, url string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build summary request: %w", err)
	}

	resp, err := f.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("summary request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read summary response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(body, &errBody)
		msg := errBody.Message
		if msg == "" {
			msg = fmt.Sprintf("summary request failed with status %d", resp.StatusCode)
		}
		return nil, &statusError{code: resp.StatusCode, message: msg}
	}

	if !json.Valid(body) {
		return nil, errors.New("summary response was not valid JSON")
	}

	// A 200 whose body self-reports an error is still a failure; it must
	// never surface as a readable document.
	var probe struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(body, &probe) == nil && len(probe.Error) > 0 && string(probe.Error) != "null" {
		var msg string
		if json.Unmarshal(probe.Error, &msg) != nil || msg == "" {
			msg = "summary document reports an error"
		}
		return nil, errors.New(msg)
	}

	return json.RawMessage(body), nil
}
