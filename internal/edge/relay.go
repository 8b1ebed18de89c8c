package edge

import (
	"context"
	"crypto/subtle"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/ipa_gateway/internal/errors"
	"github.com/R3E-Network/ipa_gateway/internal/httputil"
	"github.com/R3E-Network/ipa_gateway/internal/logging"
)

// DefaultTimeouts are the per-attempt deadlines of a relay fetch.
var DefaultTimeouts = []time.Duration{5 * time.Second, 10 * time.Second}

// DefaultMaxBodyBytes caps a relayed manifest.
const DefaultMaxBodyBytes = 1 << 20

// errorSnippetBytes bounds how much of a failed upstream body is kept for logs.
const errorSnippetBytes = 256

// RelayRecorder receives per-attempt relay metrics.
type RelayRecorder interface {
	RecordRelayAttempt(result string)
	RecordRelay(duration time.Duration)
}

// SubrequestHeader marks relay fetches so a filter sharing the relayer's key
// passes them through instead of redirecting them.
const SubrequestHeader = "X-Edge-Relay"

// Relayer fetches upstream manifests with one attempt per timeout.
// Redirects are never followed.
type Relayer struct {
	client   *http.Client
	key      string
	timeouts []time.Duration
	maxBytes int64
	logger   *logging.Logger
	recorder RelayRecorder
}

// RelayerConfig configures a Relayer. Zero values take the defaults.
type RelayerConfig struct {
	Client       *http.Client
	Timeouts     []time.Duration
	MaxBodyBytes int64
	Logger       *logging.Logger
	Recorder     RelayRecorder

	// Key is sent in SubrequestHeader. Gateways relaying between each other
	// must share it; empty means a random per-process key.
	Key string
}

// NewRelayer creates a Relayer.
func NewRelayer(cfg RelayerConfig) *Relayer {
	client := &http.Client{}
	if cfg.Client != nil {
		*client = *cfg.Client
	}
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	key := cfg.Key
	if key == "" {
		key = uuid.NewString()
	}
	timeouts := cfg.Timeouts
	if len(timeouts) == 0 {
		timeouts = DefaultTimeouts
	}
	maxBytes := cfg.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	return &Relayer{
		client:   client,
		key:      key,
		timeouts: append([]time.Duration(nil), timeouts...),
		maxBytes: maxBytes,
		logger:   cfg.Logger,
		recorder: cfg.Recorder,
	}
}

// retryableError marks a failed attempt that a later attempt may fix.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }

func (e *retryableError) Unwrap() error { return e.err }

// IsSubrequest reports whether req was sent by this relayer.
func (r *Relayer) IsSubrequest(req *http.Request) bool {
	got := req.Header.Get(SubrequestHeader)
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(r.key)) == 1
}

// Fetch returns the upstream body. Transport errors, timeouts and 5xx
// responses move on to the next timeout; a redirect, any other non-2xx
// status, an oversized body or the last failed attempt is an UpstreamFailure.
func (r *Relayer) Fetch(ctx context.Context, target string) ([]byte, error) {
	start := time.Now()
	if r.recorder != nil {
		defer func() { r.recorder.RecordRelay(time.Since(start)) }()
	}

	var lastErr error
	for attempt, timeout := range r.timeouts {
		body, err := r.attempt(ctx, target, timeout)
		if err == nil {
			r.recordAttempt("ok")
			return body, nil
		}
		lastErr = err

		var retryable *retryableError
		if !stderrors.As(err, &retryable) {
			r.recordAttempt("rejected")
			break
		}
		r.recordAttempt("failed")
		if ctx.Err() != nil {
			break
		}
		if r.logger != nil && attempt < len(r.timeouts)-1 {
			r.logger.WithContext(ctx).WithError(err).WithField("attempt", attempt+1).Debug("Relay attempt failed, retrying")
		}
	}

	return nil, errors.UpstreamFailure("Failed to fetch manifest", lastErr)
}

func (r *Relayer) attempt(ctx context.Context, target string, timeout time.Duration) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build relay request: %w", err)
	}
	req.Header.Set("Accept", "application/xml, application/x-plist, */*")
	req.Header.Set(SubrequestHeader, r.key)
	if traceID := logging.GetTraceID(ctx); traceID != "" {
		req.Header.Set("X-Trace-ID", traceID)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &retryableError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		return nil, fmt.Errorf("upstream redirected (%d) to %q", resp.StatusCode, redact(resp.Header.Get("Location")))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := httputil.ReadAllWithLimit(resp.Body, errorSnippetBytes)
		statusErr := fmt.Errorf("upstream returned %d: %q", resp.StatusCode, snippet)
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, &retryableError{err: statusErr}
		}
		return nil, statusErr
	}

	body, err := httputil.ReadAllStrict(resp.Body, r.maxBytes)
	if err != nil {
		if stderrors.Is(err, httputil.ErrBodyTooLarge) {
			return nil, err
		}
		return nil, &retryableError{err: fmt.Errorf("read upstream body: %w", err)}
	}
	return body, nil
}

func (r *Relayer) recordAttempt(result string) {
	if r.recorder != nil {
		r.recorder.RecordRelayAttempt(result)
	}
}
