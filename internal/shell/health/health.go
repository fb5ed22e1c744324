// Package health verifies that a freshly deployed service answers HTTP
// before the pipeline reports success.
package health

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Config bounds the verification loop.
type Config struct {
	// Attempts is the number of probes before giving up. Default: 6.
	Attempts int

	// Delay is the fixed pause between attempts (no backoff; the service is
	// either warming up or broken, and 6x10s covers cold starts on both
	// platforms). Default: 10 seconds.
	Delay time.Duration

	// Timeout bounds each individual probe. Default: 5 seconds.
	Timeout time.Duration
}

// DefaultConfig returns the production probe schedule.
func DefaultConfig() Config {
	return Config{
		Attempts: 6,
		Delay:    10 * time.Second,
		Timeout:  5 * time.Second,
	}
}

// CheckError reports a URL that never became healthy.
type CheckError struct {
	URL      string
	Attempts int
	LastErr  error
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("service at %s not healthy after %d attempts: %v", e.URL, e.Attempts, e.LastErr)
}

func (e *CheckError) Unwrap() error {
	return e.LastErr
}

// =============================================================================
// Verifier
// =============================================================================

// Verifier probes deployed URLs.
type Verifier struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewVerifier creates a verifier. Zero config fields get defaults; a nil
// httpClient gets the default client (which follows redirects, so a service
// answering 301 to its canonical host still counts as healthy).
func NewVerifier(config Config, httpClient *http.Client, logger *slog.Logger) *Verifier {
	def := DefaultConfig()
	if config.Attempts == 0 {
		config.Attempts = def.Attempts
	}
	if config.Delay == 0 {
		config.Delay = def.Delay
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		config:     config,
		httpClient: httpClient,
		logger:     logger.With("component", "health"),
	}
}

// Check probes url until it answers with a 2xx or attempts run out. The
// pause happens strictly between attempts, so a healthy service returns
// immediately and total worst-case time is Attempts*(Timeout+Delay)-Delay.
func (v *Verifier) Check(ctx context.Context, url string) error {
	var lastErr error

	for attempt := 1; attempt <= v.config.Attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(v.config.Delay):
			}
		}

		lastErr = v.probe(ctx, url)
		if lastErr == nil {
			v.logger.Info("service healthy", "url", url, "attempt", attempt)
			return nil
		}
		v.logger.Warn("health probe failed",
			"url", url,
			"attempt", attempt,
			"of", v.config.Attempts,
			"error", lastErr.Error(),
		)
	}

	return &CheckError{URL: url, Attempts: v.config.Attempts, LastErr: lastErr}
}

func (v *Verifier) probe(ctx context.Context, url string) error {
	probeCtx, cancel := context.WithTimeout(ctx, v.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
