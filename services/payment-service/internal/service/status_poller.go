package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// ResultCode accepts the provider's code as a JSON string or number.
type ResultCode string

func (c *ResultCode) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = ResultCode(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid ResultCode %s: %w", data, err)
	}
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		*c = ResultCode(strconv.FormatInt(i, 10))
		return nil
	}
	*c = ResultCode(n.String())
	return nil
}

type verifyResponse struct {
	Status     bool       `json:"status"`
	ResultCode ResultCode `json:"ResultCode"`
	ResultDesc string     `json:"ResultDesc"`
}

type VerifyOutcome string

const (
	VerifyPending   VerifyOutcome = "pending"
	VerifySucceeded VerifyOutcome = "succeeded"
	VerifyFailed    VerifyOutcome = "failed"
)

// VerifyStatus is one classified answer from the provider.
type VerifyStatus struct {
	Outcome    VerifyOutcome
	ResultCode string
	Reason     string
}

type PollOutcome string

const (
	PollSucceeded PollOutcome = "succeeded"
	PollFailed    PollOutcome = "failed"
	PollTimedOut  PollOutcome = "timed_out"
	PollCancelled PollOutcome = "cancelled"
)

type PollBudget struct {
	Interval    time.Duration
	MaxAttempts int
}

// PollHooks let the caller stop a loop that no longer owns its session and
// observe every completed attempt. Both are optional.
type PollHooks struct {
	Guard     func() bool
	OnAttempt func(attempt int, status VerifyStatus, err error)
}

type PollResult struct {
	Outcome  PollOutcome
	Attempts int
	Reason   string
}

type StatusPoller struct {
	verifyURL    string
	pendingCodes map[string]struct{}
	client       *http.Client
	metrics      *MetricsCollector
	logger       *logrus.Logger
}

func NewStatusPoller(verifyURL string, pendingCodes []string, timeout time.Duration, metrics *MetricsCollector, logger *logrus.Logger) *StatusPoller {
	pending := make(map[string]struct{}, len(pendingCodes))
	for _, code := range pendingCodes {
		pending[code] = struct{}{}
	}

	return &StatusPoller{
		verifyURL:    verifyURL,
		pendingCodes: pending,
		client: &http.Client{
			Timeout: timeout,
		},
		metrics: metrics,
		logger:  logger,
	}
}

// Check performs one verify query. A non-nil error means the answer is unknown.
func (p *StatusPoller) Check(ctx context.Context, token string) (VerifyStatus, error) {
	u, err := url.Parse(p.verifyURL)
	if err != nil {
		return VerifyStatus{}, fmt.Errorf("invalid verify url: %w", err)
	}
	q := u.Query()
	q.Set("requestID", token)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return VerifyStatus{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := p.client.Do(req)
	p.metrics.ObserveProviderLatency("verify", time.Since(start))
	if err != nil {
		return VerifyStatus{}, fmt.Errorf("verify request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return VerifyStatus{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var parsed verifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err != nil {
		return VerifyStatus{}, fmt.Errorf("failed to decode verify response: %w", err)
	}

	return p.classify(parsed), nil
}

// classify treats a payment as successful only on status=true with code "0".
// Any other non-empty code outside the pending set is a definitive failure,
// whatever status says; status=false with no code or "0" is still pending.
func (p *StatusPoller) classify(r verifyResponse) VerifyStatus {
	code := string(r.ResultCode)
	status := VerifyStatus{ResultCode: code, Reason: r.ResultDesc}

	switch {
	case r.Status && code == "0":
		status.Outcome = VerifySucceeded
	case code == "" || code == "0" || p.isPending(code):
		status.Outcome = VerifyPending
	default:
		status.Outcome = VerifyFailed
		if status.Reason == "" {
			status.Reason = fmt.Sprintf("Payment failed (code %s)", code)
		}
	}
	return status
}

func (p *StatusPoller) isPending(code string) bool {
	_, ok := p.pendingCodes[code]
	return ok
}

// PollUntilTerminal queries the provider once per interval, the first time
// after one interval has elapsed, and stops on a definitive answer, on budget
// exhaustion, or when the guard or ctx says the session is gone. Transport
// errors consume an attempt and the loop carries on.
func (p *StatusPoller) PollUntilTerminal(ctx context.Context, token string, budget PollBudget, hooks PollHooks) PollResult {
	log := p.logger.WithField("correlation_token", token)

	owned := func() bool {
		if ctx.Err() != nil {
			return false
		}
		return hooks.Guard == nil || hooks.Guard()
	}

	ticker := time.NewTicker(budget.Interval)
	defer ticker.Stop()

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return PollResult{Outcome: PollCancelled, Attempts: attempt}
		case <-ticker.C:
		}

		if !owned() {
			return PollResult{Outcome: PollCancelled, Attempts: attempt}
		}

		attempt++
		status, err := p.Check(ctx, token)

		if !owned() {
			log.WithField("attempt", attempt).Debug("Discarding verify response for a superseded session")
			return PollResult{Outcome: PollCancelled, Attempts: attempt}
		}

		if hooks.OnAttempt != nil {
			hooks.OnAttempt(attempt, status, err)
		}

		if err != nil {
			p.metrics.IncrementPollAttempt("error")
			log.WithError(err).WithField("attempt", attempt).Warn("Payment status check failed, will retry")
		} else {
			p.metrics.IncrementPollAttempt(string(status.Outcome))
			switch status.Outcome {
			case VerifySucceeded:
				return PollResult{Outcome: PollSucceeded, Attempts: attempt}
			case VerifyFailed:
				return PollResult{Outcome: PollFailed, Attempts: attempt, Reason: status.Reason}
			}
		}

		if attempt >= budget.MaxAttempts {
			log.WithField("attempts", attempt).Info("Payment not confirmed within polling budget")
			return PollResult{Outcome: PollTimedOut, Attempts: attempt}
		}
	}
}
