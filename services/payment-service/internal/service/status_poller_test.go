package service

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grigta/hotspot/pkg/testutil"
)

var defaultPendingCodes = []string{"1", "500.001.1001"}

func newTestPoller(provider *testutil.MockPaymentProvider) *StatusPoller {
	return NewStatusPoller(provider.URL()+"/verify", defaultPendingCodes, time.Second, nil, newTestLogger())
}

func TestResultCode_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		input    string
		expected ResultCode
	}{
		{`"0"`, "0"},
		{`0`, "0"},
		{`1`, "1"},
		{`1032`, "1032"},
		{`"500.001.1001"`, "500.001.1001"},
		{`null`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var body struct {
				Code ResultCode `json:"ResultCode"`
			}
			require.NoError(t, json.Unmarshal([]byte(`{"ResultCode":`+tt.input+`}`), &body))
			assert.Equal(t, tt.expected, body.Code)
		})
	}

	var code ResultCode
	assert.Error(t, json.Unmarshal([]byte(`{}`), &code))
}

func TestStatusPoller_Classify(t *testing.T) {
	poller := NewStatusPoller("http://unused", defaultPendingCodes, time.Second, nil, newTestLogger())

	tests := []struct {
		name     string
		response verifyResponse
		outcome  VerifyOutcome
		reason   string
	}{
		{"success", verifyResponse{Status: true, ResultCode: "0"}, VerifySucceeded, ""},
		{"status false is pending", verifyResponse{Status: false}, VerifyPending, ""},
		{"status false with zero code is not success", verifyResponse{Status: false, ResultCode: "0"}, VerifyPending, ""},
		{"status false with failure code fails", verifyResponse{Status: false, ResultCode: "1032", ResultDesc: "Request cancelled by user"}, VerifyFailed, "Request cancelled by user"},
		{"status false with pending code is pending", verifyResponse{Status: false, ResultCode: "1"}, VerifyPending, ""},
		{"code one is pending", verifyResponse{Status: true, ResultCode: "1"}, VerifyPending, ""},
		{"processing code is pending", verifyResponse{Status: true, ResultCode: "500.001.1001"}, VerifyPending, ""},
		{"empty code is pending", verifyResponse{Status: true}, VerifyPending, ""},
		{"cancelled by user", verifyResponse{Status: true, ResultCode: "1032", ResultDesc: "Request cancelled by user"}, VerifyFailed, "Request cancelled by user"},
		{"failure without description", verifyResponse{Status: true, ResultCode: "2001"}, VerifyFailed, "Payment failed (code 2001)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := poller.classify(tt.response)
			assert.Equal(t, tt.outcome, status.Outcome)
			if tt.outcome == VerifyFailed {
				assert.Equal(t, tt.reason, status.Reason)
			}
		})
	}
}

func TestStatusPoller_PendingThenSuccess(t *testing.T) {
	provider := testutil.NewMockPaymentProvider("/stkpush", "/verify")
	defer provider.Close()
	provider.ScriptVerify(resultCode(true, "1", ""), resultCode(true, "0", ""))

	var attempts []int
	result := newTestPoller(provider).PollUntilTerminal(context.Background(), "abc123",
		PollBudget{Interval: 10 * time.Millisecond, MaxAttempts: 12},
		PollHooks{OnAttempt: func(attempt int, status VerifyStatus, err error) {
			attempts = append(attempts, attempt)
		}})

	assert.Equal(t, PollSucceeded, result.Outcome)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, []int{1, 2}, attempts)
	assert.Equal(t, 2, provider.VerifyCalls())

	for _, req := range provider.GetRequestLog() {
		assert.Equal(t, http.MethodGet, req.Method)
		assert.Equal(t, "abc123", req.Query["requestID"])
	}
}

func TestStatusPoller_NumericResultCode(t *testing.T) {
	provider := testutil.NewMockPaymentProvider("/stkpush", "/verify")
	defer provider.Close()
	provider.ScriptVerify(resultCode(true, 0, "The service request is processed successfully."))

	result := newTestPoller(provider).PollUntilTerminal(context.Background(), "abc123",
		PollBudget{Interval: 10 * time.Millisecond, MaxAttempts: 3}, PollHooks{})
	assert.Equal(t, PollSucceeded, result.Outcome)
}

func TestStatusPoller_BudgetExhausted(t *testing.T) {
	provider := testutil.NewMockPaymentProvider("/stkpush", "/verify")
	defer provider.Close()

	result := newTestPoller(provider).PollUntilTerminal(context.Background(), "abc123",
		PollBudget{Interval: 5 * time.Millisecond, MaxAttempts: 12}, PollHooks{})

	assert.Equal(t, PollTimedOut, result.Outcome)
	assert.Equal(t, 12, result.Attempts)
	assert.Equal(t, 12, provider.VerifyCalls())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 12, provider.VerifyCalls(), "no calls after the budget is spent")
}

func TestStatusPoller_PendingCodeOneNeverSucceeds(t *testing.T) {
	provider := testutil.NewMockPaymentProvider("/stkpush", "/verify")
	defer provider.Close()
	provider.SetVerifyDefault(resultCode(true, "1", ""))

	result := newTestPoller(provider).PollUntilTerminal(context.Background(), "abc123",
		PollBudget{Interval: 5 * time.Millisecond, MaxAttempts: 4}, PollHooks{})
	assert.Equal(t, PollTimedOut, result.Outcome)
}

func TestStatusPoller_ProviderFailure(t *testing.T) {
	provider := testutil.NewMockPaymentProvider("/stkpush", "/verify")
	defer provider.Close()
	provider.ScriptVerify(pending(), resultCode(true, "1032", "Request cancelled by user"))

	result := newTestPoller(provider).PollUntilTerminal(context.Background(), "abc123",
		PollBudget{Interval: 5 * time.Millisecond, MaxAttempts: 12}, PollHooks{})

	assert.Equal(t, PollFailed, result.Outcome)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, "Request cancelled by user", result.Reason)
}

// A cancelled prompt reported with status=false stops polling at once.
func TestStatusPoller_FailureCodeWithStatusFalse(t *testing.T) {
	provider := testutil.NewMockPaymentProvider("/stkpush", "/verify")
	defer provider.Close()
	provider.ScriptVerify(resultCode(false, "1032", "Request cancelled by user"))

	result := newTestPoller(provider).PollUntilTerminal(context.Background(), "abc123",
		PollBudget{Interval: 5 * time.Millisecond, MaxAttempts: 12}, PollHooks{})

	assert.Equal(t, PollFailed, result.Outcome)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, "Request cancelled by user", result.Reason)
	assert.Equal(t, 1, provider.VerifyCalls())
}

func TestStatusPoller_TransportErrorsConsumeAttempts(t *testing.T) {
	provider := testutil.NewMockPaymentProvider("/stkpush", "/verify")
	defer provider.Close()
	provider.SetVerifyStatus(http.StatusServiceUnavailable)

	var errs int
	result := newTestPoller(provider).PollUntilTerminal(context.Background(), "abc123",
		PollBudget{Interval: 5 * time.Millisecond, MaxAttempts: 3},
		PollHooks{OnAttempt: func(attempt int, status VerifyStatus, err error) {
			if err != nil {
				errs++
			}
		}})

	assert.Equal(t, PollTimedOut, result.Outcome)
	assert.Equal(t, 3, provider.VerifyCalls())
	assert.Equal(t, 3, errs)
}

func TestStatusPoller_CheckTimeout(t *testing.T) {
	provider := testutil.NewMockPaymentProvider("/stkpush", "/verify")
	defer provider.Close()
	provider.SetVerifyDelay(300 * time.Millisecond)

	poller := NewStatusPoller(provider.URL()+"/verify", defaultPendingCodes, 50*time.Millisecond, nil, newTestLogger())
	_, err := poller.Check(context.Background(), "abc123")
	assert.Error(t, err)
}

func TestStatusPoller_RecoversAfterTransportError(t *testing.T) {
	provider := testutil.NewMockPaymentProvider("/stkpush", "/verify")
	defer provider.Close()
	provider.SetVerifyStatus(http.StatusBadGateway)

	var calls int32
	poller := newTestPoller(provider)
	result := poller.PollUntilTerminal(context.Background(), "abc123",
		PollBudget{Interval: 5 * time.Millisecond, MaxAttempts: 5},
		PollHooks{OnAttempt: func(attempt int, status VerifyStatus, err error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				assert.Error(t, err)
				provider.SetVerifyStatus(http.StatusOK)
				provider.SetVerifyDefault(resultCode(true, "0", ""))
			}
		}})

	assert.Equal(t, PollSucceeded, result.Outcome)
	assert.Equal(t, 2, result.Attempts)
}

func TestStatusPoller_FirstQueryAfterOneInterval(t *testing.T) {
	provider := testutil.NewMockPaymentProvider("/stkpush", "/verify")
	defer provider.Close()
	provider.ScriptVerify(resultCode(true, "0", ""))

	interval := 60 * time.Millisecond
	start := time.Now()
	newTestPoller(provider).PollUntilTerminal(context.Background(), "abc123",
		PollBudget{Interval: interval, MaxAttempts: 3}, PollHooks{})

	log := provider.GetRequestLog()
	require.Len(t, log, 1)
	assert.GreaterOrEqual(t, log[0].Timestamp.Sub(start), interval)
}

func TestStatusPoller_GuardStopsBeforeQuery(t *testing.T) {
	provider := testutil.NewMockPaymentProvider("/stkpush", "/verify")
	defer provider.Close()

	result := newTestPoller(provider).PollUntilTerminal(context.Background(), "abc123",
		PollBudget{Interval: 5 * time.Millisecond, MaxAttempts: 12},
		PollHooks{Guard: func() bool { return false }})

	assert.Equal(t, PollCancelled, result.Outcome)
	assert.Zero(t, provider.VerifyCalls())
}

func TestStatusPoller_GuardDiscardsStaleResponse(t *testing.T) {
	provider := testutil.NewMockPaymentProvider("/stkpush", "/verify")
	defer provider.Close()
	provider.ScriptVerify(resultCode(true, "0", ""))

	var hookCalls int
	result := newTestPoller(provider).PollUntilTerminal(context.Background(), "abc123",
		PollBudget{Interval: 5 * time.Millisecond, MaxAttempts: 12},
		PollHooks{
			Guard: func() bool { return provider.VerifyCalls() == 0 },
			OnAttempt: func(int, VerifyStatus, error) {
				hookCalls++
			},
		})

	assert.Equal(t, PollCancelled, result.Outcome, "a success seen by a superseded loop is discarded")
	assert.Equal(t, 1, provider.VerifyCalls())
	assert.Zero(t, hookCalls)
}

func TestStatusPoller_ContextCancelled(t *testing.T) {
	provider := testutil.NewMockPaymentProvider("/stkpush", "/verify")
	defer provider.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(25 * time.Millisecond)
		cancel()
	}()

	done := make(chan PollResult, 1)
	go func() {
		done <- newTestPoller(provider).PollUntilTerminal(ctx, "abc123",
			PollBudget{Interval: 10 * time.Millisecond, MaxAttempts: 1000}, PollHooks{})
	}()

	select {
	case result := <-done:
		assert.Equal(t, PollCancelled, result.Outcome)
	case <-time.After(2 * time.Second):
		t.Fatal("poll loop did not stop after cancellation")
	}

	calls := provider.VerifyCalls()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, calls, provider.VerifyCalls(), "no timer left running")
}
