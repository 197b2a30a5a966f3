package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/grigta/hotspot/services/payment-service/internal/models"
)

type initiateRequest struct {
	Phone         string `json:"phone"`
	Amount        int64  `json:"amount"`
	AccountNumber string `json:"accountNumber"`
}

type initiateResponse struct {
	Status            bool   `json:"status"`
	CheckoutRequestID string `json:"checkoutRequestID"`
	Msg               string `json:"msg"`
}

// PaymentInitiator sends the push-payment prompt to the payer's phone.
// It never retries: a second call would prompt (and possibly charge) twice.
type PaymentInitiator struct {
	initiateURL     string
	identityPattern *regexp.Regexp
	client          *http.Client
	metrics         *MetricsCollector
	logger          *logrus.Logger
}

func NewPaymentInitiator(initiateURL, identityPattern string, timeout time.Duration, metrics *MetricsCollector, logger *logrus.Logger) (*PaymentInitiator, error) {
	pattern, err := regexp.Compile(identityPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid identity pattern: %w", err)
	}

	return &PaymentInitiator{
		initiateURL:     initiateURL,
		identityPattern: pattern,
		client: &http.Client{
			Timeout: timeout,
		},
		metrics: metrics,
		logger:  logger,
	}, nil
}

// Validate checks a purchase locally. It performs no I/O.
func (p *PaymentInitiator) Validate(identity string, amount int64, durationHours int) error {
	if !p.identityPattern.MatchString(identity) {
		return models.ValidationError("Enter a valid phone number in the format 2547XXXXXXXX")
	}
	if amount <= 0 {
		return models.ValidationError("Amount must be greater than zero")
	}
	if durationHours <= 0 {
		return models.ValidationError("Package duration must be greater than zero")
	}
	return nil
}

// Initiate returns the provider's correlation token for the new payment.
func (p *PaymentInitiator) Initiate(ctx context.Context, identity string, amount int64, durationHours int) (string, error) {
	if err := p.Validate(identity, amount, durationHours); err != nil {
		return "", err
	}

	body, err := json.Marshal(initiateRequest{
		Phone:         identity,
		Amount:        amount,
		AccountNumber: models.AccountNumber(durationHours),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal initiate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.initiateURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	p.metrics.ObserveProviderLatency("initiate", time.Since(start))
	if err != nil {
		p.logger.WithError(err).Warn("Payment initiation request failed")
		return "", models.NewFlowError(models.ErrorKindTransport, "Could not reach the payment service. Please try again.", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", models.NewFlowError(models.ErrorKindTransport, "Could not read the payment service response. Please try again.", err)
	}

	var parsed initiateResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		if resp.StatusCode >= 300 {
			return "", models.NewFlowError(models.ErrorKindTransport, "The payment service is unavailable. Please try again.",
				fmt.Errorf("unexpected status code: %d", resp.StatusCode))
		}
		return "", models.NewFlowError(models.ErrorKindTransport, "Unexpected response from the payment service.", err)
	}

	if !parsed.Status || resp.StatusCode >= 300 {
		reason := parsed.Msg
		if reason == "" {
			reason = "Payment request was declined"
		}
		p.logger.WithFields(logrus.Fields{
			"status_code": resp.StatusCode,
			"reason":      reason,
		}).Info("Payment initiation rejected")
		return "", models.NewFlowError(models.ErrorKindProviderRejection, reason, nil)
	}

	if parsed.CheckoutRequestID == "" {
		return "", models.NewFlowError(models.ErrorKindProviderRejection, "Payment service did not return a request reference", nil)
	}

	return parsed.CheckoutRequestID, nil
}
