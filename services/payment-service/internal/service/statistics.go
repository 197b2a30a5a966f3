package service

import (
	"context"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/grigta/hotspot/services/payment-service/internal/models"
)

type SessionHistory interface {
	FindCreatedSince(ctx context.Context, since time.Time) ([]*models.PaymentSession, error)
}

type StatisticsService struct {
	history SessionHistory
}

func NewStatisticsService(history SessionHistory) *StatisticsService {
	return &StatisticsService{history: history}
}

func (s *StatisticsService) Compute(ctx context.Context, since time.Time) (*models.Statistics, error) {
	sessions, err := s.history.FindCreatedSince(ctx, since)
	if err != nil {
		return nil, err
	}
	return Summarize(since, sessions), nil
}

// Summarize aggregates sessions; revenue counts only confirmed payments.
func Summarize(since time.Time, sessions []*models.PaymentSession) *models.Statistics {
	result := &models.Statistics{
		Since:         since,
		TotalSessions: len(sessions),
		ByState:       make(map[models.SessionState]int),
	}

	var latencies, attempts []float64
	for _, session := range sessions {
		result.ByState[session.State]++
		attempts = append(attempts, float64(session.AttemptCount))

		if d, ok := session.ConfirmationLatency(); ok {
			result.TotalRevenue += session.Amount
			latencies = append(latencies, d.Seconds())
		}
	}

	if len(attempts) > 0 {
		result.MeanAttempts = stat.Mean(attempts, nil)
	}

	result.Confirmed = len(latencies)
	if len(latencies) > 0 {
		sort.Float64s(latencies)
		result.MeanConfirmSeconds = stat.Mean(latencies, nil)
		result.MedianConfirmSeconds = stat.Quantile(0.5, stat.Empirical, latencies, nil)
		result.P95ConfirmSeconds = stat.Quantile(0.95, stat.Empirical, latencies, nil)
	}

	return result
}
