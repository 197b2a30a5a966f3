package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/sirupsen/logrus"

	"github.com/grigta/hotspot/services/payment-service/internal/models"
)

// TelegramNotifier alerts the support chat when a paid session could not be
// activated, so staff can grant access by hand.
type TelegramNotifier struct {
	bot    *bot.Bot
	chatID int64
	logger *logrus.Logger
}

// NewTelegramNotifier connects lazily; serverURL overrides the Bot API host
// and is empty in production.
func NewTelegramNotifier(token string, chatID int64, serverURL string, logger *logrus.Logger) (*TelegramNotifier, error) {
	opts := []bot.Option{
		bot.WithSkipGetMe(),
	}
	if serverURL != "" {
		opts = append(opts, bot.WithServerURL(serverURL))
	}

	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return &TelegramNotifier{
		bot:    b,
		chatID: chatID,
		logger: logger,
	}, nil
}

func (n *TelegramNotifier) NotifyGrantFailure(ctx context.Context, session *models.PaymentSession) error {
	var sb strings.Builder
	sb.WriteString("Paid session without access\n")
	fmt.Fprintf(&sb, "Session: %s\n", session.SessionID)
	fmt.Fprintf(&sb, "Payment ref: %s\n", session.CorrelationToken)
	fmt.Fprintf(&sb, "Payer: %s\n", session.MaskedIdentity())
	fmt.Fprintf(&sb, "Package: %s (%d)\n", session.PackageLabel, session.Amount)
	fmt.Fprintf(&sb, "Client: %s / %s\n", session.NetworkIdentity.Address, session.NetworkIdentity.HardwareAddress)
	fmt.Fprintf(&sb, "Reason: %s", session.FailureReason)

	_, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: n.chatID,
		Text:   sb.String(),
	})
	if err != nil {
		return fmt.Errorf("failed to send support alert: %w", err)
	}

	n.logger.WithField("session_id", session.SessionID).Info("Support alerted about failed grant")
	return nil
}
