package payment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/payment-reconciliation/internal/core/events"
)

type Receipt struct {
	GatewayTransactionID string
	GatewayOrderID       string
	UserID               string
	TenantID             string
	Amount               int64
	Currency             string
}

// ReceiptSender delivers payment receipts to customers. Delivery itself
// (email, push) is owned by another service.
type ReceiptSender interface {
	SendReceipt(ctx context.Context, receipt Receipt) error
}

// LogReceiptSender only logs; used when no delivery service is configured.
type LogReceiptSender struct {
	logger *slog.Logger
}

func NewLogReceiptSender(logger *slog.Logger) *LogReceiptSender {
	return &LogReceiptSender{logger: logger}
}

func (s *LogReceiptSender) SendReceipt(_ context.Context, receipt Receipt) error {
	s.logger.Info("payment receipt queued",
		"gateway_transaction_id", receipt.GatewayTransactionID,
		"user_id", receipt.UserID,
		"amount", receipt.Amount,
		"currency", receipt.Currency)
	return nil
}

type ReceiptNotifier struct {
	sender ReceiptSender
	logger *slog.Logger
}

func NewReceiptNotifier(sender ReceiptSender, logger *slog.Logger) *ReceiptNotifier {
	return &ReceiptNotifier{
		sender: sender,
		logger: logger,
	}
}

func (n *ReceiptNotifier) HandlePaymentCaptured(ctx context.Context, event events.Event) error {
	captured, ok := event.(*events.PaymentCapturedEvent)
	if !ok {
		n.logger.Error("invalid event type for payment captured handler", "event_type", event.EventType())
		return fmt.Errorf("expected PaymentCapturedEvent, got %T", event)
	}

	if captured.UserID == "" {
		n.logger.Debug("no customer for captured payment, receipt skipped",
			"gateway_transaction_id", captured.GatewayTransactionID)
		return nil
	}

	err := n.sender.SendReceipt(ctx, Receipt{
		GatewayTransactionID: captured.GatewayTransactionID,
		GatewayOrderID:       captured.GatewayOrderID,
		UserID:               captured.UserID,
		TenantID:             captured.TenantID,
		Amount:               captured.Amount,
		Currency:             captured.Currency,
	})
	if err != nil {
		return fmt.Errorf("send receipt for %s: %w", captured.GatewayTransactionID, err)
	}
	return nil
}

func (n *ReceiptNotifier) RegisterEventHandlers(eventBus *events.EventBus) {
	eventBus.Subscribe(events.EventTypePaymentCaptured, n.HandlePaymentCaptured)

	n.logger.Info("receipt event handlers registered",
		"handlers", []string{events.EventTypePaymentCaptured})
}
