package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypePaymentCaptured         = "payment.captured"
	EventTypePaymentFailed           = "payment.failed"
	EventTypeRefundProcessed         = "refund.processed"
	EventTypeReconciliationCompleted = "reconciliation.completed"
)

func newBase(eventType string, data map[string]interface{}) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

type PaymentCapturedEvent struct {
	BaseEvent
	GatewayTransactionID string `json:"gateway_transaction_id"`
	GatewayOrderID       string `json:"gateway_order_id"`
	PaymentOrderID       int64  `json:"payment_order_id,omitempty"`
	UserID               string `json:"user_id,omitempty"`
	TenantID             string `json:"tenant_id,omitempty"`
	Amount               int64  `json:"amount"`
	Currency             string `json:"currency"`
}

func NewPaymentCapturedEvent(gatewayTxnID, gatewayOrderID string, paymentOrderID int64, userID, tenantID string, amount int64, currency string) *PaymentCapturedEvent {
	return &PaymentCapturedEvent{
		BaseEvent: newBase(EventTypePaymentCaptured, map[string]interface{}{
			"gateway_transaction_id": gatewayTxnID,
			"gateway_order_id":       gatewayOrderID,
			"payment_order_id":       paymentOrderID,
			"user_id":                userID,
			"tenant_id":              tenantID,
			"amount":                 amount,
			"currency":               currency,
		}),
		GatewayTransactionID: gatewayTxnID,
		GatewayOrderID:       gatewayOrderID,
		PaymentOrderID:       paymentOrderID,
		UserID:               userID,
		TenantID:             tenantID,
		Amount:               amount,
		Currency:             currency,
	}
}

type PaymentFailedEvent struct {
	BaseEvent
	GatewayTransactionID string `json:"gateway_transaction_id"`
	GatewayOrderID       string `json:"gateway_order_id"`
	ErrorCode            string `json:"error_code,omitempty"`
	ErrorDescription     string `json:"error_description,omitempty"`
}

func NewPaymentFailedEvent(gatewayTxnID, gatewayOrderID, errorCode, errorDescription string) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		BaseEvent: newBase(EventTypePaymentFailed, map[string]interface{}{
			"gateway_transaction_id": gatewayTxnID,
			"gateway_order_id":       gatewayOrderID,
			"error_code":             errorCode,
			"error_description":      errorDescription,
		}),
		GatewayTransactionID: gatewayTxnID,
		GatewayOrderID:       gatewayOrderID,
		ErrorCode:            errorCode,
		ErrorDescription:     errorDescription,
	}
}

type RefundProcessedEvent struct {
	BaseEvent
	GatewayRefundID      string `json:"gateway_refund_id"`
	GatewayTransactionID string `json:"gateway_transaction_id"`
	Amount               int64  `json:"amount"`
	Currency             string `json:"currency"`
}

func NewRefundProcessedEvent(refundID, gatewayTxnID string, amount int64, currency string) *RefundProcessedEvent {
	return &RefundProcessedEvent{
		BaseEvent: newBase(EventTypeRefundProcessed, map[string]interface{}{
			"gateway_refund_id":      refundID,
			"gateway_transaction_id": gatewayTxnID,
			"amount":                 amount,
			"currency":               currency,
		}),
		GatewayRefundID:      refundID,
		GatewayTransactionID: gatewayTxnID,
		Amount:               amount,
		Currency:             currency,
	}
}

type ReconciliationCompletedEvent struct {
	BaseEvent
	ReconciliationID  int64  `json:"reconciliation_id"`
	TenantID          string `json:"tenant_id"`
	Status            string `json:"status"`
	DiscrepancyCount  int    `json:"discrepancy_count"`
	DiscrepancyAmount int64  `json:"discrepancy_amount"`
}

func NewReconciliationCompletedEvent(id int64, tenantID, status string, discrepancyCount int, discrepancyAmount int64) *ReconciliationCompletedEvent {
	return &ReconciliationCompletedEvent{
		BaseEvent: newBase(EventTypeReconciliationCompleted, map[string]interface{}{
			"reconciliation_id":  id,
			"tenant_id":          tenantID,
			"status":             status,
			"discrepancy_count":  discrepancyCount,
			"discrepancy_amount": discrepancyAmount,
		}),
		ReconciliationID:  id,
		TenantID:          tenantID,
		Status:            status,
		DiscrepancyCount:  discrepancyCount,
		DiscrepancyAmount: discrepancyAmount,
	}
}
