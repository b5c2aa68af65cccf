package payment

import (
	"encoding/json"
	"time"
)

type OrderStatus string

const (
	OrderStatusCreated OrderStatus = "created"
	OrderStatusPaid    OrderStatus = "paid"
	OrderStatusFailed  OrderStatus = "failed"
	OrderStatusExpired OrderStatus = "expired"
)

type TransactionStatus string

const (
	TransactionStatusAuthorized TransactionStatus = "authorized"
	TransactionStatusCaptured   TransactionStatus = "captured"
	TransactionStatusFailed     TransactionStatus = "failed"
	TransactionStatusRefunded   TransactionStatus = "refunded"
)

type RefundStatus string

const (
	RefundStatusCreated   RefundStatus = "created"
	RefundStatusProcessed RefundStatus = "processed"
	RefundStatusFailed    RefundStatus = "failed"
)

// PaymentOrder is the intent to collect money, created before the customer pays.
// Exactly one of LinkedOrderID and SubscriptionID is set.
type PaymentOrder struct {
	ID             int64       `gorm:"primaryKey"`
	GatewayOrderID string      `gorm:"column:gateway_order_id;not null;uniqueIndex"`
	Amount         int64       `gorm:"column:amount;not null"`
	Currency       string      `gorm:"column:currency;not null"`
	Status         OrderStatus `gorm:"column:status;not null"`
	UserID         string      `gorm:"column:user_id;not null"`
	TenantID       string      `gorm:"column:tenant_id;not null;index"`
	LinkedOrderID  *int64      `gorm:"column:linked_order_id"`
	SubscriptionID *int64      `gorm:"column:subscription_id"`
	ExpiresAt      *time.Time  `gorm:"column:expires_at"`
	CreatedAt      time.Time   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time   `gorm:"column:updated_at;autoUpdateTime"`
}

func (PaymentOrder) TableName() string { return "payment_orders" }

type PaymentTransaction struct {
	ID                   int64             `gorm:"primaryKey"`
	PaymentOrderID       *int64            `gorm:"column:payment_order_id;index"`
	TenantID             string            `gorm:"column:tenant_id;index"`
	GatewayTransactionID string            `gorm:"column:gateway_transaction_id;not null;uniqueIndex"`
	GatewayOrderID       string            `gorm:"column:gateway_order_id"`
	Amount               int64             `gorm:"column:amount;not null"`
	Currency             string            `gorm:"column:currency;not null"`
	Status               TransactionStatus `gorm:"column:status;not null"`
	Method               string            `gorm:"column:method"`
	Gateway              string            `gorm:"column:gateway;not null"`
	Fee                  int64             `gorm:"column:fee"`
	Tax                  int64             `gorm:"column:tax"`
	GatewayPayload       json.RawMessage   `gorm:"column:gateway_payload;type:jsonb"`
	ErrorCode            *string           `gorm:"column:error_code"`
	ErrorDescription     *string           `gorm:"column:error_description"`
	AuthorizedAt         *time.Time        `gorm:"column:authorized_at"`
	CapturedAt           *time.Time        `gorm:"column:captured_at;index"`
	// GatewayCreatedAt is the gateway's own creation time for the payment.
	// Reconciliation periods are cut on it so both sides share one clock.
	GatewayCreatedAt     *time.Time        `gorm:"column:gateway_created_at;index"`
	FailedAt             *time.Time        `gorm:"column:failed_at"`
	RefundedAt           *time.Time        `gorm:"column:refunded_at"`
	CreatedAt            time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (PaymentTransaction) TableName() string { return "payment_transactions" }

type PaymentRefund struct {
	ID                   int64        `gorm:"primaryKey"`
	PaymentTransactionID int64        `gorm:"column:payment_transaction_id;not null;index"`
	GatewayRefundID      string       `gorm:"column:gateway_refund_id;not null;uniqueIndex"`
	Amount               int64        `gorm:"column:amount;not null"`
	Currency             string       `gorm:"column:currency;not null"`
	Status               RefundStatus `gorm:"column:status;not null"`
	Reason               *string      `gorm:"column:reason"`
	ProcessedAt          *time.Time   `gorm:"column:processed_at"`
	CreatedAt            time.Time    `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time    `gorm:"column:updated_at;autoUpdateTime"`
}

func (PaymentRefund) TableName() string { return "payment_refunds" }

// LinkedOrder is the customer order a payment order settles. Only its payment
// fields are touched here; the rest of the order lifecycle lives elsewhere.
type LinkedOrder struct {
	ID            int64     `gorm:"primaryKey"`
	PaymentStatus string    `gorm:"column:payment_status;not null"`
	Status        string    `gorm:"column:status;not null"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (LinkedOrder) TableName() string { return "orders" }

type Subscription struct {
	ID            int64     `gorm:"primaryKey"`
	PaymentStatus string    `gorm:"column:payment_status;not null"`
	Status        string    `gorm:"column:status;not null"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Subscription) TableName() string { return "subscriptions" }
