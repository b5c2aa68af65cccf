package reconciliation

import "time"

type Status string

const (
	StatusPending            Status = "pending"
	StatusReconciled         Status = "reconciled"
	StatusDiscrepanciesFound Status = "discrepancies_found"
	StatusFailed             Status = "failed"
)

type Type string

const (
	TypeAutomated  Type = "automated"
	TypeManual     Type = "manual"
	TypeSettlement Type = "settlement"
)

type DiscrepancyType string

const (
	DiscrepancyAmountMismatch DiscrepancyType = "amount_mismatch"
	DiscrepancyMissingPayment DiscrepancyType = "missing_payment"
	DiscrepancyExtraPayment   DiscrepancyType = "extra_payment"
)

type Record struct {
	ID                int64         `gorm:"primaryKey"`
	TenantID          string        `gorm:"column:tenant_id;not null;index"`
	Gateway           string        `gorm:"column:gateway;not null"`
	PeriodStart       time.Time     `gorm:"column:period_start;not null"`
	PeriodEnd         time.Time     `gorm:"column:period_end;not null"`
	Type              Type          `gorm:"column:type;not null"`
	Currency          string        `gorm:"column:currency"`
	TotalPayments     int64         `gorm:"column:total_payments"`
	TotalRefunds      int64         `gorm:"column:total_refunds"`
	TotalFees         int64         `gorm:"column:total_fees"`
	NetSettlement     int64         `gorm:"column:net_settlement"`
	MatchedCount      int           `gorm:"column:matched_count"`
	DiscrepancyCount  int           `gorm:"column:discrepancy_count"`
	ReconciledAmount  int64         `gorm:"column:reconciled_amount"`
	DiscrepancyAmount int64         `gorm:"column:discrepancy_amount"`
	Status            Status        `gorm:"column:status;not null;index"`
	FailureReason     *string       `gorm:"column:failure_reason"`
	DiscrepancyReason *string       `gorm:"column:discrepancy_reason"`
	InitiatedBy       string        `gorm:"column:initiated_by;not null"`
	CompletedAt       *time.Time    `gorm:"column:completed_at"`
	CreatedAt         time.Time     `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time     `gorm:"column:updated_at;autoUpdateTime"`
	Discrepancies     []Discrepancy `gorm:"foreignKey:ReconciliationID"`
}

func (Record) TableName() string { return "reconciliation_records" }

type Discrepancy struct {
	ID                    int64           `gorm:"primaryKey"`
	ReconciliationID      int64           `gorm:"column:reconciliation_id;not null;index"`
	Type                  DiscrepancyType `gorm:"column:type;not null"`
	InternalTransactionID *string         `gorm:"column:internal_transaction_id"`
	GatewayTransactionID  *string         `gorm:"column:gateway_transaction_id"`
	ExpectedAmount        int64           `gorm:"column:expected_amount"`
	ActualAmount          int64           `gorm:"column:actual_amount"`
	Difference            int64           `gorm:"column:difference"`
	Currency              string          `gorm:"column:currency"`
	CreatedAt             time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (Discrepancy) TableName() string { return "reconciliation_discrepancies" }
