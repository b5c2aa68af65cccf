package paymentgateway

import (
	"encoding/json"
	"time"

	"github.com/spf13/cast"
)

// Gateway-side payment statuses as reported by the API and in webhooks.
const (
	PaymentStatusCreated    = "created"
	PaymentStatusAuthorized = "authorized"
	PaymentStatusCaptured   = "captured"
	PaymentStatusRefunded   = "refunded"
	PaymentStatusFailed     = "failed"

	RefundStatusPending   = "pending"
	RefundStatusProcessed = "processed"
	RefundStatusFailed    = "failed"
)

// Payment is the gateway's payment entity. Notes is free-form: the gateway
// sends an object when populated and an empty array otherwise.
type Payment struct {
	ID               string          `json:"id"`
	Entity           string          `json:"entity"`
	Amount           int64           `json:"amount"`
	Currency         string          `json:"currency"`
	Status           string          `json:"status"`
	OrderID          string          `json:"order_id"`
	Method           string          `json:"method"`
	Captured         bool            `json:"captured"`
	Fee              interface{}     `json:"fee"`
	Tax              interface{}     `json:"tax"`
	ErrorCode        string          `json:"error_code"`
	ErrorDescription string          `json:"error_description"`
	Notes            interface{}     `json:"notes"`
	CreatedAt        int64           `json:"created_at"`
	Raw              json.RawMessage `json:"-"`
}

// FeeAmount returns the fee in minor units, tolerating null and numeric strings.
func (p Payment) FeeAmount() int64 {
	return cast.ToInt64(p.Fee)
}

func (p Payment) TaxAmount() int64 {
	return cast.ToInt64(p.Tax)
}

// Note returns a string note value, or "" if notes are absent or not an object.
func (p Payment) Note(key string) string {
	return noteValue(p.Notes, key)
}

func (p Payment) TenantID() string {
	return p.Note("tenant_id")
}

func (p Payment) CreatedTime() time.Time {
	return time.Unix(p.CreatedAt, 0).UTC()
}

type Refund struct {
	ID        string      `json:"id"`
	Entity    string      `json:"entity"`
	PaymentID string      `json:"payment_id"`
	Amount    int64       `json:"amount"`
	Currency  string      `json:"currency"`
	Status    string      `json:"status"`
	Notes     interface{} `json:"notes"`
	CreatedAt int64       `json:"created_at"`
}

func (r Refund) Note(key string) string {
	return noteValue(r.Notes, key)
}

func (r Refund) TenantID() string {
	return r.Note("tenant_id")
}

func noteValue(notes interface{}, key string) string {
	m, err := cast.ToStringMapE(notes)
	if err != nil {
		return ""
	}
	return cast.ToString(m[key])
}

type PaymentCollection struct {
	Entity string    `json:"entity"`
	Count  int       `json:"count"`
	Items  []Payment `json:"items"`
}

type RefundCollection struct {
	Entity string   `json:"entity"`
	Count  int      `json:"count"`
	Items  []Refund `json:"items"`
}

type ErrorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}
