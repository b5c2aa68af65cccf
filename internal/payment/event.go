package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/paymentgateway"
)

type EventType string

const (
	EventPaymentAuthorized EventType = "payment.authorized"
	EventPaymentCaptured   EventType = "payment.captured"
	EventPaymentFailed     EventType = "payment.failed"
	EventRefundCreated     EventType = "refund.created"
	EventRefundProcessed   EventType = "refund.processed"
	EventRefundFailed      EventType = "refund.failed"
	EventOrderPaid         EventType = "order.paid"
)

// Entity names inside the webhook payload object.
const (
	EntityPayment = "payment"
	EntityRefund  = "refund"
	EntityOrder   = "order"
)

var knownEventTypes = []EventType{
	EventPaymentAuthorized,
	EventPaymentCaptured,
	EventPaymentFailed,
	EventRefundCreated,
	EventRefundProcessed,
	EventRefundFailed,
	EventOrderPaid,
}

func KnownEventTypes() []EventType {
	out := make([]EventType, len(knownEventTypes))
	copy(out, knownEventTypes)
	return out
}

func KnownEventTypeNames() []string {
	out := make([]string, len(knownEventTypes))
	for i, t := range knownEventTypes {
		out[i] = string(t)
	}
	return out
}

func (t EventType) Valid() bool {
	for _, k := range knownEventTypes {
		if t == k {
			return true
		}
	}
	return false
}

// RequiredEntity names the payload entity an event of this type must carry.
func (t EventType) RequiredEntity() string {
	switch t {
	case EventPaymentAuthorized, EventPaymentCaptured, EventPaymentFailed:
		return EntityPayment
	case EventRefundCreated, EventRefundProcessed, EventRefundFailed:
		return EntityRefund
	case EventOrderPaid:
		return EntityOrder
	}
	return ""
}

type EntityEnvelope struct {
	Entity json.RawMessage `json:"entity"`
}

func (e EntityEnvelope) Present() bool {
	return len(e.Entity) > 0 && string(e.Entity) != "null"
}

// Event is one webhook delivery as sent by the gateway.
type Event struct {
	Entity    string                    `json:"entity"`
	AccountID string                    `json:"account_id"`
	Type      EventType                 `json:"event"`
	Contains  []string                  `json:"contains"`
	Payload   map[string]EntityEnvelope `json:"payload"`
	CreatedAt int64                     `json:"created_at"`
}

var ErrEntityMissing = errors.New("payload entity missing")

func (e *Event) CreatedTime() time.Time {
	if e.CreatedAt == 0 {
		return time.Time{}
	}
	return time.Unix(e.CreatedAt, 0).UTC()
}

func (e *Event) HasEntity(name string) bool {
	env, ok := e.Payload[name]
	return ok && env.Present()
}

func (e *Event) Payment() (*paymentgateway.Payment, error) {
	env, ok := e.Payload[EntityPayment]
	if !ok || !env.Present() {
		return nil, fmt.Errorf("%s: %w", EntityPayment, ErrEntityMissing)
	}
	var p paymentgateway.Payment
	if err := json.Unmarshal(env.Entity, &p); err != nil {
		return nil, fmt.Errorf("decode payment entity: %w", err)
	}
	p.Raw = env.Entity
	return &p, nil
}

func (e *Event) Refund() (*paymentgateway.Refund, error) {
	env, ok := e.Payload[EntityRefund]
	if !ok || !env.Present() {
		return nil, fmt.Errorf("%s: %w", EntityRefund, ErrEntityMissing)
	}
	var r paymentgateway.Refund
	if err := json.Unmarshal(env.Entity, &r); err != nil {
		return nil, fmt.Errorf("decode refund entity: %w", err)
	}
	return &r, nil
}
