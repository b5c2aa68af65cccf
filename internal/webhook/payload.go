package webhook

import (
	"time"

	errors "github.com/frahmantamala/payment-reconciliation/internal"
	"github.com/frahmantamala/payment-reconciliation/internal/core/common/validation"
	"github.com/frahmantamala/payment-reconciliation/internal/payment"
)

const (
	DefaultMaxEventAge  = 5 * time.Minute
	DefaultMaxClockSkew = time.Minute
)

type PayloadValidator struct {
	maxAge  time.Duration
	maxSkew time.Duration
	now     func() time.Time
}

func NewPayloadValidator(maxAge, maxSkew time.Duration, now func() time.Time) *PayloadValidator {
	if maxAge <= 0 {
		maxAge = DefaultMaxEventAge
	}
	if maxSkew <= 0 {
		maxSkew = DefaultMaxClockSkew
	}
	if now == nil {
		now = time.Now
	}
	return &PayloadValidator{maxAge: maxAge, maxSkew: maxSkew, now: now}
}

// Validate returns every problem found with evt; an empty result means valid.
func (v *PayloadValidator) Validate(evt *payment.Event) []string {
	validator := validation.NewValidator()

	validator.Field("entity", evt.Entity).Required()
	validator.Field("account_id", evt.AccountID).Required()
	validator.Field("event", string(evt.Type)).
		Required().
		OneOf(payment.KnownEventTypeNames(), errors.ErrCodeInvalidPayload)
	validator.Field("payload", evt.Payload).
		Custom(func(interface{}) *errors.AppError {
			if evt.Payload == nil {
				return errors.NewValidationFieldError("payload", "payload is required", errors.ErrCodeValidationFailed)
			}
			return nil
		})
	validator.Field("created_at", evt.CreatedTime()).
		Required().
		Within(v.now(), v.maxAge, v.maxSkew, errors.ErrCodeReplayWindow)

	if evt.Payload != nil && evt.Type.Valid() {
		v.entityRules(validator, evt)
	}

	return validation.Messages(validator.Validate())
}

func (v *PayloadValidator) entityRules(validator *validation.ValidationBuilder, evt *payment.Event) {
	entity := evt.Type.RequiredEntity()
	field := "payload." + entity

	if !evt.HasEntity(entity) {
		validator.Field(field, nil).Required()
		return
	}

	switch entity {
	case payment.EntityPayment:
		p, err := evt.Payment()
		if err != nil {
			validator.Field(field, nil).Custom(malformed(field))
			return
		}
		validator.Field(field+".id", p.ID).Required()
		validator.Field(field+".amount", p.Amount).MinInt(1, errors.ErrCodeInvalidPayload)
		validator.Field(field+".currency", p.Currency).Required()
	case payment.EntityRefund:
		r, err := evt.Refund()
		if err != nil {
			validator.Field(field, nil).Custom(malformed(field))
			return
		}
		validator.Field(field+".id", r.ID).Required()
		validator.Field(field+".payment_id", r.PaymentID).Required()
		validator.Field(field+".amount", r.Amount).MinInt(1, errors.ErrCodeInvalidPayload)
	}
}

func malformed(field string) func(interface{}) *errors.AppError {
	return func(interface{}) *errors.AppError {
		return errors.NewValidationFieldError(field, field+" is malformed", errors.ErrCodeInvalidPayload)
	}
}
