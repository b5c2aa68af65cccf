package webhook

import "github.com/frahmantamala/payment-reconciliation/internal/payment"

type AckResponse struct {
	Status    string            `json:"status"`
	Event     payment.EventType `json:"event"`
	Reference string            `json:"reference,omitempty"`
	Applied   bool              `json:"applied"`
	Duplicate bool              `json:"duplicate"`
	Ignored   bool              `json:"ignored"`
}

func newAck(res *payment.Result) AckResponse {
	return AckResponse{
		Status:    "ok",
		Event:     res.EventType,
		Reference: res.Reference,
		Applied:   res.Applied,
		Duplicate: res.Duplicate,
		Ignored:   res.Ignored,
	}
}
