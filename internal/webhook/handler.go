package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/frahmantamala/payment-reconciliation/internal"
	"github.com/frahmantamala/payment-reconciliation/internal/payment"
	"github.com/frahmantamala/payment-reconciliation/internal/transport"
	"github.com/frahmantamala/payment-reconciliation/pkg/logger"
)

// EventProcessor applies a validated event.
type EventProcessor interface {
	Process(ctx context.Context, evt *payment.Event) (*payment.Result, error)
}

type Options struct {
	SignatureHeader   string
	MaxBodyBytes      int64
	ProcessingTimeout time.Duration
	TrustForwardedFor bool
}

func (o *Options) applyDefaults() {
	if o.SignatureHeader == "" {
		o.SignatureHeader = internal.DefaultSignatureHeader
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = internal.DefaultMaxBodyBytes
	}
	if o.ProcessingTimeout <= 0 {
		o.ProcessingTimeout = internal.DefaultProcessingTimeout
	}
}

// Handler is the webhook ingress: it gates each delivery through the rate
// limiter, signature check and payload validation before processing it.
type Handler struct {
	*transport.BaseHandler
	limiter   RateLimiter
	verifier  *Verifier
	validator *PayloadValidator
	processor EventProcessor
	opts      Options
	logger    *slog.Logger
}

func NewHandler(baseHandler *transport.BaseHandler, limiter RateLimiter, verifier *Verifier, validator *PayloadValidator, processor EventProcessor, opts Options, logger *slog.Logger) *Handler {
	opts.applyDefaults()
	return &Handler{
		BaseHandler: baseHandler,
		limiter:     limiter,
		verifier:    verifier,
		validator:   validator,
		processor:   processor,
		opts:        opts,
		logger:      logger,
	}
}

type outcome struct {
	res *payment.Result
	err error
}

func (h *Handler) HandlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.WriteAppError(w, internal.NewMethodNotAllowedError(r.Method))
		return
	}

	if r.ContentLength > h.opts.MaxBodyBytes {
		h.WriteAppError(w, internal.NewBodyTooLargeError(h.opts.MaxBodyBytes))
		return
	}

	ctx := r.Context()
	clientIP := h.clientIP(r)
	lg := logger.From(ctx).With("client_ip", clientIP)

	decision, err := h.limiter.Allow(ctx, clientIP)
	if err != nil {
		// a broken limiter backend must not stop payments from being recorded
		lg.Warn("rate limiter unavailable, allowing request", "error", err)
	} else if !decision.Allowed {
		lg.Warn("webhook rate limited", "retry_after", decision.RetryAfterSeconds())
		h.WriteAppError(w, internal.NewRateLimitedError(decision.RetryAfterSeconds()))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.opts.MaxBodyBytes+1))
	if err != nil {
		h.WriteAppError(w, internal.NewValidationError("unable to read request body", internal.ErrCodeInvalidBody))
		return
	}
	if int64(len(body)) > h.opts.MaxBodyBytes {
		h.WriteAppError(w, internal.NewBodyTooLargeError(h.opts.MaxBodyBytes))
		return
	}

	signature := strings.TrimSpace(r.Header.Get(h.opts.SignatureHeader))
	if signature == "" {
		lg.Warn("webhook signature header missing")
		h.WriteAppError(w, internal.ErrSignatureMissing)
		return
	}
	if !h.verifier.Verify(ctx, body, signature) {
		lg.Warn("webhook signature rejected")
		h.WriteAppError(w, internal.ErrSignatureInvalid)
		return
	}

	var evt payment.Event
	decoder := json.NewDecoder(bytes.NewReader(body))
	if err := decoder.Decode(&evt); err != nil {
		h.WriteAppError(w, internal.NewValidationError("request body is not valid JSON", internal.ErrCodeInvalidJSON))
		return
	}

	if problems := h.validator.Validate(&evt); len(problems) > 0 {
		lg.Warn("webhook payload rejected", "event", evt.Type, "problems", problems)
		details := internal.ValidationErrors{Errors: make([]internal.ValidationError, len(problems))}
		for i, p := range problems {
			details.Errors[i] = internal.ValidationError{Message: p, Code: string(internal.ErrCodeInvalidPayload)}
		}
		h.WriteAppError(w, internal.NewValidationError("invalid webhook payload", internal.ErrCodeInvalidPayload).WithDetails(details))
		return
	}

	lg = lg.With("event", evt.Type)
	res, err := h.process(logger.With(ctx, "event", evt.Type), &evt)
	if err != nil {
		if appErr, ok := internal.IsAppError(err); ok {
			h.WriteAppError(w, appErr)
			return
		}
		lg.Error("webhook processing failed", "error", err)
		h.WriteAppError(w, &internal.AppError{
			Type:       internal.ErrorTypeInternal,
			Code:       internal.ErrCodeProcessingFailed,
			Message:    "failed to process webhook event",
			StatusCode: http.StatusInternalServerError,
			Cause:      err,
		})
		return
	}

	h.WriteJSON(w, http.StatusOK, newAck(res))
}

// process races the processor against the timeout. The processor keeps the
// deadline on its context, so its transaction is abandoned when time runs out
// and a redelivery can apply the event again.
func (h *Handler) process(ctx context.Context, evt *payment.Event) (*payment.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, h.opts.ProcessingTimeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("processor panic: %v", rec)}
			}
		}()
		res, err := h.processor.Process(ctx, evt)
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		return out.res, out.err
	case <-ctx.Done():
		h.logger.Warn("webhook processing timed out", "event", evt.Type, "timeout", h.opts.ProcessingTimeout)
		return nil, internal.NewTimeoutError("webhook processing timed out")
	}
}

func (h *Handler) clientIP(r *http.Request) string {
	if h.opts.TrustForwardedFor {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
