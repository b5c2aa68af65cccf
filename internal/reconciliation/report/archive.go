package report

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/google/uuid"

	reconmodel "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/reconciliation"
	"github.com/frahmantamala/payment-reconciliation/internal/core/events"
)

// Uploader stores an object and returns its location.
type Uploader interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
}

type RecordGetter interface {
	Get(ctx context.Context, id int64) (*reconmodel.Record, error)
}

// Archiver uploads the report of every completed run.
type Archiver struct {
	records  RecordGetter
	uploader Uploader
	prefix   string
	logger   *slog.Logger
}

func NewArchiver(records RecordGetter, uploader Uploader, prefix string, logger *slog.Logger) *Archiver {
	return &Archiver{
		records:  records,
		uploader: uploader,
		prefix:   prefix,
		logger:   logger,
	}
}

// ObjectKey places reports under prefix/tenant/date so one day's runs list together.
func ObjectKey(prefix string, rec *reconmodel.Record) string {
	name := fmt.Sprintf("reconciliation-%d-%s.xlsx", rec.ID, uuid.NewString())
	return path.Join(prefix, rec.TenantID, rec.PeriodStart.UTC().Format("2006-01-02"), name)
}

func (a *Archiver) Archive(ctx context.Context, id int64) (string, error) {
	rec, err := a.records.Get(ctx, id)
	if err != nil {
		return "", fmt.Errorf("load reconciliation %d: %w", id, err)
	}

	var buf bytes.Buffer
	if err := (Writer{}).Write(&buf, rec); err != nil {
		return "", err
	}

	location, err := a.uploader.Upload(ctx, ObjectKey(a.prefix, rec), &buf, ContentType)
	if err != nil {
		return "", fmt.Errorf("upload report for reconciliation %d: %w", id, err)
	}

	a.logger.Info("reconciliation report archived",
		"reconciliation_id", id,
		"tenant_id", rec.TenantID,
		"location", location)
	return location, nil
}

func (a *Archiver) HandleReconciliationCompleted(ctx context.Context, event events.Event) error {
	completed, ok := event.(*events.ReconciliationCompletedEvent)
	if !ok {
		a.logger.Error("invalid event type for reconciliation completed handler", "event_type", event.EventType())
		return fmt.Errorf("expected ReconciliationCompletedEvent, got %T", event)
	}

	_, err := a.Archive(ctx, completed.ReconciliationID)
	return err
}

func (a *Archiver) RegisterEventHandlers(eventBus *events.EventBus) {
	eventBus.Subscribe(events.EventTypeReconciliationCompleted, a.HandleReconciliationCompleted)

	a.logger.Info("report archive handlers registered",
		"handlers", []string{events.EventTypeReconciliationCompleted})
}
