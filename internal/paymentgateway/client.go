package paymentgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gatewaytypes "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/payment-reconciliation/pkg/logger"
)

const maxPages = 1000

var ErrTooManyPages = errors.New("gateway listing exceeded page limit")

type Config struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Timeout   time.Duration
	PageSize  int
}

// Client reads the gateway's authoritative payment and refund records.
type Client struct {
	baseURL    string
	keyID      string
	keySecret  string
	pageSize   int
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(config Config, logger *slog.Logger) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	pageSize := config.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 100
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		keyID:      config.KeyID,
		keySecret:  config.KeySecret,
		pageSize:   pageSize,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// ListCapturedPayments returns captured payments created in [from, to). When
// tenantID is set only payments tagged with it in their notes are kept.
func (c *Client) ListCapturedPayments(ctx context.Context, tenantID string, from, to time.Time) ([]gatewaytypes.Payment, error) {
	var out []gatewaytypes.Payment
	err := c.paginate(ctx, "/v1/payments", from, to, func(body io.Reader) (int, error) {
		var page gatewaytypes.PaymentCollection
		if err := json.NewDecoder(body).Decode(&page); err != nil {
			return 0, fmt.Errorf("decode payments page: %w", err)
		}
		for _, p := range page.Items {
			if p.Status != gatewaytypes.PaymentStatusCaptured {
				continue
			}
			if tenantID != "" && p.TenantID() != tenantID {
				continue
			}
			out = append(out, p)
		}
		return len(page.Items), nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("gateway payments fetched",
		"tenant_id", tenantID,
		"from", from,
		"to", to,
		"count", len(out))
	return out, nil
}

// ListProcessedRefunds returns refunds processed in [from, to) for tenantID.
func (c *Client) ListProcessedRefunds(ctx context.Context, tenantID string, from, to time.Time) ([]gatewaytypes.Refund, error) {
	var out []gatewaytypes.Refund
	err := c.paginate(ctx, "/v1/refunds", from, to, func(body io.Reader) (int, error) {
		var page gatewaytypes.RefundCollection
		if err := json.NewDecoder(body).Decode(&page); err != nil {
			return 0, fmt.Errorf("decode refunds page: %w", err)
		}
		for _, r := range page.Items {
			if r.Status != gatewaytypes.RefundStatusProcessed {
				continue
			}
			if tenantID != "" && r.TenantID() != tenantID {
				continue
			}
			out = append(out, r)
		}
		return len(page.Items), nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("gateway refunds fetched",
		"tenant_id", tenantID,
		"count", len(out))
	return out, nil
}

// paginate walks count/skip pages until a short page. The gateway's "to" is
// inclusive, so the half-open range ends one second early.
func (c *Client) paginate(ctx context.Context, path string, from, to time.Time, handle func(io.Reader) (int, error)) error {
	for page, skip := 0, 0; ; page++ {
		if page >= maxPages {
			return ErrTooManyPages
		}

		q := url.Values{}
		q.Set("from", strconv.FormatInt(from.Unix(), 10))
		q.Set("to", strconv.FormatInt(to.Add(-time.Second).Unix(), 10))
		q.Set("count", strconv.Itoa(c.pageSize))
		q.Set("skip", strconv.Itoa(skip))

		n, err := c.get(ctx, path+"?"+q.Encode(), handle)
		if err != nil {
			return err
		}
		if n < c.pageSize {
			return nil
		}
		skip += n
	}
}

func (c *Client) get(ctx context.Context, pathAndQuery string, handle func(io.Reader) (int, error)) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathAndQuery, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Accept", "application/json")
	if traceID := logger.TraceID(ctx); traceID != "" {
		req.Header.Set("X-Trace-ID", traceID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr gatewaytypes.ErrorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&apiErr)
		c.logger.Warn("gateway returned error",
			"status_code", resp.StatusCode,
			"code", apiErr.Error.Code,
			"description", apiErr.Error.Description)
		return 0, fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, apiErr.Error.Description)
	}

	return handle(resp.Body)
}
