package otagw

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"hotel_channel/internal/adapters/observability"
	"hotel_channel/internal/domain"
)

const (
	DefaultTimeout = 30 * time.Second
	maxResponse    = 8 << 20
)

// Client sends one HTTP POST per operation and writes an audit entry for every call.
// It never retries: the queue processor and the reconciler own retry policy.
type Client struct {
	hc   *http.Client
	rl   *rate.Limiter
	logs domain.ChannelLogStore
	now  func() time.Time
}

func New(logs domain.ChannelLogStore, rps int, timeout time.Duration) *Client {
	if rps <= 0 {
		rps = 5
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		hc:   &http.Client{Timeout: timeout},
		rl:   rate.NewLimiter(rate.Limit(rps), rps),
		logs: logs,
		now:  time.Now,
	}
}

func (c *Client) FetchProducts(ctx context.Context, ep domain.Endpoint) ([]domain.Product, error) {
	res, err := c.call(ctx, ep, OpProductList, nil)
	return res.Products, err
}

func (c *Client) FetchReservations(ctx context.Context, ep domain.Endpoint, withPrices bool) ([]domain.ExternalReservation, error) {
	res, err := c.call(ctx, ep, OpReservationList, ReservationListOptions{IncludePriceBreakdown: withPrices})
	if err != nil {
		return nil, err
	}
	for _, is := range res.ReservationIssues {
		log.Warn().
			Int64("connection_id", ep.ConnectionID).
			Str("reservation", is.Reservation).
			Str("field", is.Field).
			Str("value", is.Value).
			Msg("reservation field skipped")
	}
	return res.Reservations, nil
}

func (c *Client) ConfirmReservations(ctx context.Context, ep domain.Endpoint, items []domain.ConfirmItem) error {
	_, err := c.call(ctx, ep, OpReservationConfirm, items)
	return err
}

func (c *Client) UpdateInventory(ctx context.Context, ep domain.Endpoint, u domain.InventoryUpdate) (domain.InventoryResult, error) {
	res, err := c.call(ctx, ep, OpInventory, u)
	return res.Inventory, err
}

func (c *Client) FetchOTAs(ctx context.Context, ep domain.Endpoint) ([]domain.OTA, error) {
	res, err := c.call(ctx, ep, OpOTAList, nil)
	return res.OTAs, err
}

func (c *Client) FetchOTAProducts(ctx context.Context, ep domain.Endpoint, otaID string) ([]domain.OTAProduct, error) {
	res, err := c.call(ctx, ep, OpOTAProductList, OTAProductQuery{OTAID: otaID})
	return res.OTAProducts, err
}

// exchange is what ends up in the audit log for one call.
type exchange struct {
	op       Operation
	request  []byte
	response []byte
	status   int
	corrID   string
	started  time.Time
}

func (c *Client) call(ctx context.Context, ep domain.Endpoint, op Operation, payload any) (Result, error) {
	ex := exchange{op: op, started: c.now()}

	body, err := BuildRequest(op, ep.Credentials, payload)
	if err != nil {
		c.audit(ctx, ep, ex, err)
		return Result{}, err
	}
	ex.request = body

	if err := c.rl.Wait(ctx); err != nil {
		c.audit(ctx, ep, ex, err)
		return Result{}, err
	}

	ex.response, ex.status, ex.corrID, err = c.post(ctx, ep.Credentials.BaseURL, op, body)
	observability.ObserveExternal("otagw", string(op), ex.status, c.now().Sub(ex.started))
	if err != nil {
		c.audit(ctx, ep, ex, err)
		return Result{}, err
	}

	res, err := ParseResponse(op, ex.response)
	if op == OpInventory && res.Inventory.RQID != "" {
		ex.corrID = res.Inventory.RQID
	}
	if err == nil && op == OpInventory && !res.Inventory.Success {
		c.audit(ctx, ep, ex, fmt.Errorf("%d item(s) rejected", len(res.Inventory.Rejections)))
		return res, nil
	}
	c.audit(ctx, ep, ex, err)
	return res, err
}

func (c *Client) post(ctx context.Context, baseURL string, op Operation, body []byte) ([]byte, int, string, error) {
	if baseURL == "" {
		return nil, 0, "", &TransportError{Operation: op, Err: errors.New("empty base url")}
	}
	url := strings.TrimRight(baseURL, "/") + "/" + string(op)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, "", &TransportError{Operation: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/xml")
	req.Header.Set("Accept", "application/xml")
	req.Header.Set("User-Agent", "hotel-channel/1.0")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, 0, "", &TransportError{Operation: op, Err: err}
	}
	defer resp.Body.Close()

	corrID := resp.Header.Get("X-Request-Id")
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return nil, resp.StatusCode, corrID, &TransportError{Operation: op, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return b, resp.StatusCode, corrID, &TransportError{
			Operation: op,
			Status:    resp.StatusCode,
			Body:      strings.TrimSpace(domain.Truncate(string(b))),
		}
	}
	return b, resp.StatusCode, corrID, nil
}

var passwordRe = regexp.MustCompile(`(?s)<password>.*?</password>`)

func redact(b []byte) string {
	return passwordRe.ReplaceAllString(string(b), "<password>***</password>")
}

// audit writes the log entry; a failing log store is reported but never
// changes the outcome of the call itself.
func (c *Client) audit(ctx context.Context, ep domain.Endpoint, ex exchange, callErr error) {
	e := domain.ChannelLogEntry{
		ID:           uuid.NewString(),
		ConnectionID: ep.ConnectionID,
		Operation:    string(ex.op),
		Direction:    domain.DirectionOutbound,
		Outcome:      domain.OutcomeSuccess,
		RequestBody:  domain.Truncate(redact(ex.request)),
		ResponseBody: domain.Truncate(string(ex.response)),
		Duration:     c.now().Sub(ex.started),
		CreatedAt:    c.now().UTC(),
	}
	if ex.corrID != "" {
		id := ex.corrID
		e.CorrelationID = &id
	}
	if callErr != nil {
		msg := callErr.Error()
		e.Outcome = domain.OutcomeFailure
		e.Error = &msg
		log.Warn().
			Int64("connection_id", ep.ConnectionID).
			Str("op", string(ex.op)).
			Int("status", ex.status).
			Err(callErr).
			Msg("gateway call failed")
	}
	if c.logs == nil {
		return
	}
	// the caller's ctx may already be done (timeout); the audit row must still land
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.logs.InsertLog(wctx, e); err != nil {
		log.Error().Err(err).Int64("connection_id", ep.ConnectionID).Str("op", string(ex.op)).Msg("channel log write failed")
	}
}
