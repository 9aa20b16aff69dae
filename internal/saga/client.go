package saga

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"seatreserve/internal/seats"
	"seatreserve/pkg/errs"
	"seatreserve/pkg/logger"
)

// InventoryClient is the remote seat inventory as seen from the ledger process.
// It satisfies reservations.Inventory, so the ledger runs unchanged over it.
type InventoryClient interface {
	AcquireHold(ctx context.Context, req seats.HoldRequest) (*seats.SeatSnapshot, error)
	ReleaseHold(ctx context.Context, seatID, reservationID string) (bool, error)
	CommitHold(ctx context.Context, seatID, reservationID string) (bool, error)
	RevertCommit(ctx context.Context, seatID, reservationID string, restoreUntil *time.Time) (bool, error)
	GetSeats(ctx context.Context, ids []string) ([]seats.Seat, error)
	ReleaseHoldsByOwner(ctx context.Context, scenarioID, reservationID string) (int, error)
}

type HTTPInventoryClient struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *logger.Logger
}

// NewHTTPInventoryClient talks to the /inventory routes of a seat service.
// Every call is bounded by timeout; a timed out call is Unavailable, never success.
func NewHTTPInventoryClient(baseURL, token string, timeout time.Duration, l *logger.Logger) *HTTPInventoryClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPInventoryClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
		logger:  l,
	}
}

// envelope mirrors the standard API response with the payload left raw
type envelope struct {
	Status     string          `json:"status"`
	StatusCode int             `json:"status_code"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
	Errors     json.RawMessage `json:"errors"`
}

type conflictData struct {
	Seats []errs.SeatConflict `json:"seats"`
}

type transitionData struct {
	SeatID  string `json:"seat_id"`
	Applied bool   `json:"applied"`
}

func (c *HTTPInventoryClient) AcquireHold(ctx context.Context, req seats.HoldRequest) (*seats.SeatSnapshot, error) {
	body := map[string]interface{}{
		"scenario_id":    req.ScenarioID,
		"reservation_id": req.ReservationID,
	}
	if req.TTL > 0 {
		body["ttl_seconds"] = int(req.TTL / time.Second)
	}

	var snap seats.SeatSnapshot
	path := "/inventory/seats/" + url.PathEscape(req.SeatID) + "/holds"
	if err := c.do(ctx, http.MethodPost, path, body, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *HTTPInventoryClient) ReleaseHold(ctx context.Context, seatID, reservationID string) (bool, error) {
	var out transitionData
	path := "/inventory/seats/" + url.PathEscape(seatID) + "/holds/" + url.PathEscape(reservationID)
	if err := c.do(ctx, http.MethodDelete, path, nil, &out); err != nil {
		return false, err
	}
	return out.Applied, nil
}

func (c *HTTPInventoryClient) CommitHold(ctx context.Context, seatID, reservationID string) (bool, error) {
	var out transitionData
	path := "/inventory/seats/" + url.PathEscape(seatID) + "/commit"
	if err := c.do(ctx, http.MethodPost, path, map[string]interface{}{"reservation_id": reservationID}, &out); err != nil {
		return false, err
	}
	return out.Applied, nil
}

func (c *HTTPInventoryClient) RevertCommit(ctx context.Context, seatID, reservationID string, restoreUntil *time.Time) (bool, error) {
	body := map[string]interface{}{"reservation_id": reservationID}
	if restoreUntil != nil {
		body["restore_until"] = restoreUntil.UTC()
	}

	var out transitionData
	path := "/inventory/seats/" + url.PathEscape(seatID) + "/revert"
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return false, err
	}
	return out.Applied, nil
}

func (c *HTTPInventoryClient) GetSeats(ctx context.Context, ids []string) ([]seats.Seat, error) {
	if len(ids) == 0 {
		return []seats.Seat{}, nil
	}
	var out []seats.Seat
	if err := c.do(ctx, http.MethodPost, "/inventory/lookup", map[string]interface{}{"seat_ids": ids}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPInventoryClient) ReleaseHoldsByOwner(ctx context.Context, scenarioID, reservationID string) (int, error) {
	var out struct {
		Released int `json:"released"`
	}
	path := "/inventory/scenarios/" + url.PathEscape(scenarioID) + "/holds/" + url.PathEscape(reservationID)
	if err := c.do(ctx, http.MethodDelete, path, nil, &out); err != nil {
		return 0, err
	}
	return out.Released, nil
}

func (c *HTTPInventoryClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Unavailable(err, "inventory service "+method+" "+path)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && !errors.Is(err, io.EOF) {
		if resp.StatusCode >= http.StatusInternalServerError {
			return errs.Unavailable(err, "inventory service returned "+resp.Status)
		}
		return fmt.Errorf("failed to decode inventory response: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || len(env.Data) == 0 {
			return nil
		}
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode inventory payload: %w", err)
		}
		return nil
	}

	return c.remoteError(resp.StatusCode, env)
}

// remoteError rebuilds the typed error the inventory service reported
func (c *HTTPInventoryClient) remoteError(status int, env envelope) error {
	msg := env.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	var detail string
	_ = json.Unmarshal(env.Errors, &detail)
	if detail != "" {
		msg = msg + ": " + detail
	}

	switch {
	case status == http.StatusConflict:
		var data conflictData
		_ = json.Unmarshal(env.Data, &data)
		return errs.Conflict(env.Message, data.Seats...)
	case status == http.StatusNotFound:
		return errs.NotFound("%s", msg)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errs.Forbidden("inventory service rejected credentials: %s", msg)
	case status == http.StatusBadRequest:
		return errs.Validation("%s", msg)
	default:
		return errs.Unavailable(nil, fmt.Sprintf("inventory service returned %d: %s", status, msg))
	}
}
