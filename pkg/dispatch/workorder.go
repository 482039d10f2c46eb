package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// WorkOrderRequest is the payload sent to the execution system for one entry.
type WorkOrderRequest struct {
	EntryID  string    `json:"entryId"`
	PartRef  string    `json:"partRef"`
	Quantity float64   `json:"quantity"`
	DueDate  time.Time `json:"dueDate"`
}

// WorkOrderCreator turns a schedule entry into an externally executable work
// order and returns its id. Implementations may call remote systems; the
// context carries the dispatch deadline.
type WorkOrderCreator interface {
	CreateWorkOrder(ctx context.Context, req WorkOrderRequest) (string, error)
}

// HTTPWorkOrderCreator posts work orders to an execution system over HTTP.
type HTTPWorkOrderCreator struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPWorkOrderCreator creates a creator for the given base URL.
func NewHTTPWorkOrderCreator(baseURL string, logger *slog.Logger) *HTTPWorkOrderCreator {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPWorkOrderCreator{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// CreateWorkOrder implements WorkOrderCreator by POSTing to
// {base}/work-orders and decoding the returned work order id.
func (c *HTTPWorkOrderCreator) CreateWorkOrder(ctx context.Context, req WorkOrderRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encoding work order request: %w", err)
	}

	url := c.baseURL + "/work-orders"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	c.logger.Debug("sending work order request", "url", url, "entry_id", req.EntryID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("connecting to work order system at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		// Try to extract error message from JSON response
		var errResp struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Message != "" {
			return "", fmt.Errorf("work order system error (%d): %s", resp.StatusCode, errResp.Message)
		}
		return "", fmt.Errorf("work order system error (%d): %s", resp.StatusCode, string(respBody))
	}

	var out struct {
		WorkOrderID string `json:"workOrderId"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("decoding work order response: %w", err)
	}
	if out.WorkOrderID == "" {
		return "", errors.New("work order response missing workOrderId")
	}
	return out.WorkOrderID, nil
}
