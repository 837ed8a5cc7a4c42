package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"busticket/internal/auth"
	"busticket/internal/config"
	"busticket/internal/logger"
	"busticket/internal/models"
)

// Client talks to the ticketing REST API. Configuration and credentials are
// injected; nothing is read from the environment here.
type Client struct {
	baseURL string
	client  *http.Client
	creds   auth.CredentialProvider
	logger  *logger.Logger
}

func NewClient(cfg config.APIConfig, client *http.Client, creds auth.CredentialProvider, log *logger.Logger) *Client {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if creds == nil {
		creds = auth.StaticToken("")
	}
	return &Client{
		baseURL: cfg.BaseURL,
		client:  client,
		creds:   creds,
		logger:  log,
	}
}

// Hold creates or replaces the hold of req.ReservationID with exactly req.Seats.
func (c *Client) Hold(ctx context.Context, req models.HoldRequest) error {
	var body models.HoldResponse
	status, err := c.do(ctx, http.MethodPost, "/seat-holds/hold", req, &body)
	if err != nil {
		return &TransportError{Op: "hold seats", Status: status, Err: err}
	}

	switch {
	case status == http.StatusConflict, status < 300 && !body.Status && len(body.Conflicts) > 0:
		return &ConflictError{Seats: body.Conflicts, Message: body.Message}
	case status >= 300:
		return &TransportError{Op: "hold seats", Status: status, Err: errors.New(messageOr(body.Message, http.StatusText(status)))}
	case !body.Status:
		return &TransportError{Op: "hold seats", Status: status, Err: errors.New(messageOr(body.Message, "hold rejected"))}
	}
	return nil
}

func (c *Client) Extend(ctx context.Context, reservationID string) error {
	return c.reservationCall(ctx, "extend hold", "/seat-holds/extend", reservationID)
}

func (c *Client) Release(ctx context.Context, reservationID string) error {
	return c.reservationCall(ctx, "release hold", "/seat-holds/release", reservationID)
}

func (c *Client) reservationCall(ctx context.Context, op, path, reservationID string) error {
	var body models.HoldResponse
	status, err := c.do(ctx, http.MethodPost, path, models.ReservationRef{ReservationID: reservationID}, &body)
	if err != nil {
		return &TransportError{Op: op, Status: status, Err: err}
	}
	if status >= 300 {
		return &TransportError{Op: op, Status: status, Err: errors.New(messageOr(body.Message, http.StatusText(status)))}
	}
	return nil
}

func (c *Client) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	var product models.Product
	status, err := c.do(ctx, http.MethodGet, "/public/products/"+url.PathEscape(productID), nil, &product)
	if err != nil {
		return nil, &TransportError{Op: "fetch product", Status: status, Err: err}
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	if status >= 300 {
		return nil, &TransportError{Op: "fetch product", Status: status, Err: errors.New(http.StatusText(status))}
	}
	return &product, nil
}

// PlaceOrder submits a purchase. A rejected purchase is not an error: the response
// carries the server's verdict and message. Only transport failures return err.
func (c *Client) PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResponse, error) {
	var body models.OrderResponse
	status, err := c.do(ctx, http.MethodPost, "/orders", req, &body)
	if err != nil {
		return nil, &TransportError{Op: "place order", Status: status, Err: err}
	}
	body.HTTPStatus = status
	if status >= 500 && body.Message == "" {
		return nil, &TransportError{Op: "place order", Status: status, Err: errors.New(http.StatusText(status))}
	}
	if status >= 300 {
		body.Status = false
	}
	return &body, nil
}

// do sends one JSON request and decodes the JSON response into out. Decoding errors
// are ignored for non-2xx responses whose body is not JSON.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) (int, error) {
	start := time.Now()

	var reqBody io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.creds.Token(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to obtain API token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("API", fmt.Sprintf("%s %s failed: %v", method, path, err))
		return 0, err
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.logger.Error("API", fmt.Sprintf("Failed to close response body: %v", err))
		}
	}(resp.Body)

	c.logger.LogAPI(method, path, resp.Status, time.Since(start).String())

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil && resp.StatusCode < 300 {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func messageOr(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}
