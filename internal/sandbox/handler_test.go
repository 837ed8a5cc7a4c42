package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"busticket/internal/logger"
	"busticket/internal/models"
)

const testCatalog = `
products:
  - id: ist-ank-0930
    company: Anadolu Lines
    from: Istanbul
    to: Ankara
    departure_time: 2030-01-02T09:30:00Z
    price: 450.5
    layout: "2+1"
    rows: 10
    taken_seats: ["1a", "1B"]
  - id: izm-ant-2200
    from: Izmir
    to: Antalya
    departure_time: 2030-01-02T22:00:00Z
    price: 390
    layout: "2+2"
    rows: 12
`

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.SeatStatusChangeEvent
}

func (p *recordingPublisher) PublishSeatStatus(ctx context.Context, event models.SeatStatusChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Events() []models.SeatStatusChangeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.SeatStatusChangeEvent(nil), p.events...)
}

func newTestHandler(t *testing.T, secret string) (*httptest.Server, *recordingPublisher) {
	t.Helper()
	client, _ := setupTestRedis(t)

	catalog, err := ParseCatalog([]byte(testCatalog))
	require.NoError(t, err)

	locks := NewLockStore(client, time.Minute)
	for _, p := range catalog.Products() {
		require.NoError(t, locks.MarkSold(context.Background(), p.ID, p.TakenSeats...))
	}

	pub := &recordingPublisher{}
	h := NewHandler(locks, catalog, pub, secret, logger.Nop())
	server := httptest.NewServer(h.Routes())
	t.Cleanup(server.Close)
	return server, pub
}

func postJSON(t *testing.T, url, token string, body interface{}, out interface{}) int {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func getProduct(t *testing.T, server *httptest.Server, id string) models.Product {
	t.Helper()
	resp, err := http.Get(server.URL + "/public/products/" + id)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var p models.Product
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	return p
}

func TestParseCatalog(t *testing.T) {
	catalog, err := ParseCatalog([]byte(testCatalog))
	require.NoError(t, err)

	products := catalog.Products()
	require.Len(t, products, 2)
	assert.Equal(t, "ist-ank-0930", products[0].ID)

	p, layout, ok := catalog.Get("ist-ank-0930")
	require.True(t, ok)
	assert.Equal(t, []string{"1A", "1B"}, p.TakenSeats)
	assert.Equal(t, 30, layout.Capacity())
	assert.Equal(t, 450.5, p.Price)

	_, _, ok = catalog.Get("missing")
	assert.False(t, ok)
}

func TestParseCatalog_RejectsBadEntries(t *testing.T) {
	_, err := ParseCatalog([]byte("products:\n  - id: x\n    layout: \"3+3\"\n    rows: 4\n"))
	assert.Error(t, err)

	_, err = ParseCatalog([]byte("products:\n  - id: x\n    layout: \"2+1\"\n    rows: 2\n    taken_seats: [\"9A\"]\n"))
	assert.Error(t, err)

	_, err = ParseCatalog([]byte("products:\n  - layout: \"2+1\"\n    rows: 2\n"))
	assert.Error(t, err)
}

func TestGetProduct_ReportsSoldAndHeldSeats(t *testing.T) {
	server, _ := newTestHandler(t, "")

	status := postJSON(t, server.URL+"/seat-holds/hold", "", models.HoldRequest{
		ReservationID: "res-a",
		ProductID:     "ist-ank-0930",
		Seats:         []string{"3c"},
	}, nil)
	require.Equal(t, http.StatusOK, status)

	p := getProduct(t, server, "ist-ank-0930")
	assert.Equal(t, []string{"1A", "1B", "3C"}, p.TakenSeats)
	assert.Equal(t, "Istanbul", p.From)

	resp, err := http.Get(server.URL + "/public/products/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListProducts(t *testing.T) {
	server, _ := newTestHandler(t, "")

	resp, err := http.Get(server.URL + "/public/products")
	require.NoError(t, err)
	defer resp.Body.Close()

	var products []models.Product
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&products))
	require.Len(t, products, 2)
	assert.Equal(t, []string{"1A", "1B"}, products[0].TakenSeats)
	assert.Empty(t, products[1].TakenSeats)
}

func TestHold_ConflictResponse(t *testing.T) {
	server, pub := newTestHandler(t, "")

	var body models.HoldResponse
	status := postJSON(t, server.URL+"/seat-holds/hold", "", models.HoldRequest{
		ReservationID: "res-a",
		ProductID:     "ist-ank-0930",
		Seats:         []string{"1B", "2A"},
	}, &body)

	assert.Equal(t, http.StatusConflict, status)
	assert.False(t, body.Status)
	assert.Equal(t, []string{"1B"}, body.Conflicts)
	assert.Empty(t, pub.Events())
}

func TestHold_ZeroPaddedSeatLocksSameSeat(t *testing.T) {
	server, _ := newTestHandler(t, "")

	var body models.HoldResponse
	status := postJSON(t, server.URL+"/seat-holds/hold", "", models.HoldRequest{
		ReservationID: "res-a",
		ProductID:     "ist-ank-0930",
		Seats:         []string{"01A"},
	}, &body)
	assert.Equal(t, http.StatusConflict, status, "1A is sold")
	assert.Equal(t, []string{"1A"}, body.Conflicts)

	status = postJSON(t, server.URL+"/seat-holds/hold", "", models.HoldRequest{
		ReservationID: "res-a",
		ProductID:     "ist-ank-0930",
		Seats:         []string{"3A"},
	}, nil)
	require.Equal(t, http.StatusOK, status)

	body = models.HoldResponse{}
	status = postJSON(t, server.URL+"/seat-holds/hold", "", models.HoldRequest{
		ReservationID: "res-b",
		ProductID:     "ist-ank-0930",
		Seats:         []string{"03a"},
	}, &body)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, []string{"3A"}, body.Conflicts)
}

func TestHold_RejectsBadSeats(t *testing.T) {
	server, _ := newTestHandler(t, "")

	tests := []struct {
		name   string
		req    models.HoldRequest
		status int
	}{
		{"missing reservation", models.HoldRequest{ProductID: "ist-ank-0930", Seats: []string{"2A"}}, http.StatusBadRequest},
		{"unknown product", models.HoldRequest{ReservationID: "r", ProductID: "nope", Seats: []string{"2A"}}, http.StatusNotFound},
		{"no seats", models.HoldRequest{ReservationID: "r", ProductID: "ist-ank-0930"}, http.StatusBadRequest},
		{"seat outside layout", models.HoldRequest{ReservationID: "r", ProductID: "ist-ank-0930", Seats: []string{"2D"}}, http.StatusBadRequest},
		{"duplicate seat", models.HoldRequest{ReservationID: "r", ProductID: "ist-ank-0930", Seats: []string{"2A", "2a"}}, http.StatusBadRequest},
		{"duplicate zero-padded seat", models.HoldRequest{ReservationID: "r", ProductID: "ist-ank-0930", Seats: []string{"2A", "02A"}}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, postJSON(t, server.URL+"/seat-holds/hold", "", tt.req, nil))
		})
	}
}

func TestHoldExtendRelease(t *testing.T) {
	server, pub := newTestHandler(t, "")
	ref := models.ReservationRef{ReservationID: "res-a"}

	status := postJSON(t, server.URL+"/seat-holds/extend", "", ref, nil)
	assert.Equal(t, http.StatusGone, status, "nothing to extend yet")

	status = postJSON(t, server.URL+"/seat-holds/hold", "", models.HoldRequest{
		ReservationID: "res-a",
		ProductID:     "izm-ant-2200",
		Seats:         []string{"4C", "4D"},
	}, nil)
	require.Equal(t, http.StatusOK, status)

	assert.Equal(t, http.StatusOK, postJSON(t, server.URL+"/seat-holds/extend", "", ref, nil))
	assert.Equal(t, http.StatusOK, postJSON(t, server.URL+"/seat-holds/release", "", ref, nil))
	assert.Equal(t, http.StatusOK, postJSON(t, server.URL+"/seat-holds/release", "", ref, nil))

	assert.Empty(t, getProduct(t, server, "izm-ant-2200").TakenSeats)

	events := pub.Events()
	require.Len(t, events, 2, "one held event and one release event")
	assert.Equal(t, models.SeatStatusHeld, events[0].Status)
	assert.Equal(t, models.SeatStatusAvailable, events[1].Status)
	assert.ElementsMatch(t, []string{"4C", "4D"}, events[1].Seats)
	assert.Equal(t, "izm-ant-2200", events[1].ProductID)
}

func TestPlaceOrder(t *testing.T) {
	server, pub := newTestHandler(t, "")

	require.Equal(t, http.StatusOK, postJSON(t, server.URL+"/seat-holds/hold", "", models.HoldRequest{
		ReservationID: "res-a",
		ProductID:     "ist-ank-0930",
		Seats:         []string{"2A", "2B"},
	}, nil))

	order := models.OrderRequest{
		ReservationID: "res-a",
		ProductID:     "ist-ank-0930",
		Quantity:      2,
		Seats:         []string{"2A", "2C"},
	}

	var resp models.OrderResponse
	status := postJSON(t, server.URL+"/orders", "", order, &resp)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, models.OrderCodeHoldConflict, resp.Code)

	order.Quantity = 3
	order.Seats = []string{"2A", "2B"}
	assert.Equal(t, http.StatusBadRequest, postJSON(t, server.URL+"/orders", "", order, nil))

	order.Quantity = 2
	resp = models.OrderResponse{}
	status = postJSON(t, server.URL+"/orders", "", order, &resp)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, resp.Status)
	assert.Len(t, resp.PNR, 6)

	assert.Equal(t, []string{"1A", "1B", "2A", "2B"}, getProduct(t, server, "ist-ank-0930").TakenSeats)
	events := pub.Events()
	assert.Equal(t, models.SeatStatusSold, events[len(events)-1].Status)

	resp = models.OrderResponse{}
	status = postJSON(t, server.URL+"/orders", "", order, &resp)
	assert.Equal(t, http.StatusGone, status, "the hold was consumed by the sale")
	assert.Equal(t, models.OrderCodeHoldExpired, resp.Code)
}

func TestRequireBearer(t *testing.T) {
	const secret = "sandbox-secret"
	server, _ := newTestHandler(t, secret)

	hold := models.HoldRequest{ReservationID: "res-a", ProductID: "ist-ank-0930", Seats: []string{"5A"}}

	assert.Equal(t, http.StatusUnauthorized, postJSON(t, server.URL+"/seat-holds/hold", "", hold, nil))

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "mallory"})
	bad, err := forged.SignedString([]byte("other-secret"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, postJSON(t, server.URL+"/seat-holds/hold", bad, hold, nil))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "client-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	good, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, postJSON(t, server.URL+"/seat-holds/hold", good, hold, nil))

	// Public routes stay open.
	assert.Equal(t, "ist-ank-0930", getProduct(t, server, "ist-ank-0930").ID)
}

func TestSubject(t *testing.T) {
	var seen string
	h := RequireBearer("s")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = Subject(r.Context())
	}))

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "client-7"}).SignedString([]byte("s"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "client-7", seen)
	assert.Empty(t, Subject(context.Background()))
}

func TestHandleExpiredKey(t *testing.T) {
	pub := &recordingPublisher{}
	ctx := context.Background()

	assert.False(t, handleExpiredKey(ctx, "reservation:res-a", pub, logger.Nop()))
	assert.True(t, handleExpiredKey(ctx, seatLockKey("ist-ank-0930", "7B"), pub, logger.Nop()))
	assert.True(t, handleExpiredKey(ctx, seatLockKey("ist-ank-0930", "7C"), nil, logger.Nop()))

	events := pub.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "ist-ank-0930", events[0].ProductID)
	assert.Equal(t, []string{"7B"}, events[0].Seats)
	assert.Equal(t, models.SeatStatusAvailable, events[0].Status)
}
