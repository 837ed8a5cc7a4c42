package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"busticket/internal/logger"
	"busticket/internal/models"
	"busticket/internal/seats"
	"busticket/internal/utils"
)

type SeatPublisher interface {
	PublishSeatStatus(ctx context.Context, event models.SeatStatusChangeEvent) error
}

// Handler serves the seat hold, product and order endpoints over a LockStore.
type Handler struct {
	Locks     *LockStore
	Catalog   *Catalog
	Publisher SeatPublisher // optional
	JWTSecret string        // empty disables the bearer check
	Logger    *logger.Logger
}

func NewHandler(locks *LockStore, catalog *Catalog, publisher SeatPublisher, jwtSecret string, log *logger.Logger) *Handler {
	return &Handler{Locks: locks, Catalog: catalog, Publisher: publisher, JWTSecret: jwtSecret, Logger: log}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.logRequests)

	// --- Public Routes ---
	r.Get("/public/products", h.ListProducts)
	r.Get("/public/products/{productId}", h.GetProduct)

	// --- Protected Routes ---
	r.Group(func(r chi.Router) {
		if h.JWTSecret != "" {
			r.Use(RequireBearer(h.JWTSecret))
		}
		r.Route("/seat-holds", func(r chi.Router) {
			r.Post("/hold", h.Hold)
			r.Post("/extend", h.Extend)
			r.Post("/release", h.Release)
		})
		r.Post("/orders", h.PlaceOrder)
	})
	return r
}

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products := h.Catalog.Products()
	for i := range products {
		taken, err := h.Locks.Taken(r.Context(), products[i].ID)
		if err != nil {
			h.Logger.Error("API", fmt.Sprintf("ListProducts: %v", err))
			writeJSON(w, http.StatusInternalServerError, models.HoldResponse{Message: "inventory unavailable"})
			return
		}
		products[i].TakenSeats = taken
	}
	writeJSON(w, http.StatusOK, products)
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")
	product, _, ok := h.Catalog.Get(productID)
	if !ok {
		writeJSON(w, http.StatusNotFound, models.HoldResponse{Message: "product not found"})
		return
	}

	taken, err := h.Locks.Taken(r.Context(), productID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetProduct: %v", err))
		writeJSON(w, http.StatusInternalServerError, models.HoldResponse{Message: "inventory unavailable"})
		return
	}
	product.TakenSeats = taken
	writeJSON(w, http.StatusOK, product)
}

func (h *Handler) Hold(w http.ResponseWriter, r *http.Request) {
	var req models.HoldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.HoldResponse{Message: "invalid request body: " + err.Error()})
		return
	}

	codes, status, msg := h.checkSeats(req.ReservationID, req.ProductID, req.Seats)
	if status != http.StatusOK {
		writeJSON(w, status, models.HoldResponse{Message: msg})
		return
	}

	conflicts, err := h.Locks.Hold(r.Context(), req.ReservationID, req.ProductID, codes)
	switch {
	case errors.Is(err, ErrSeatConflict):
		h.Logger.LogHold("CONFLICT", req.ReservationID, fmt.Sprintf("seats %v unavailable", conflicts))
		writeJSON(w, http.StatusConflict, models.HoldResponse{
			Message:   "some seats are no longer available",
			Conflicts: conflicts,
		})
		return
	case err != nil:
		h.Logger.Error("API", fmt.Sprintf("Hold: %v", err))
		writeJSON(w, http.StatusInternalServerError, models.HoldResponse{Message: "could not hold seats"})
		return
	}

	h.Logger.LogHold("HELD", req.ReservationID, strings.Join(codes, ","))
	h.publish(r.Context(), req.ProductID, codes, models.SeatStatusHeld)
	writeJSON(w, http.StatusOK, models.HoldResponse{Status: true})
}

func (h *Handler) Extend(w http.ResponseWriter, r *http.Request) {
	var ref models.ReservationRef
	if err := json.NewDecoder(r.Body).Decode(&ref); err != nil || ref.ReservationID == "" {
		writeJSON(w, http.StatusBadRequest, models.HoldResponse{Message: "reservation_id is required"})
		return
	}

	err := h.Locks.Extend(r.Context(), ref.ReservationID)
	switch {
	case errors.Is(err, ErrHoldNotFound):
		writeJSON(w, http.StatusGone, models.HoldResponse{Message: err.Error()})
		return
	case err != nil:
		h.Logger.Error("API", fmt.Sprintf("Extend: %v", err))
		writeJSON(w, http.StatusInternalServerError, models.HoldResponse{Message: "could not extend hold"})
		return
	}
	h.Logger.LogHold("EXTENDED", ref.ReservationID, "ttl "+h.Locks.TTL.String())
	writeJSON(w, http.StatusOK, models.HoldResponse{Status: true})
}

func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	var ref models.ReservationRef
	if err := json.NewDecoder(r.Body).Decode(&ref); err != nil || ref.ReservationID == "" {
		writeJSON(w, http.StatusBadRequest, models.HoldResponse{Message: "reservation_id is required"})
		return
	}

	productID, released, err := h.Locks.Release(r.Context(), ref.ReservationID)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("Release: %v", err))
		writeJSON(w, http.StatusInternalServerError, models.HoldResponse{Message: "could not release hold"})
		return
	}
	if len(released) > 0 {
		h.Logger.LogHold("RELEASED", ref.ReservationID, strings.Join(released, ","))
		h.publish(r.Context(), productID, released, models.SeatStatusAvailable)
	}
	writeJSON(w, http.StatusOK, models.HoldResponse{Status: true})
}

func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req models.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.OrderResponse{Message: "invalid request body: " + err.Error()})
		return
	}

	codes, status, msg := h.checkSeats(req.ReservationID, req.ProductID, req.Seats)
	if status == http.StatusOK && req.Quantity != len(codes) {
		status, msg = http.StatusBadRequest, "quantity does not match the seats"
	}
	if status != http.StatusOK {
		writeJSON(w, status, models.OrderResponse{Message: msg})
		return
	}

	conflicts, err := h.Locks.Sell(r.Context(), req.ReservationID, req.ProductID, codes)
	switch {
	case errors.Is(err, ErrHoldNotFound):
		h.Logger.LogOrder("REJECTED", req.ReservationID, "hold expired")
		writeJSON(w, http.StatusGone, models.OrderResponse{
			Message: "Your seat reservation has expired.",
			Code:    models.OrderCodeHoldExpired,
		})
		return
	case errors.Is(err, ErrSeatConflict):
		h.Logger.LogOrder("REJECTED", req.ReservationID, fmt.Sprintf("seats %v not held", conflicts))
		writeJSON(w, http.StatusConflict, models.OrderResponse{
			Message: fmt.Sprintf("Seats %s are not reserved for you.", strings.Join(conflicts, ", ")),
			Code:    models.OrderCodeHoldConflict,
		})
		return
	case err != nil:
		h.Logger.Error("API", fmt.Sprintf("PlaceOrder: %v", err))
		writeJSON(w, http.StatusInternalServerError, models.OrderResponse{Message: "could not complete the order"})
		return
	}

	pnr := utils.GeneratePNR()
	h.Logger.LogOrder("SOLD", req.ReservationID, fmt.Sprintf("pnr %s seats %s", pnr, strings.Join(codes, ",")))
	h.publish(r.Context(), req.ProductID, codes, models.SeatStatusSold)
	writeJSON(w, http.StatusOK, models.OrderResponse{Status: true, PNR: pnr})
}

// checkSeats validates a reservation, product and seat list and returns the
// normalized seat codes.
func (h *Handler) checkSeats(reservationID, productID string, codes []string) ([]string, int, string) {
	if reservationID == "" {
		return nil, http.StatusBadRequest, "reservation_id is required"
	}
	_, layout, ok := h.Catalog.Get(productID)
	if !ok {
		return nil, http.StatusNotFound, "product not found"
	}
	if len(codes) == 0 {
		return nil, http.StatusBadRequest, "at least one seat is required"
	}

	out := make([]string, 0, len(codes))
	seen := make(map[string]bool, len(codes))
	for _, c := range codes {
		code := seats.Normalize(c)
		if !layout.Contains(code) {
			return nil, http.StatusBadRequest, fmt.Sprintf("unknown seat %q", c)
		}
		if seen[code] {
			return nil, http.StatusBadRequest, fmt.Sprintf("seat %s listed twice", code)
		}
		seen[code] = true
		out = append(out, code)
	}
	return out, http.StatusOK, ""
}

func (h *Handler) publish(ctx context.Context, productID string, codes []string, status models.SeatStatus) {
	if h.Publisher == nil || productID == "" {
		return
	}
	// Errors are logged by the publisher.
	_ = h.Publisher.PublishSeatStatus(ctx, models.NewSeatStatusChangeEvent(productID, codes, status))
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		h.Logger.LogAPI(r.Method, r.URL.Path, fmt.Sprint(sw.status), time.Since(start).String())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
