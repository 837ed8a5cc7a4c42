package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"busticket/internal/hold"
	"busticket/internal/journal"
	"busticket/internal/models"
	"busticket/internal/purchase"
	"busticket/internal/seats"
)

// Session is one purchase attempt: the seat selection, the hold behind it and the
// final submission. All methods are safe for concurrent use. A session must be
// closed on every exit path; Close releases whatever is still held.
type Session struct {
	svc           *Service
	reservationID string
	product       models.Product
	openedAt      time.Time
	layout        seats.Layout

	mu        sync.Mutex
	inventory *seats.Inventory
	selection *seats.Selection
	coord     *hold.Coordinator
	purchased bool
	closed    bool
	lastMsg   string
	closeOnce sync.Once
}

func (s *Session) ReservationID() string {
	return s.reservationID
}

func (s *Session) Product() models.Product {
	return s.product
}

func (s *Session) Layout() seats.Layout {
	return s.layout
}

func (s *Session) HoldState() models.HoldState {
	return s.coord.State()
}

// SalesOpen reports whether the trip can still be bought.
func (s *Session) SalesOpen() bool {
	return s.svc.validator.CheckSalesWindow(s.product.DepartureTime) == nil
}

// ToggleSeat adds or removes a seat and feeds the new selection to the hold.
func (s *Session) ToggleSeat(code string) (seats.ToggleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.purchased {
		return seats.Unknown, ErrSessionClosed
	}

	result := s.selection.Toggle(code)
	if result.Changed() {
		s.coord.Update(s.selection.Seats(), s.selection.Quantity())
	}
	return result, nil
}

// SetQuantity changes how many seats are bought. A shrinking quantity keeps the
// earliest selected seats.
func (s *Session) SetQuantity(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.purchased {
		return ErrSessionClosed
	}

	if _, err := s.selection.SetQuantity(n); err != nil {
		return err
	}
	s.coord.Update(s.selection.Seats(), s.selection.Quantity())
	return nil
}

// Retry re-sends the hold after a transport failure.
func (s *Session) Retry() {
	s.coord.Retry()
}

func (s *Session) Snapshot() models.ReservationSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := models.ReservationSession{
		ReservationID:     s.reservationID,
		ProductID:         s.product.ID,
		RequestedQuantity: s.selection.Quantity(),
		SelectedSeats:     s.selection.Seats(),
		TakenSeats:        s.inventory.Taken(),
		HoldState:         s.coord.State(),
		OpenedAt:          s.openedAt,
	}
	if err := s.coord.LastError(); err != nil {
		snap.LastError = UserMessage(err)
	}
	return snap
}

// RefreshInventory replaces the taken seats with the server's view and drops every
// selected seat someone else took. Seats this session holds or is about to hold are
// never counted against it.
func (s *Session) RefreshInventory(ctx context.Context) error {
	return s.refreshInventory(ctx, true)
}

func (s *Session) refreshInventory(ctx context.Context, keepOwn bool) error {
	product, err := s.svc.api.GetProduct(ctx, s.product.ID)
	if err != nil {
		return fmt.Errorf("failed to refresh product %s: %w", s.product.ID, err)
	}

	s.mu.Lock()
	if s.closed || s.purchased {
		s.mu.Unlock()
		return nil
	}

	taken := product.TakenSeats
	if keepOwn {
		own := make(map[string]struct{})
		for _, c := range s.coord.Held() {
			own[c] = struct{}{}
		}
		if s.coord.State() == models.HoldStatePending {
			for _, c := range s.selection.Seats() {
				own[c] = struct{}{}
			}
		}
		taken = make([]string, 0, len(product.TakenSeats))
		for _, c := range product.TakenSeats {
			if _, ok := own[seats.Normalize(c)]; !ok {
				taken = append(taken, c)
			}
		}
	}
	s.inventory.Replace(taken)
	pruned := s.selection.PruneTaken()
	s.coord.Update(s.selection.Seats(), s.selection.Quantity())
	s.mu.Unlock()

	s.svc.emit(models.HoldEvent{
		Type:          models.HoldEventInventoryUpdate,
		ReservationID: s.reservationID,
		ProductID:     s.product.ID,
		Seats:         pruned,
	})
	return nil
}

// Submit validates the form and buys the selected seats. On success the hold is
// converted and the session is finished. When the server reports the hold as lost
// the inventory is refreshed, taken seats are dropped and the passenger has to
// reselect.
func (s *Session) Submit(ctx context.Context, form purchase.Form) (*purchase.Receipt, error) {
	s.mu.Lock()
	if s.closed || s.purchased {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	order := purchase.Order{
		ReservationID: s.reservationID,
		Product:       s.product,
		Seats:         s.selection.Seats(),
		Quantity:      s.selection.Quantity(),
		Form:          form,
		Hold:          s.coord.State(),
	}
	s.mu.Unlock()

	receipt, err := s.svc.submitter.Submit(ctx, order)
	if err != nil {
		s.handleSubmitError(ctx, order, err)
		return nil, err
	}

	s.mu.Lock()
	s.purchased = true
	s.mu.Unlock()
	s.coord.MarkPurchased()

	s.svc.recordOutcome(s.reservationID, journal.Outcome{
		Status:   models.PurchasePurchased,
		Quantity: order.Quantity,
		Seats:    order.Seats,
		Total:    receipt.Total,
		PNR:      receipt.PNR,
	})
	s.svc.emit(models.HoldEvent{
		Type:          models.HoldEventPurchased,
		ReservationID: s.reservationID,
		ProductID:     s.product.ID,
		State:         models.HoldStateReleased,
		Seats:         order.Seats,
		PNR:           receipt.PNR,
	})
	return receipt, nil
}

func (s *Session) handleSubmitError(ctx context.Context, order purchase.Order, err error) {
	var subErr *purchase.SubmissionError
	if !errors.As(err, &subErr) {
		// Rejected locally; nothing was sent.
		return
	}

	s.mu.Lock()
	s.lastMsg = subErr.Message
	s.mu.Unlock()

	s.svc.recordOutcome(s.reservationID, journal.Outcome{
		Status:   models.PurchaseFailed,
		Quantity: order.Quantity,
		Seats:    order.Seats,
		Total:    purchase.Total(order.Product.Price, order.Quantity),
		Message:  subErr.Message,
	})
	s.svc.emit(models.HoldEvent{
		Type:          models.HoldEventPurchaseFailed,
		ReservationID: s.reservationID,
		ProductID:     s.product.ID,
		Seats:         order.Seats,
		Message:       subErr.Message,
	})

	if !subErr.HoldLost {
		return
	}
	s.coord.Invalidate()
	if rerr := s.refreshInventory(ctx, false); rerr != nil {
		s.svc.logger.Warn("HOLD", fmt.Sprintf("[REFRESH] %s - %v", s.reservationID, rerr))
	}
	s.svc.emit(models.HoldEvent{
		Type:          models.HoldEventReselect,
		ReservationID: s.reservationID,
		ProductID:     s.product.ID,
		Seats:         s.Snapshot().SelectedSeats,
		Message:       subErr.Message,
	})
}

// Close ends the session. Unless the seats were bought, the hold is released.
// Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		purchased := s.purchased
		quantity := s.selection.Quantity()
		selected := s.selection.Seats()
		msg := s.lastMsg
		s.mu.Unlock()

		s.coord.Dispose()
		s.svc.forget(s.reservationID)

		if !purchased {
			s.svc.recordOutcome(s.reservationID, journal.Outcome{
				Status:   models.PurchaseAbandoned,
				Quantity: quantity,
				Seats:    selected,
				Total:    purchase.Total(s.product.Price, quantity),
				Message:  msg,
			})
		}
		s.svc.logger.LogHold("CLOSED", s.reservationID, fmt.Sprintf("purchased=%t", purchased))
	})
}

// handleConflict runs when the server refused some seats: they are marked taken,
// dropped from the selection and the rest goes back to the coordinator.
func (s *Session) handleConflict(conflicts []string) {
	s.mu.Lock()
	if s.closed || s.purchased {
		s.mu.Unlock()
		return
	}
	s.inventory.MarkTaken(conflicts...)
	s.selection.Remove(conflicts...)
	s.coord.Update(s.selection.Seats(), s.selection.Quantity())
	s.mu.Unlock()
}

// handleHoldEvent runs on coordinator goroutines and must not take s.mu.
func (s *Session) handleHoldEvent(e hold.Event) {
	event := models.HoldEvent{
		ReservationID: s.reservationID,
		ProductID:     s.product.ID,
		State:         e.State,
		Seats:         e.Seats,
	}
	switch e.Kind {
	case hold.Conflict:
		event.Type = models.HoldEventConflict
		event.Message = UserMessage(e.Err)
	case hold.TransportFailed:
		event.Type = models.HoldEventError
		event.Message = UserMessage(e.Err)
	default:
		event.Type = models.HoldEventStateChanged
	}
	s.svc.emit(event)
}
