package checkout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"busticket/internal/config"
	"busticket/internal/hold"
	"busticket/internal/journal"
	"busticket/internal/logger"
	"busticket/internal/models"
	"busticket/internal/purchase"
	"busticket/internal/seats"
)

// API is the REST boundary a purchase session needs.
type API interface {
	hold.API
	purchase.OrderAPI
	GetProduct(ctx context.Context, productID string) (*models.Product, error)
}

type Journal interface {
	Record(ctx context.Context, reservationID, productID string, quantity int) error
	UpdateOutcome(ctx context.Context, reservationID string, o journal.Outcome) error
}

type EventPublisher interface {
	PublishHoldEvent(ctx context.Context, event models.HoldEvent) error
}

type Options struct {
	Hold      config.HoldConfig
	Purchase  config.PurchaseConfig
	Receipts  *purchase.ReceiptGenerator
	Journal   Journal        // optional
	Publisher EventPublisher // optional
}

// Service opens purchase sessions and routes outside events to them.
type Service struct {
	api       API
	opts      Options
	validator *purchase.Validator
	submitter *purchase.Submitter
	notifier  *Notifier
	logger    *logger.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	publishMu     sync.RWMutex
	publishQueue  chan models.HoldEvent
	publishClosed bool
	publishDone   chan struct{}
	closeOnce     sync.Once
}

func NewService(sessionAPI API, opts Options, log *logger.Logger) *Service {
	validator := purchase.NewValidator(opts.Purchase.SalesCutoff)
	s := &Service{
		api:       sessionAPI,
		opts:      opts,
		validator: validator,
		submitter: purchase.NewSubmitter(sessionAPI, validator, opts.Receipts, log),
		notifier:  NewNotifier(),
		logger:    log,
		sessions:  make(map[string]*Session),
	}
	if opts.Publisher != nil {
		s.publishQueue = make(chan models.HoldEvent, 256)
		s.publishDone = make(chan struct{})
		go s.publishLoop()
	}
	return s
}

func (s *Service) Notifier() *Notifier {
	return s.notifier
}

// Open starts a purchase attempt for quantity seats of a product. The returned
// session owns a fresh reservation id and must be closed.
func (s *Service) Open(ctx context.Context, productID string, quantity int) (*Session, error) {
	product, err := s.api.GetProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to load product %s: %w", productID, err)
	}

	layout, err := seats.ParseLayout(product.Layout, product.Rows)
	if err != nil {
		return nil, fmt.Errorf("product %s: %w", productID, err)
	}
	inventory := seats.NewInventory(product.TakenSeats)
	selection, err := seats.NewSelection(layout, inventory, quantity)
	if err != nil {
		return nil, err
	}

	session := &Session{
		svc:           s,
		reservationID: uuid.NewString(),
		product:       *product,
		openedAt:      time.Now().UTC(),
		layout:        layout,
		inventory:     inventory,
		selection:     selection,
	}
	session.coord = hold.NewCoordinator(s.api, session.reservationID, product.ID, hold.Options{
		Debounce:       s.opts.Hold.Debounce,
		RenewInterval:  s.opts.Hold.RenewInterval,
		ReleaseTimeout: s.opts.Hold.ReleaseTimeout,
		RequestTimeout: s.opts.Hold.RequestTimeout,
		OnConflict:     session.handleConflict,
		OnEvent:        session.handleHoldEvent,
	}, s.logger)

	s.mu.Lock()
	s.sessions[session.reservationID] = session
	s.mu.Unlock()

	if s.opts.Journal != nil {
		if err := s.opts.Journal.Record(ctx, session.reservationID, product.ID, quantity); err != nil {
			s.logger.Warn("DATABASE", err.Error())
		}
	}
	s.logger.LogHold("OPENED", session.reservationID, fmt.Sprintf("product %s quantity %d", product.ID, quantity))
	return session, nil
}

// Session returns an open session by reservation id.
func (s *Service) Session(reservationID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[reservationID]
	return session, ok
}

// HandleSeatStatus refreshes the inventory of every open session on the product
// the event is about.
func (s *Service) HandleSeatStatus(event models.SeatStatusChangeEvent) {
	s.mu.Lock()
	var affected []*Session
	for _, session := range s.sessions {
		if session.product.ID == event.ProductID {
			affected = append(affected, session)
		}
	}
	s.mu.Unlock()

	for _, session := range affected {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.Hold.RequestTimeout+time.Second)
		if err := session.RefreshInventory(ctx); err != nil {
			s.logger.Warn("HOLD", fmt.Sprintf("[REFRESH] %s - %v", session.reservationID, err))
		}
		cancel()
	}
}

// Close closes every open session and stops event publishing.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		open := make([]*Session, 0, len(s.sessions))
		for _, session := range s.sessions {
			open = append(open, session)
		}
		s.mu.Unlock()

		for _, session := range open {
			session.Close()
		}

		if s.publishQueue != nil {
			s.publishMu.Lock()
			s.publishClosed = true
			close(s.publishQueue)
			s.publishMu.Unlock()
			<-s.publishDone
		}
	})
}

func (s *Service) forget(reservationID string) {
	s.mu.Lock()
	delete(s.sessions, reservationID)
	s.mu.Unlock()
}

func (s *Service) emit(event models.HoldEvent) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	s.notifier.Emit(event)

	if s.publishQueue == nil {
		return
	}
	s.publishMu.RLock()
	defer s.publishMu.RUnlock()
	if s.publishClosed {
		return
	}
	select {
	case s.publishQueue <- event:
	default:
		s.logger.Warn("KAFKA", fmt.Sprintf("event queue full, dropping %s for %s", event.Type, event.ReservationID))
	}
}

func (s *Service) publishLoop() {
	defer close(s.publishDone)
	for event := range s.publishQueue {
		// Errors are logged by the publisher.
		_ = s.opts.Publisher.PublishHoldEvent(context.Background(), event)
	}
}

func (s *Service) recordOutcome(reservationID string, o journal.Outcome) {
	if s.opts.Journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.opts.Journal.UpdateOutcome(ctx, reservationID, o); err != nil {
		s.logger.Warn("DATABASE", err.Error())
	}
}
