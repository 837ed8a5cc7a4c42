package hold

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"busticket/internal/api"
	"busticket/internal/logger"
	"busticket/internal/models"
)

// API is the part of the REST boundary the coordinator drives.
type API interface {
	Hold(ctx context.Context, req models.HoldRequest) error
	Extend(ctx context.Context, reservationID string) error
	Release(ctx context.Context, reservationID string) error
}

type Options struct {
	Debounce       time.Duration
	RenewInterval  time.Duration
	ReleaseTimeout time.Duration
	RequestTimeout time.Duration

	// OnConflict receives the seats the server refused. It is expected to prune them
	// from the selection and feed the result back through Update. Called without any
	// coordinator lock held.
	OnConflict func(seats []string)
	// OnEvent observes state changes and errors. Called without any coordinator
	// lock held, possibly from several goroutines.
	OnEvent func(Event)
}

type EventKind int

const (
	StateChanged EventKind = iota
	Conflict
	TransportFailed
)

type Event struct {
	Kind  EventKind
	State models.HoldState
	Seats []string
	Err   error
}

// Coordinator keeps the server-side hold of one reservation in line with the
// passenger's selection.
//
// At most one hold request is in flight. Changes that arrive meanwhile only mark a
// follow-up, which sends the latest desired selection once the flight resolves. Full
// selections are debounced before a request is sent. Renewal never overlaps a hold
// request. Dispose releases whatever the server may still hold.
type Coordinator struct {
	api           API
	reservationID string
	productID     string
	opts          Options
	logger        *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	state         models.HoldState
	desired       []string // nil unless the selection is complete
	held          []string // seats the server confirmed for us
	inFlight      bool // a hold or release request is out
	releasing     bool // the request in flight is a release
	releaseWanted bool // release once the hold request in flight resolves
	followUp      bool
	timer         *time.Timer
	timerGen      uint64
	timerArmed    bool
	remoteMayHold bool // a hold request was sent since the last release
	lastErr       error
	finished      bool // disposed or purchased

	renewStop chan struct{}
	renewDone chan struct{}
	once      sync.Once
}

func NewCoordinator(holdAPI API, reservationID, productID string, opts Options, log *logger.Logger) *Coordinator {
	if opts.Debounce <= 0 {
		opts.Debounce = 350 * time.Millisecond
	}
	if opts.RenewInterval <= 0 {
		opts.RenewInterval = 120 * time.Second
	}
	if opts.ReleaseTimeout <= 0 {
		opts.ReleaseTimeout = 5 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		api:           holdAPI,
		reservationID: reservationID,
		productID:     productID,
		opts:          opts,
		logger:        log,
		ctx:           ctx,
		cancel:        cancel,
		state:         models.HoldStateNone,
		renewStop:     make(chan struct{}),
		renewDone:     make(chan struct{}),
	}
	go c.renewLoop()
	return c
}

func (c *Coordinator) ReservationID() string {
	return c.reservationID
}

func (c *Coordinator) State() models.HoldState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Held returns the seats the server last confirmed for this reservation.
func (c *Coordinator) Held() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return clone(c.held)
}

func (c *Coordinator) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Update feeds the current selection. A complete selection is held after the
// debounce delay; a partial one invalidates any active hold without a request; an
// empty one releases the reservation.
func (c *Coordinator) Update(seats []string, quantity int) {
	var events []Event

	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return
	}

	switch {
	case len(seats) == 0:
		c.stopTimerLocked()
		c.desired = nil
		c.followUp = false
		if c.remoteMayHold {
			c.held = nil
			events = c.setStateLocked(models.HoldStateReleased, events)
			if c.inFlight && !c.releasing {
				c.releaseWanted = true
			} else if !c.inFlight {
				c.startReleaseLocked("selection cleared")
			}
		} else if c.state != models.HoldStateReleased {
			events = c.setStateLocked(models.HoldStateNone, events)
		}

	case quantity <= 0 || len(seats) != quantity:
		// The server may still hold the previous seats. They are not renewed and
		// stay until the next full selection replaces them, the TTL runs out or
		// Dispose releases them.
		c.stopTimerLocked()
		c.desired = nil
		events = c.setStateLocked(models.HoldStateNone, events)

	default:
		c.desired = clone(seats)
		c.releaseWanted = false
		c.lastErr = nil
		if c.state == models.HoldStateActive && sameSeats(c.desired, c.held) && !c.inFlight {
			c.stopTimerLocked()
			break
		}
		events = c.setStateLocked(models.HoldStatePending, events)
		c.armTimerLocked()
	}
	c.mu.Unlock()

	c.emit(events...)
}

// Retry re-sends the current selection immediately, typically after a transport
// error was shown to the user.
func (c *Coordinator) Retry() {
	var events []Event

	c.mu.Lock()
	if c.finished || c.desired == nil {
		c.mu.Unlock()
		return
	}
	c.stopTimerLocked()
	c.lastErr = nil
	events = c.setStateLocked(models.HoldStatePending, events)
	if c.inFlight {
		c.followUp = true
	} else {
		c.sendLocked()
	}
	c.mu.Unlock()

	c.emit(events...)
}

// Invalidate forgets the confirmed seats after the server reported the hold as
// expired or taken. The next complete selection is held again even if it did not
// change.
func (c *Coordinator) Invalidate() {
	var events []Event

	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return
	}
	c.held = nil
	if c.state == models.HoldStateActive {
		events = c.setStateLocked(models.HoldStateNone, events)
	}
	c.mu.Unlock()

	c.emit(events...)
}

// MarkPurchased records that the server converted the hold into a sale. Timers stop
// and no release is sent.
func (c *Coordinator) MarkPurchased() {
	c.once.Do(func() {
		var events []Event

		c.mu.Lock()
		c.finished = true
		c.stopTimerLocked()
		c.remoteMayHold = false
		c.desired = nil
		events = c.setStateLocked(models.HoldStateReleased, events)
		c.mu.Unlock()

		c.cancel()
		c.stopRenewal()
		c.logger.LogHold("PURCHASED", c.reservationID, "hold converted into a sale")
		c.emit(events...)
	})
}

// Dispose ends the coordinator. In-flight requests are abandoned and, when the
// server may hold seats for this reservation, exactly one release is sent. The
// release outcome is ignored. Safe to call more than once.
func (c *Coordinator) Dispose() {
	c.once.Do(func() {
		var events []Event

		c.mu.Lock()
		c.finished = true
		c.stopTimerLocked()
		release := c.remoteMayHold || (c.inFlight && !c.releasing)
		c.remoteMayHold = false
		c.held = nil
		c.desired = nil
		events = c.setStateLocked(models.HoldStateReleased, events)
		c.mu.Unlock()

		c.cancel()
		c.stopRenewal()
		c.emit(events...)
		if release {
			c.release("session closed")
		}
	})
}

func (c *Coordinator) armTimerLocked() {
	c.stopTimerLocked()
	c.timerGen++
	gen := c.timerGen
	c.timerArmed = true
	c.timer = time.AfterFunc(c.opts.Debounce, func() { c.fire(gen) })
}

func (c *Coordinator) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerArmed = false
	c.timerGen++
}

func (c *Coordinator) fire(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.finished || gen != c.timerGen {
		return
	}
	c.timerArmed = false
	c.timer = nil
	if c.desired == nil {
		return
	}
	if c.inFlight {
		c.followUp = true
		return
	}
	if c.state == models.HoldStateActive && sameSeats(c.desired, c.held) {
		return
	}
	c.sendLocked()
}

func (c *Coordinator) sendLocked() {
	seats := clone(c.desired)
	c.inFlight = true
	c.remoteMayHold = true
	c.logger.LogHold("REQUEST", c.reservationID, strings.Join(seats, ","))
	go c.request(seats)
}

func (c *Coordinator) request(seats []string) {
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.RequestTimeout)
	err := c.api.Hold(ctx, models.HoldRequest{
		ReservationID: c.reservationID,
		ProductID:     c.productID,
		Seats:         seats,
	})
	cancel()
	c.complete(seats, err)
}

func (c *Coordinator) complete(sent []string, err error) {
	var events []Event
	var conflict []string

	c.mu.Lock()
	c.inFlight = false
	if c.finished {
		c.mu.Unlock()
		return
	}
	if c.releaseWanted {
		// The selection was emptied while this request was out.
		c.held = nil
		c.startReleaseLocked("selection cleared")
		c.mu.Unlock()
		return
	}
	followUp := c.followUp
	c.followUp = false
	current := c.desired != nil && sameSeats(c.desired, sent)

	switch {
	case err == nil:
		c.held = clone(sent)
		c.logger.LogHold("ACQUIRED", c.reservationID, strings.Join(sent, ","))
		if current && !c.timerArmed {
			c.lastErr = nil
			events = c.setStateLocked(models.HoldStateActive, events)
		}

	case api.IsConflict(err):
		conflict = api.ConflictSeats(err)
		c.held = nil
		c.logger.LogHold("CONFLICT", c.reservationID, fmt.Sprintf("seats %v unavailable", conflict))
		events = c.setStateLocked(models.HoldStateConflict, events)
		events = append(events, Event{Kind: Conflict, State: c.state, Seats: clone(conflict), Err: err})
		if c.opts.OnConflict == nil || len(conflict) == 0 {
			// Nobody will prune the selection; do not retry the same seats.
			c.desired = nil
			c.stopTimerLocked()
			events = c.setStateLocked(models.HoldStateNone, events)
		}

	case errors.Is(err, context.Canceled):
		// Only happens when the coordinator is shutting down.

	default:
		// The server may or may not have applied the request.
		c.held = nil
		c.logger.Error("HOLD", fmt.Sprintf("[FAILED] %s - %v", c.reservationID, err))
		if current && !c.timerArmed {
			c.lastErr = err
			events = c.setStateLocked(models.HoldStateNone, events)
			events = append(events, Event{Kind: TransportFailed, State: c.state, Seats: clone(sent), Err: err})
			followUp = false
		}
	}

	if followUp && conflict == nil && !current {
		events = c.sendFollowUpLocked(events)
	}
	c.mu.Unlock()

	c.emit(events...)
	if len(conflict) > 0 && c.opts.OnConflict != nil {
		c.opts.OnConflict(conflict)
	}
}

// sendFollowUpLocked sends the latest desired selection after a request resolved,
// unless the debounce timer will do it or nothing changed.
func (c *Coordinator) sendFollowUpLocked(events []Event) []Event {
	if c.desired == nil || c.timerArmed {
		return events
	}
	if c.state == models.HoldStateActive && sameSeats(c.desired, c.held) {
		return events
	}
	events = c.setStateLocked(models.HoldStatePending, events)
	c.sendLocked()
	return events
}

func (c *Coordinator) startReleaseLocked(reason string) {
	c.inFlight = true
	c.releasing = true
	c.releaseWanted = false
	c.remoteMayHold = false
	go func() {
		c.release(reason)
		c.completeRelease()
	}()
}

func (c *Coordinator) completeRelease() {
	var events []Event

	c.mu.Lock()
	c.inFlight = false
	c.releasing = false
	if c.finished {
		c.mu.Unlock()
		return
	}
	followUp := c.followUp
	c.followUp = false
	if followUp {
		events = c.sendFollowUpLocked(events)
	}
	c.mu.Unlock()

	c.emit(events...)
}

func (c *Coordinator) renewLoop() {
	defer close(c.renewDone)
	ticker := time.NewTicker(c.opts.RenewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.renewStop:
			return
		case <-ticker.C:
			if !c.shouldRenew() {
				continue
			}
			ctx, cancel := context.WithTimeout(c.ctx, c.opts.RequestTimeout)
			err := c.api.Extend(ctx, c.reservationID)
			cancel()
			if err != nil {
				c.logger.Warn("HOLD", fmt.Sprintf("[RENEW] %s - renewal failed: %v", c.reservationID, err))
			} else {
				c.logger.Debug("HOLD", fmt.Sprintf("[RENEW] %s - hold extended", c.reservationID))
			}
		}
	}
}

func (c *Coordinator) shouldRenew() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.finished && c.state == models.HoldStateActive && !c.inFlight && !c.timerArmed
}

func (c *Coordinator) stopRenewal() {
	close(c.renewStop)
	<-c.renewDone
}

func (c *Coordinator) release(reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.ReleaseTimeout)
	defer cancel()
	if err := c.api.Release(ctx, c.reservationID); err != nil {
		c.logger.Warn("HOLD", fmt.Sprintf("[RELEASE] %s - release failed, hold will expire on its own: %v", c.reservationID, err))
		return
	}
	c.logger.LogHold("RELEASED", c.reservationID, reason)
}

func (c *Coordinator) setStateLocked(next models.HoldState, events []Event) []Event {
	if c.state == next {
		return events
	}
	c.state = next
	return append(events, Event{Kind: StateChanged, State: next})
}

func (c *Coordinator) emit(events ...Event) {
	if c.opts.OnEvent == nil {
		return
	}
	for _, e := range events {
		c.opts.OnEvent(e)
	}
}

func sameSeats(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := set[s]; !ok {
			return false
		}
	}
	return true
}

func clone(seats []string) []string {
	if seats == nil {
		return nil
	}
	out := make([]string, len(seats))
	copy(out, seats)
	return out
}
