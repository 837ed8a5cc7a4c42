package seats

import (
	"errors"
	"fmt"
)

// ToggleResult tells the caller what a toggle did.
type ToggleResult int

const (
	Added ToggleResult = iota
	Removed
	Unavailable // taken by someone else, selection unchanged
	AtCapacity  // already holding RequestedQuantity seats, selection unchanged
	Unknown     // not a seat of this bus, selection unchanged
)

func (r ToggleResult) String() string {
	switch r {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Unavailable:
		return "unavailable"
	case AtCapacity:
		return "at_capacity"
	case Unknown:
		return "unknown"
	default:
		return fmt.Sprintf("ToggleResult(%d)", int(r))
	}
}

// Changed reports whether the selection was mutated.
func (r ToggleResult) Changed() bool {
	return r == Added || r == Removed
}

var ErrInvalidQuantity = errors.New("invalid quantity")

// Selection is the passenger's in-progress seat choice for one purchase. The number
// of selected seats never exceeds the requested quantity: adding a seat while full
// is refused rather than evicting an earlier choice. Not safe for concurrent use;
// the owning session serializes access.
type Selection struct {
	layout    Layout
	inventory *Inventory
	quantity  int
	seats     []string
}

func NewSelection(layout Layout, inventory *Inventory, quantity int) (*Selection, error) {
	s := &Selection{layout: layout, inventory: inventory}
	if _, err := s.SetQuantity(quantity); err != nil {
		return nil, err
	}
	return s, nil
}

// SetQuantity changes the requested quantity, keeping the earliest selected seats
// when the selection no longer fits. It reports whether the selection was truncated.
func (s *Selection) SetQuantity(n int) (bool, error) {
	if n < 1 {
		return false, fmt.Errorf("%w: %d, must be at least 1", ErrInvalidQuantity, n)
	}
	if capacity := s.layout.Capacity(); capacity > 0 && n > capacity {
		return false, fmt.Errorf("%w: %d exceeds the %d seats of this bus", ErrInvalidQuantity, n, capacity)
	}
	s.quantity = n
	if len(s.seats) > n {
		s.seats = s.seats[:n:n]
		return true, nil
	}
	return false, nil
}

func (s *Selection) Toggle(code string) ToggleResult {
	code = Normalize(code)
	if !s.layout.Contains(code) {
		return Unknown
	}
	if i := s.indexOf(code); i >= 0 {
		s.seats = append(s.seats[:i:i], s.seats[i+1:]...)
		return Removed
	}
	if s.inventory.IsTaken(code) {
		return Unavailable
	}
	if len(s.seats) >= s.quantity {
		return AtCapacity
	}
	s.seats = append(s.seats, code)
	return Added
}

// Remove drops the given seats, keeping the order of the rest. It returns the seats
// that were actually removed.
func (s *Selection) Remove(codes ...string) []string {
	drop := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		drop[Normalize(c)] = struct{}{}
	}
	var removed []string
	kept := make([]string, 0, len(s.seats))
	for _, c := range s.seats {
		if _, ok := drop[c]; ok {
			removed = append(removed, c)
			continue
		}
		kept = append(kept, c)
	}
	s.seats = kept
	return removed
}

// PruneTaken drops every selected seat the inventory now lists as taken.
func (s *Selection) PruneTaken() []string {
	var taken []string
	for _, c := range s.seats {
		if s.inventory.IsTaken(c) {
			taken = append(taken, c)
		}
	}
	return s.Remove(taken...)
}

func (s *Selection) Clear() {
	s.seats = nil
}

func (s *Selection) Quantity() int {
	return s.quantity
}

// Seats returns a copy of the selection in selection order.
func (s *Selection) Seats() []string {
	out := make([]string, len(s.seats))
	copy(out, s.seats)
	return out
}

func (s *Selection) Complete() bool {
	return s.quantity > 0 && len(s.seats) == s.quantity
}

func (s *Selection) Contains(code string) bool {
	return s.indexOf(Normalize(code)) >= 0
}

func (s *Selection) indexOf(code string) int {
	for i, c := range s.seats {
		if c == code {
			return i
		}
	}
	return -1
}
