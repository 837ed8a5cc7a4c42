package api

import (
	"errors"
	"fmt"
	"strings"
)

// ConflictError is returned by Hold when the server could not claim one or more of
// the requested seats because another session holds or bought them.
type ConflictError struct {
	Seats   []string
	Message string
}

func (e *ConflictError) Error() string {
	if len(e.Seats) == 0 {
		if e.Message != "" {
			return "seat hold conflict: " + e.Message
		}
		return "seat hold conflict"
	}
	return fmt.Sprintf("seat hold conflict on %s", strings.Join(e.Seats, ", "))
}

// TransportError covers network failures and unexpected server responses. These are
// worth retrying.
type TransportError struct {
	Op     string
	Status int // 0 when no response was received
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: server returned status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

var ErrProductNotFound = errors.New("product not found")

func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

// ConflictSeats returns the seats of a conflict error, or nil.
func ConflictSeats(err error) []string {
	var target *ConflictError
	if errors.As(err, &target) {
		return target.Seats
	}
	return nil
}

func IsTransport(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}
