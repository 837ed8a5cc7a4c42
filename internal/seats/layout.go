package seats

import (
	"fmt"
	"strconv"
	"strings"
)

// Layout is the seat map of a bus: a number of rows, each split into a left and a
// right block separated by the aisle. Seat codes are "<row><letter>", e.g. "1A".
type Layout struct {
	Name  string
	Left  []string
	Right []string
	rows  int
}

// ParseLayout builds the seat map for a "2+1" or "2+2" bus with the given row count.
func ParseLayout(name string, rows int) (Layout, error) {
	if rows < 1 {
		return Layout{}, fmt.Errorf("invalid row count %d", rows)
	}
	switch strings.TrimSpace(name) {
	case "2+1":
		return Layout{Name: "2+1", Left: []string{"A", "B"}, Right: []string{"C"}, rows: rows}, nil
	case "2+2":
		return Layout{Name: "2+2", Left: []string{"A", "B"}, Right: []string{"C", "D"}, rows: rows}, nil
	default:
		return Layout{}, fmt.Errorf("unsupported seat layout %q", name)
	}
}

func (l Layout) Rows() int {
	return l.rows
}

func (l Layout) Capacity() int {
	return l.rows * (len(l.Left) + len(l.Right))
}

// Row returns the codes of one row split by the aisle. Rows are 1-based.
func (l Layout) Row(n int) (left, right []string) {
	for _, c := range l.Left {
		left = append(left, strconv.Itoa(n)+c)
	}
	for _, c := range l.Right {
		right = append(right, strconv.Itoa(n)+c)
	}
	return left, right
}

// Codes lists every seat front to back, left to right.
func (l Layout) Codes() []string {
	codes := make([]string, 0, l.Capacity())
	for n := 1; n <= l.rows; n++ {
		left, right := l.Row(n)
		codes = append(codes, left...)
		codes = append(codes, right...)
	}
	return codes
}

func (l Layout) Contains(code string) bool {
	code = Normalize(code)
	i := strings.IndexFunc(code, func(r rune) bool { return r < '0' || r > '9' })
	if i <= 0 || i != len(code)-1 {
		return false
	}
	row, err := strconv.Atoi(code[:i])
	if err != nil || row < 1 || row > l.rows {
		return false
	}
	letter := code[i:]
	for _, c := range l.Left {
		if c == letter {
			return true
		}
	}
	for _, c := range l.Right {
		if c == letter {
			return true
		}
	}
	return false
}

// Normalize upper-cases and trims a seat code and drops leading zeros from its row,
// so "01a" and "1A" name the same seat.
func Normalize(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	i := strings.IndexFunc(code, func(r rune) bool { return r < '0' || r > '9' })
	if i <= 0 {
		return code
	}
	row, err := strconv.Atoi(code[:i])
	if err != nil {
		return code
	}
	return strconv.Itoa(row) + code[i:]
}
