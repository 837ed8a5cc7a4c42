package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"busticket/internal/models"
	"busticket/internal/seats"
)

var (
	takenStyle    = color.New(color.FgRed)
	selectedStyle = color.New(color.FgGreen, color.Bold)
	freeStyle     = color.New(color.FgWhite)
)

// renderSeatMap prints the bus front to back. Taken seats show as "xx", selected
// seats are highlighted.
func renderSeatMap(w io.Writer, layout seats.Layout, taken, selected []string) {
	takenSet := toSet(taken)
	selectedSet := toSet(selected)

	cell := func(code string) string {
		label := fmt.Sprintf("%-3s", code)
		switch {
		case selectedSet[code]:
			return selectedStyle.Sprint("[" + label + "]")
		case takenSet[code]:
			return takenStyle.Sprint("[xx ]")
		default:
			return freeStyle.Sprint("[" + label + "]")
		}
	}

	fmt.Fprintf(w, "  layout %s, %d seats\n", layout.Name, layout.Capacity())
	for n := 1; n <= layout.Rows(); n++ {
		left, right := layout.Row(n)
		var b strings.Builder
		for _, c := range left {
			b.WriteString(cell(c))
		}
		b.WriteString("   ")
		for _, c := range right {
			b.WriteString(cell(c))
		}
		fmt.Fprintf(w, "%3d %s\n", n, b.String())
	}
}

func renderSnapshot(w io.Writer, layout seats.Layout, snap models.ReservationSession) {
	renderSeatMap(w, layout, snap.TakenSeats, snap.SelectedSeats)
	fmt.Fprintf(w, "  selected %d/%d: %s  hold: %s\n",
		len(snap.SelectedSeats), snap.RequestedQuantity, strings.Join(snap.SelectedSeats, ", "), snap.HoldState)
	if snap.LastError != "" {
		takenStyle.Fprintf(w, "  %s\n", snap.LastError)
	}
}

func toSet(codes []string) map[string]bool {
	set := make(map[string]bool, len(codes))
	for _, c := range codes {
		set[seats.Normalize(c)] = true
	}
	return set
}
