package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"busticket/internal/models"
	"busticket/internal/seats"
)

func TestRenderSeatMap(t *testing.T) {
	color.NoColor = true
	layout, err := seats.ParseLayout("2+1", 2)
	require.NoError(t, err)

	var buf bytes.Buffer
	renderSeatMap(&buf, layout, []string{"1b"}, []string{"2C"})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "  layout 2+1, 6 seats", lines[0])
	assert.Equal(t, "  1 [1A ][xx ]   [1C ]", lines[1])
	assert.Equal(t, "  2 [2A ][2B ]   [2C ]", lines[2])
}

func TestRenderSnapshot(t *testing.T) {
	color.NoColor = true
	layout, err := seats.ParseLayout("2+2", 1)
	require.NoError(t, err)

	var buf bytes.Buffer
	renderSnapshot(&buf, layout, models.ReservationSession{
		RequestedQuantity: 2,
		SelectedSeats:     []string{"1A"},
		HoldState:         models.HoldStateNone,
		LastError:         "Seats 1B were just taken, please choose again.",
	})

	out := buf.String()
	assert.Contains(t, out, "selected 1/2: 1A  hold: NONE")
	assert.Contains(t, out, "Seats 1B were just taken")
}
