package journal_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"busticket/internal/journal"
	"busticket/internal/logger"
	"busticket/internal/models"
)

func setupTestStore(t *testing.T) *journal.Store {
	t.Helper()
	store, err := journal.Open(context.Background(), "file:"+uuid.NewString()+"?mode=memory&cache=shared", logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordAndGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, "res-1", "trip-1", 2))

	rec, err := store.Get(ctx, "res-1")
	require.NoError(t, err)
	assert.Equal(t, "trip-1", rec.ProductID)
	assert.Equal(t, 2, rec.Quantity)
	assert.Equal(t, models.PurchaseOpen, rec.Status)
	assert.False(t, rec.CreatedAt.IsZero())

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, journal.ErrNotFound)
}

func TestRecord_DuplicateReservation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, "res-1", "trip-1", 1))
	assert.Error(t, store.Record(ctx, "res-1", "trip-1", 1))
}

func TestUpdateOutcome(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Record(ctx, "res-1", "trip-1", 2))

	err := store.UpdateOutcome(ctx, "res-1", journal.Outcome{
		Status:   models.PurchasePurchased,
		Quantity: 2,
		Seats:    []string{"3A", "3B"},
		Total:    900,
		PNR:      "K7Q2ZP",
	})
	require.NoError(t, err)

	rec, err := store.Get(ctx, "res-1")
	require.NoError(t, err)
	assert.Equal(t, models.PurchasePurchased, rec.Status)
	assert.Equal(t, "3A,3B", rec.Seats)
	assert.Equal(t, 900.0, rec.Total)
	assert.Equal(t, "K7Q2ZP", rec.PNR)
	assert.Equal(t, "trip-1", rec.ProductID, "untouched columns survive")

	err = store.UpdateOutcome(ctx, "missing", journal.Outcome{Status: models.PurchaseFailed})
	assert.ErrorIs(t, err, journal.ErrNotFound)
}

func TestListRecent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Record(ctx, id, "trip-1", 1))
		time.Sleep(5 * time.Millisecond)
	}

	recs, err := store.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "c", recs[0].ReservationID)
	assert.Equal(t, "b", recs[1].ReservationID)
}
