package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"busticket/internal/logger"
	"busticket/internal/models"
)

var ErrNotFound = errors.New("purchase attempt not found")

// Store keeps a local history of purchase attempts.
type Store struct {
	Bun *bun.DB
	log *logger.Logger
}

// Open connects to postgres for postgres:// DSNs and to sqlite otherwise, and makes
// sure the table exists. Postgres schemas are versioned with migrations.
func Open(ctx context.Context, dsn string, log *logger.Logger) (*Store, error) {
	var bunDB *bun.DB
	isPostgres := strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
	if isPostgres {
		sqldb, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres journal: %w", err)
		}
		bunDB = bun.NewDB(sqldb, pgdialect.New())
	} else {
		sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite journal: %w", err)
		}
		sqldb.SetMaxOpenConns(1)
		bunDB = bun.NewDB(sqldb, sqlitedialect.New())
	}

	if err := bunDB.PingContext(ctx); err != nil {
		bunDB.Close()
		return nil, fmt.Errorf("failed to reach journal database: %w", err)
	}

	s := New(bunDB, log)
	var migrateErr error
	if isPostgres {
		migrateErr = migratePostgres(dsn, log)
	} else {
		migrateErr = s.Migrate(ctx)
	}
	if migrateErr != nil {
		bunDB.Close()
		return nil, migrateErr
	}
	log.LogDatabase("CONNECT", "purchase_attempts", "journal ready")
	return s, nil
}

func New(db *bun.DB, log *logger.Logger) *Store {
	return &Store{Bun: db, log: log}
}

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.Bun.NewCreateTable().
		Model((*models.PurchaseRecord)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create purchase_attempts table: %w", err)
	}
	return nil
}

// Record inserts a new open attempt.
func (s *Store) Record(ctx context.Context, reservationID, productID string, quantity int) error {
	now := time.Now().UTC()
	rec := &models.PurchaseRecord{
		ReservationID: reservationID,
		ProductID:     productID,
		Quantity:      quantity,
		Status:        models.PurchaseOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if _, err := s.Bun.NewInsert().Model(rec).Exec(ctx); err != nil {
		return fmt.Errorf("failed to record purchase attempt %s: %w", reservationID, err)
	}
	s.log.LogDatabase("INSERT", "purchase_attempts", reservationID)
	return nil
}

// Outcome is the result of a purchase attempt.
type Outcome struct {
	Status   models.PurchaseStatus
	Quantity int
	Seats    []string
	Total    float64
	PNR      string
	Message  string
}

func (s *Store) UpdateOutcome(ctx context.Context, reservationID string, o Outcome) error {
	rec := &models.PurchaseRecord{
		ReservationID: reservationID,
		Quantity:      o.Quantity,
		Seats:         strings.Join(o.Seats, ","),
		Total:         o.Total,
		Status:        o.Status,
		PNR:           o.PNR,
		Message:       o.Message,
		UpdatedAt:     time.Now().UTC(),
	}
	res, err := s.Bun.NewUpdate().
		Model(rec).
		Column("quantity", "seats", "total", "status", "pnr", "message", "updated_at").
		Where("reservation_id = ?", reservationID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update purchase attempt %s: %w", reservationID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	s.log.LogDatabase("UPDATE", "purchase_attempts", fmt.Sprintf("%s -> %s", reservationID, o.Status))
	return nil
}

func (s *Store) Get(ctx context.Context, reservationID string) (*models.PurchaseRecord, error) {
	var rec models.PurchaseRecord
	err := s.Bun.NewSelect().
		Model(&rec).
		Where("reservation_id = ?", reservationID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRecent returns the newest attempts first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]models.PurchaseRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var recs []models.PurchaseRecord
	err := s.Bun.NewSelect().
		Model(&recs).
		Order("created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func (s *Store) Close() error {
	return s.Bun.Close()
}
