package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"microchallenges/internal/storage"

	sq "github.com/Masterminds/squirrel"
)

var deliveryColumns = []string{
	"id", "outcome", "path", "payload", "payload_sha256", "payload_size",
	"content_type", "remote_addr", "created_at",
}

// BaseStorage provides common SQL storage implementations
type BaseStorage struct {
	db        *sql.DB
	dialect   SQLDialect
	tableName string
	// Use squirrel's placeholder format based on dialect
	builder sq.StatementBuilderType
}

// NewBaseStorage creates a new BaseStorage
func NewBaseStorage(db *sql.DB, dialect SQLDialect, tableName string) *BaseStorage {
	var builder sq.StatementBuilderType
	if dialect.PlaceholderFormat() == "?" {
		builder = sq.StatementBuilder.PlaceholderFormat(sq.Question)
	} else {
		builder = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}

	return &BaseStorage{
		db:        db,
		dialect:   dialect,
		tableName: tableName,
		builder:   builder,
	}
}

// StoreDelivery inserts d. Storing an ID that already exists returns
// storage.ErrDuplicateKey and leaves the existing row untouched.
func (s *BaseStorage) StoreDelivery(ctx context.Context, d *storage.Delivery) error {
	exists, err := s.exists(ctx, d.ID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("delivery %s: %w", d.ID, storage.ErrDuplicateKey)
	}

	var payload any
	if len(d.Payload) > 0 {
		payload = string(d.Payload)
	}

	_, err = s.builder.Insert(s.tableName).
		Columns(deliveryColumns...).
		Values(
			d.ID,
			d.Outcome,
			d.Path,
			payload,
			d.PayloadSHA256,
			d.PayloadSize,
			d.ContentType,
			d.RemoteAddr,
			d.CreatedAt.UTC(),
		).
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		// A concurrent insert of the same ID loses on the primary key.
		if exists, existsErr := s.exists(ctx, d.ID); existsErr == nil && exists {
			return fmt.Errorf("delivery %s: %w", d.ID, storage.ErrDuplicateKey)
		}
		return fmt.Errorf("inserting delivery: %w", err)
	}
	return nil
}

func (s *BaseStorage) exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.builder.Select("1").
		From(s.tableName).
		Where(sq.Eq{"id": id}).
		RunWith(s.db).
		QueryRowContext(ctx).
		Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking delivery existence: %w", err)
	}
	return true, nil
}

// GetDelivery returns a single delivery by ID
func (s *BaseStorage) GetDelivery(ctx context.Context, id string) (*storage.Delivery, error) {
	row := s.builder.
		Select(deliveryColumns...).
		From(s.tableName).
		Where(sq.Eq{"id": id}).
		Limit(1).
		RunWith(s.db).
		QueryRowContext(ctx)

	d, err := scanDelivery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning delivery: %w", err)
	}
	return d, nil
}

// ListDeliveries lists deliveries newest first, with the total number of
// matches ignoring Limit and Offset.
func (s *BaseStorage) ListDeliveries(ctx context.Context, opts storage.QueryOptions) ([]*storage.Delivery, int, error) {
	total, err := s.CountDeliveries(ctx, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("getting total count: %w", err)
	}

	query := s.builder.Select(deliveryColumns...).From(s.tableName)
	query = s.addQueryConditions(query, opts)
	query = query.OrderBy("created_at DESC", "id")

	if opts.Limit > 0 {
		query = query.Limit(clampUint(opts.Limit))
	}
	if opts.Offset > 0 {
		if opts.Limit <= 0 {
			// Some dialects reject OFFSET without LIMIT.
			query = query.Limit(math.MaxInt32)
		}
		query = query.Offset(clampUint(opts.Offset))
	}

	rows, err := query.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("querying deliveries: %w", err)
	}
	defer rows.Close()

	deliveries := []*storage.Delivery{}
	for rows.Next() {
		d, scanErr := scanDelivery(rows)
		if scanErr != nil {
			return nil, 0, fmt.Errorf("scanning delivery: %w", scanErr)
		}
		deliveries = append(deliveries, d)
	}

	return deliveries, total, rows.Err()
}

// CountDeliveries returns the total number of deliveries matching the given options
func (s *BaseStorage) CountDeliveries(ctx context.Context, opts storage.QueryOptions) (int, error) {
	query := s.builder.Select("COUNT(*)").From(s.tableName)
	query = s.addQueryConditions(query, opts)

	var count int
	err := query.RunWith(s.db).QueryRowContext(ctx).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting deliveries: %w", err)
	}

	return count, nil
}

// GetStats returns delivery counts per outcome
func (s *BaseStorage) GetStats(ctx context.Context, since time.Time) (map[string]int64, error) {
	query := s.builder.
		Select("outcome", "COUNT(*) AS count").
		From(s.tableName).
		GroupBy("outcome")

	if !since.IsZero() {
		query = query.Where(sq.GtOrEq{"created_at": since.UTC()})
	}

	rows, err := query.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int64)
	for rows.Next() {
		var (
			outcome string
			count   int64
		)
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("scanning stats: %w", err)
		}
		stats[outcome] = count
	}

	return stats, rows.Err()
}

// addQueryConditions adds WHERE conditions based on query options
func (s *BaseStorage) addQueryConditions(query sq.SelectBuilder, opts storage.QueryOptions) sq.SelectBuilder {
	if len(opts.Outcomes) > 0 {
		query = query.Where(sq.Eq{"outcome": opts.Outcomes})
	}
	if !opts.Since.IsZero() {
		query = query.Where(sq.GtOrEq{"created_at": opts.Since.UTC()})
	}
	if !opts.Until.IsZero() {
		query = query.Where(sq.LtOrEq{"created_at": opts.Until.UTC()})
	}
	if opts.Path != "" {
		query = query.Where(sq.Eq{"path": opts.Path})
	}
	if opts.RemoteAddr != "" {
		query = query.Where(sq.Eq{"remote_addr": opts.RemoteAddr})
	}
	return query
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDelivery(row rowScanner) (*storage.Delivery, error) {
	var (
		d       storage.Delivery
		payload []byte
	)
	err := row.Scan(
		&d.ID,
		&d.Outcome,
		&d.Path,
		&payload,
		&d.PayloadSHA256,
		&d.PayloadSize,
		&d.ContentType,
		&d.RemoteAddr,
		&d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		d.Payload = payload
	}
	d.CreatedAt = d.CreatedAt.UTC()
	return &d, nil
}

func clampUint(v int) uint64 {
	if v < 0 {
		return 0
	}
	//nolint:gosec // v is non-negative
	return uint64(v)
}
