package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alphagov/pay-ledger-sub002/common/database"
	"github.com/alphagov/pay-ledger-sub002/internal/models"
	"github.com/alphagov/pay-ledger-sub002/internal/projection"
)

const pgUniqueViolation = "23505"

// PoolConfig tunes the pgx connection pool.
type PoolConfig struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultPoolConfig returns the pool settings used when none are configured.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConns:        25,
		MinConns:        5,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: time.Minute,
	}
}

// PostgresRepository implements Store on PostgreSQL.
type PostgresRepository struct {
	pool     *pgxpool.Pool
	timeouts database.Timeouts
}

// NewPostgresRepository connects to PostgreSQL and verifies the connection.
func NewPostgresRepository(ctx context.Context, connString string, poolCfg PoolConfig, timeouts database.Timeouts) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if poolCfg.MaxConns > 0 {
		config.MaxConns = poolCfg.MaxConns
	}
	if poolCfg.MinConns > 0 {
		config.MinConns = poolCfg.MinConns
	}
	if poolCfg.MaxConnLifetime > 0 {
		config.MaxConnLifetime = poolCfg.MaxConnLifetime
	}
	if poolCfg.MaxConnIdleTime > 0 {
		config.MaxConnIdleTime = poolCfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := timeouts.QueryContext(ctx)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool, timeouts: timeouts}, nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	ctx, cancel := r.timeouts.QueryContext(ctx)
	defer cancel()
	if err := r.pool.Ping(ctx); err != nil {
		return storeError("ping", err)
	}
	return nil
}

func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// InsertIfNew relies on the unique delivery_id constraint; a conflicting
// insert returns no row and is reported as Duplicate.
func (r *PostgresRepository) InsertIfNew(ctx context.Context, e *models.Event) (InsertResult, error) {
	ctx, cancel := r.timeouts.WriteContext(ctx)
	defer cancel()

	query := `
		INSERT INTO events (
			delivery_id, resource_type, resource_external_id, parent_resource_external_id,
			event_type, event_date, event_data, service_id, live
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (delivery_id) DO NOTHING
		RETURNING id
	`

	data := e.EventData
	if data == nil {
		data = map[string]any{}
	}

	var id int64
	err := r.pool.QueryRow(ctx, query,
		e.DeliveryID, string(e.ResourceType), e.ResourceExternalID, nullIfEmpty(e.ParentResourceExternalID),
		e.EventType, e.EventDate, data, nullIfEmpty(e.ServiceID), e.Live,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Duplicate, nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return Duplicate, nil
		}
		return 0, storeError("insert event", err)
	}

	e.ID = id
	return Inserted, nil
}

func (r *PostgresRepository) EventsFor(ctx context.Context, resourceExternalID string) ([]*models.Event, error) {
	ctx, cancel := r.timeouts.QueryContext(ctx)
	defer cancel()

	query := `
		SELECT id, delivery_id, resource_type, resource_external_id, parent_resource_external_id,
		       event_type, event_date, event_data, service_id, live
		FROM events
		WHERE resource_external_id = $1
		ORDER BY event_date ASC, id ASC
	`

	rows, err := r.pool.Query(ctx, query, resourceExternalID)
	if err != nil {
		return nil, storeError("load events", err)
	}
	defer rows.Close()

	events := []*models.Event{}
	for rows.Next() {
		var (
			e            models.Event
			resourceType string
			parent       *string
			serviceID    *string
		)
		if err := rows.Scan(
			&e.ID, &e.DeliveryID, &resourceType, &e.ResourceExternalID, &parent,
			&e.EventType, &e.EventDate, &e.EventData, &serviceID, &e.Live,
		); err != nil {
			return nil, storeError("scan event", err)
		}
		e.ResourceType = models.ResourceType(resourceType)
		e.ParentResourceExternalID = deref(parent)
		e.ServiceID = deref(serviceID)
		e.EventDate = e.EventDate.UTC()
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate events", err)
	}
	return events, nil
}

func (r *PostgresRepository) CountEvents(ctx context.Context, resourceExternalID string) (int, error) {
	ctx, cancel := r.timeouts.QueryContext(ctx)
	defer cancel()

	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM events WHERE resource_external_id = $1`, resourceExternalID,
	).Scan(&n)
	if err != nil {
		return 0, storeError("count events", err)
	}
	return n, nil
}

// Upsert is a single statement so the watermark guard and the write are atomic.
func (r *PostgresRepository) Upsert(ctx context.Context, rec *projection.Record) (bool, error) {
	ctx, cancel := r.timeouts.WriteContext(ctx)
	defer cancel()

	query := `
		INSERT INTO projections (
			kind, external_id, parent_external_id, state, gateway_account_id, service_id,
			live, reference, transaction_type, created_date, event_count, details, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (kind, external_id) DO UPDATE SET
			parent_external_id = EXCLUDED.parent_external_id,
			state              = EXCLUDED.state,
			gateway_account_id = EXCLUDED.gateway_account_id,
			service_id         = EXCLUDED.service_id,
			live               = EXCLUDED.live,
			reference          = EXCLUDED.reference,
			transaction_type   = EXCLUDED.transaction_type,
			created_date       = EXCLUDED.created_date,
			event_count        = EXCLUDED.event_count,
			details            = EXCLUDED.details,
			updated_at         = NOW()
		WHERE projections.event_count <= EXCLUDED.event_count
		RETURNING event_count
	`

	var stored int
	err := r.pool.QueryRow(ctx, query,
		string(rec.Kind), rec.ExternalID, nullIfEmpty(rec.ParentExternalID), rec.State,
		nullIfEmpty(rec.GatewayAccountID), nullIfEmpty(rec.ServiceID), rec.Live,
		nullIfEmpty(rec.Reference), nullIfEmpty(rec.TransactionType), rec.CreatedDate,
		rec.EventCount, []byte(rec.Details),
	).Scan(&stored)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, storeError("upsert projection", err)
	}
	return true, nil
}

const projectionColumns = `kind, external_id, parent_external_id, state, gateway_account_id, service_id,
		       live, reference, transaction_type, created_date, event_count, details`

func (r *PostgresRepository) Get(ctx context.Context, kind projection.Kind, externalID string) (*projection.Record, error) {
	ctx, cancel := r.timeouts.QueryContext(ctx)
	defer cancel()

	query := `SELECT ` + projectionColumns + ` FROM projections WHERE kind = $1 AND external_id = $2`

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, string(kind), externalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProjectionNotFound
		}
		return nil, storeError("get projection", err)
	}
	return rec, nil
}

func (r *PostgresRepository) List(ctx context.Context, params Filterable) ([]*projection.Record, int, error) {
	ctx, cancel := r.timeouts.BulkContext(ctx)
	defer cancel()

	clauses, args := params.Filters(2)
	args = append([]any{string(params.Kind())}, args...)
	where := "WHERE " + strings.Join(append([]string{"kind = $1"}, clauses...), " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM projections "+where, args...).Scan(&total); err != nil {
		return nil, 0, storeError("count projections", err)
	}

	limit, offset := params.Paging()
	argPos := len(args) + 1
	query := fmt.Sprintf(`SELECT %s FROM projections %s
		ORDER BY created_date DESC, external_id ASC
		LIMIT $%d OFFSET $%d`, projectionColumns, where, argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, storeError("list projections", err)
	}
	defer rows.Close()

	records := []*projection.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, storeError("scan projection", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storeError("iterate projections", err)
	}
	return records, total, nil
}

func scanRecord(row pgx.Row) (*projection.Record, error) {
	var (
		rec                                                   projection.Record
		kind                                                  string
		parent, account, serviceID, reference, transactionTyp *string
		details                                               []byte
	)
	if err := row.Scan(
		&kind, &rec.ExternalID, &parent, &rec.State, &account, &serviceID,
		&rec.Live, &reference, &transactionTyp, &rec.CreatedDate, &rec.EventCount, &details,
	); err != nil {
		return nil, err
	}
	rec.Kind = projection.Kind(kind)
	rec.ParentExternalID = deref(parent)
	rec.GatewayAccountID = deref(account)
	rec.ServiceID = deref(serviceID)
	rec.Reference = deref(reference)
	rec.TransactionType = deref(transactionTyp)
	rec.CreatedDate = rec.CreatedDate.UTC()
	rec.Details = details
	return &rec, nil
}

// storeError wraps err, tagging connection failures, timeouts and server
// resource errors as ErrStoreUnavailable. Other server errors are wrapped as is.
func storeError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && !transientSQLState(pgErr.Code) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// transientSQLState matches connection exceptions (08), insufficient
// resources (53) and operator intervention such as query_canceled (57).
func transientSQLState(code string) bool {
	return strings.HasPrefix(code, "08") || strings.HasPrefix(code, "53") || strings.HasPrefix(code, "57")
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
