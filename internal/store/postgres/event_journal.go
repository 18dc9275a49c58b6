package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/obligo/bondengine/internal/domain"
)

// EventJournal implements domain.EventJournal using PostgreSQL.
type EventJournal struct {
	pool *pgxpool.Pool
}

// NewEventJournal creates a new EventJournal.
func NewEventJournal(pool *pgxpool.Pool) *EventJournal {
	return &EventJournal{pool: pool}
}

// Append records one lifecycle event.
func (j *EventJournal) Append(ctx context.Context, ev domain.Event) error {
	detail, err := json.Marshal(ev.Detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal event detail %s: %w", ev.ID, err)
	}
	const query = `
		INSERT INTO bond_events (id, event_type, bond, actor, detail, block, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = j.pool.Exec(ctx, query,
		ev.ID, string(ev.Type), ev.Bond.Hex(), ev.Actor.Hex(), detail, int64(ev.Block), ev.At,
	)
	if err != nil {
		return fmt.Errorf("postgres: append event %s: %w", ev.ID, err)
	}
	return nil
}

// List returns events in recording order, newest first.
func (j *EventJournal) List(ctx context.Context, opts domain.ListOpts) ([]domain.Event, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	const query = `
		SELECT id, event_type, bond, actor, detail, block, occurred_at
		FROM bond_events ORDER BY occurred_at DESC LIMIT $1 OFFSET $2`
	return j.queryEvents(ctx, query, limit, opts.Offset)
}

// ListBefore returns events that occurred strictly before the cutoff,
// oldest first, for archival.
func (j *EventJournal) ListBefore(ctx context.Context, before time.Time) ([]domain.Event, error) {
	const query = `
		SELECT id, event_type, bond, actor, detail, block, occurred_at
		FROM bond_events WHERE occurred_at < $1 ORDER BY occurred_at`
	return j.queryEvents(ctx, query, before)
}

// DeleteBefore prunes events that occurred strictly before the cutoff.
func (j *EventJournal) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := j.pool.Exec(ctx, "DELETE FROM bond_events WHERE occurred_at < $1", before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete events before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func (j *EventJournal) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := j.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query events: %w", err)
	}
	defer rows.Close()

	var list []domain.Event
	for rows.Next() {
		var (
			ev         domain.Event
			id         uuid.UUID
			eventType  string
			bondHex    string
			actorHex   string
			detailJSON []byte
			block      int64
		)
		if err := rows.Scan(&id, &eventType, &bondHex, &actorHex, &detailJSON, &block, &ev.At); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		ev.ID = id
		ev.Type = domain.EventType(eventType)
		ev.Bond = common.HexToAddress(bondHex)
		ev.Actor = common.HexToAddress(actorHex)
		ev.Block = uint64(block)
		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &ev.Detail); err != nil {
				return nil, fmt.Errorf("postgres: decode event detail: %w", err)
			}
		}
		list = append(list, ev)
	}
	return list, rows.Err()
}

// Compile-time interface check.
var _ domain.EventJournal = (*EventJournal)(nil)
