package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// EventType names a lifecycle event emitted by the engine.
type EventType string

const (
	EventBondIssued        EventType = "bond_issued"
	EventUnitsPurchased    EventType = "units_purchased"
	EventUnitsRedeemed     EventType = "units_redeemed"
	EventBondSettled       EventType = "bond_settled"
	EventSupplyUpdated     EventType = "supply_updated"
	EventMaturityDecreased EventType = "maturity_decreased"
	EventExcessWithdrawn   EventType = "excess_withdrawn"
	EventAdminTransferred  EventType = "admin_transferred"
	EventReferralRecorded  EventType = "referral_recorded"
	EventReferralClaimed   EventType = "referral_claimed"
	EventFeesWithdrawn     EventType = "fees_withdrawn"
	EventFeeLedgerChanged  EventType = "fee_ledger_changed"
	EventRegistryPaused    EventType = "registry_paused"
)

// Event is one lifecycle event. Detail carries operation-specific fields
// (quantities, amounts, batch indexes) for off-chain tooling.
type Event struct {
	ID     uuid.UUID
	Type   EventType
	Bond   common.Address
	Actor  common.Address
	Detail map[string]any
	Block  uint64
	At     time.Time
}

// EventSink receives engine events synchronously. Implementations must not
// fail and must not call back into the engine; slow delivery belongs in an
// adapter behind a buffered channel.
type EventSink interface {
	Emit(ev Event)
}

// ListOpts provides pagination for journal queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// EventJournal is the append-only persistent record of lifecycle events.
type EventJournal interface {
	Append(ctx context.Context, ev Event) error
	List(ctx context.Context, opts ListOpts) ([]Event, error)
	// ListBefore returns events recorded strictly before the cutoff, for
	// archival.
	ListBefore(ctx context.Context, before time.Time) ([]Event, error)
	// DeleteBefore prunes events recorded strictly before the cutoff,
	// returning the number removed. Callers archive first.
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// EventBus fans events out to live subscribers.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// BlobWriter stores opaque objects, keyed by path.
type BlobWriter interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
}
