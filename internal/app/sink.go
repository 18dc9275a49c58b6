package app

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/obligo/bondengine/internal/domain"
)

// LogSink writes every lifecycle event to the structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With(slog.String("component", "events"))}
}

// Emit logs the event at info level.
func (s *LogSink) Emit(ev domain.Event) {
	s.logger.Info("lifecycle event",
		slog.String("id", ev.ID.String()),
		slog.String("type", string(ev.Type)),
		slog.String("bond", ev.Bond.Hex()),
		slog.String("actor", ev.Actor.Hex()),
		slog.Uint64("block", ev.Block),
		slog.Any("detail", ev.Detail),
	)
}

// MultiSink fans one event out to several sinks in order.
type MultiSink []domain.EventSink

// Emit delivers the event to every sink.
func (m MultiSink) Emit(ev domain.Event) {
	for _, s := range m {
		s.Emit(ev)
	}
}

// Relay decouples the synchronous engine from slow delivery targets. Emit
// enqueues onto a buffered channel and never blocks; a single Run goroutine
// drains the channel and forwards each event to the journal and the bus.
// When the buffer is full the event is dropped with a warning rather than
// stalling a lifecycle operation.
type Relay struct {
	ch      chan domain.Event
	journal domain.EventJournal
	bus     domain.EventBus
	channel string
	stream  string
	logger  *slog.Logger
}

// NewRelay creates a Relay. Either journal or bus may be nil; delivery to a
// nil target is skipped.
func NewRelay(journal domain.EventJournal, bus domain.EventBus, channel, stream string, logger *slog.Logger) *Relay {
	return &Relay{
		ch:      make(chan domain.Event, 256),
		journal: journal,
		bus:     bus,
		channel: channel,
		stream:  stream,
		logger:  logger.With(slog.String("component", "relay")),
	}
}

// Emit enqueues the event for asynchronous delivery.
func (r *Relay) Emit(ev domain.Event) {
	select {
	case r.ch <- ev:
	default:
		r.logger.Warn("relay buffer full, dropping event",
			slog.String("type", string(ev.Type)),
			slog.String("bond", ev.Bond.Hex()),
		)
	}
}

// Run drains the relay until the context is cancelled. Any events still
// buffered at cancellation are delivered before returning.
func (r *Relay) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return ctx.Err()
		case ev := <-r.ch:
			r.deliver(ctx, ev)
		}
	}
}

// drain flushes buffered events with a background context so shutdown does
// not lose the tail of the stream.
func (r *Relay) drain() {
	for {
		select {
		case ev := <-r.ch:
			r.deliver(context.Background(), ev)
		default:
			return
		}
	}
}

// deliver forwards one event to the journal and the bus. Delivery failures
// are logged, never propagated; the engine has already committed.
func (r *Relay) deliver(ctx context.Context, ev domain.Event) {
	if r.journal != nil {
		if err := r.journal.Append(ctx, ev); err != nil {
			r.logger.Error("journal append failed",
				slog.String("id", ev.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	if r.bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error("event marshal failed", slog.String("error", err.Error()))
		return
	}
	if r.channel != "" {
		if err := r.bus.Publish(ctx, r.channel, payload); err != nil {
			r.logger.Error("bus publish failed", slog.String("error", err.Error()))
		}
	}
	if r.stream != "" {
		if err := r.bus.StreamAppend(ctx, r.stream, payload); err != nil {
			r.logger.Error("stream append failed", slog.String("error", err.Error()))
		}
	}
}

var (
	_ domain.EventSink = (*LogSink)(nil)
	_ domain.EventSink = (MultiSink)(nil)
	_ domain.EventSink = (*Relay)(nil)
)
