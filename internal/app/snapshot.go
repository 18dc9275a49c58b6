package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/obligo/bondengine/internal/domain"
	"github.com/obligo/bondengine/internal/registry"
	"github.com/obligo/bondengine/internal/vault"
)

// Snapshotter serializes the engine's lifecycle state to object storage.
// Snapshots are observability artifacts; the engine never reads them back.
type Snapshotter struct {
	writer   domain.BlobWriter
	registry *registry.Registry
	vault    *vault.Vault
	clock    domain.Clock
	logger   *slog.Logger
}

// NewSnapshotter creates a Snapshotter.
func NewSnapshotter(writer domain.BlobWriter, reg *registry.Registry, vlt *vault.Vault, clock domain.Clock, logger *slog.Logger) *Snapshotter {
	return &Snapshotter{
		writer:   writer,
		registry: reg,
		vault:    vlt,
		clock:    clock,
		logger:   logger.With(slog.String("component", "snapshot")),
	}
}

type bondSnapshot struct {
	Address        string `json:"address"`
	Symbol         string `json:"symbol"`
	ISIN           string `json:"isin"`
	Administrator  string `json:"administrator"`
	TotalUnits     uint64 `json:"total_units"`
	PurchasedUnits uint64 `json:"purchased_units"`
	RedeemedUnits  uint64 `json:"redeemed_units"`
	MaturityPeriod uint64 `json:"maturity_period"`
	Settled        bool   `json:"settled"`
}

type stateSnapshot struct {
	Block       uint64         `json:"block"`
	At          time.Time      `json:"at"`
	Registry    string         `json:"registry"`
	Vault       string         `json:"vault"`
	Paused      bool           `json:"paused"`
	Issued      uint64         `json:"issued"`
	IssuanceFee uint64         `json:"issuance_fee"`
	Bonds       []bondSnapshot `json:"bonds"`
}

// Snapshot uploads the current engine state as one JSON object keyed by
// block height.
func (s *Snapshotter) Snapshot(ctx context.Context) error {
	block := s.clock.BlockNumber()
	doc := stateSnapshot{
		Block:       block,
		At:          s.clock.Now(),
		Registry:    s.registry.Address().Hex(),
		Vault:       s.vault.Address().Hex(),
		Paused:      s.registry.Paused(),
		Issued:      s.registry.Issued(),
		IssuanceFee: s.vault.IssuanceFee(),
	}
	for _, b := range s.registry.Bonds() {
		terms := b.Terms()
		doc.Bonds = append(doc.Bonds, bondSnapshot{
			Address:        b.Address().Hex(),
			Symbol:         terms.Symbol,
			ISIN:           terms.ISIN,
			Administrator:  b.Administrator().Hex(),
			TotalUnits:     b.TotalUnits(),
			PurchasedUnits: b.PurchasedUnits(),
			RedeemedUnits:  b.RedeemedUnits(),
			MaturityPeriod: b.MaturityPeriod(),
			Settled:        b.Settled(),
		})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("app: marshal snapshot: %w", err)
	}

	path := fmt.Sprintf("snapshots/state-%012d.json", block)
	if err := s.writer.Put(ctx, path, data, "application/json"); err != nil {
		return fmt.Errorf("app: upload snapshot: %w", err)
	}

	s.logger.InfoContext(ctx, "state snapshot written",
		slog.String("path", path),
		slog.Uint64("block", block),
		slog.Int("bonds", len(doc.Bonds)),
	)
	return nil
}
