// Package history keeps the client-side settlement audit trail in
// Postgres. Writes are best-effort from the pipeline; the marketplace UI
// reads the trail back for the user's activity view.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mintmesh/wallet_layer/internal/settlement"
)

// Record is one row of the settlements table.
type Record struct {
	ID             string    `db:"id" json:"id"`
	Outcome        string    `db:"outcome" json:"outcome"`
	ErrorKind      string    `db:"error_kind" json:"error_kind,omitempty"`
	Reference      string    `db:"reference" json:"reference,omitempty"`
	BuyerAccount   string    `db:"buyer_account" json:"buyer_account"`
	SellerAccount  string    `db:"seller_account" json:"seller_account"`
	CreatorAccount string    `db:"creator_account" json:"creator_account,omitempty"`
	AssetRef       string    `db:"asset_ref" json:"asset_ref"`
	Price          int64     `db:"price" json:"price"`
	SellerAmount   int64     `db:"seller_amount" json:"seller_amount"`
	PlatformFee    int64     `db:"platform_fee" json:"platform_fee"`
	CreatorRoyalty int64     `db:"creator_royalty" json:"creator_royalty"`
	CompletedAt    time.Time `db:"completed_at" json:"completed_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS settlements (
	id              UUID PRIMARY KEY,
	outcome         TEXT NOT NULL,
	error_kind      TEXT NOT NULL DEFAULT '',
	reference       TEXT NOT NULL DEFAULT '',
	buyer_account   TEXT NOT NULL,
	seller_account  TEXT NOT NULL,
	creator_account TEXT NOT NULL DEFAULT '',
	asset_ref       TEXT NOT NULL,
	price           BIGINT NOT NULL,
	seller_amount   BIGINT NOT NULL,
	platform_fee    BIGINT NOT NULL,
	creator_royalty BIGINT NOT NULL,
	completed_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_settlements_completed_at ON settlements (completed_at DESC);
CREATE INDEX IF NOT EXISTS idx_settlements_buyer ON settlements (buyer_account);
`

const insertQuery = `
INSERT INTO settlements (
	id, outcome, error_kind, reference,
	buyer_account, seller_account, creator_account, asset_ref,
	price, seller_amount, platform_fee, creator_royalty, completed_at
) VALUES (
	:id, :outcome, :error_kind, :reference,
	:buyer_account, :seller_account, :creator_account, :asset_ref,
	:price, :seller_amount, :platform_fee, :creator_royalty, :completed_at
)`

// Store persists settlement records.
type Store struct {
	db *sqlx.DB
}

// NewStore wraps an open database handle.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the settlements table when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate settlements table: %w", err)
	}
	return nil
}

// RecordSettlement stores one terminal pipeline result.
func (s *Store) RecordSettlement(ctx context.Context, req settlement.PurchaseRequest, res settlement.Result) error {
	rec := Record{
		ID:             res.ID,
		Outcome:        string(res.Outcome),
		ErrorKind:      string(res.ErrorKind),
		Reference:      res.Reference,
		BuyerAccount:   req.BuyerAccount,
		SellerAccount:  req.SellerAccount,
		CreatorAccount: req.CreatorAccount,
		AssetRef:       req.AssetRef,
		Price:          req.Price,
		SellerAmount:   res.Breakdown.SellerAmount,
		PlatformFee:    res.Breakdown.PlatformFee,
		CreatorRoyalty: res.Breakdown.CreatorRoyalty,
		CompletedAt:    res.CompletedAt,
	}

	if _, err := s.db.NamedExecContext(ctx, insertQuery, rec); err != nil {
		return fmt.Errorf("insert settlement record: %w", err)
	}
	return nil
}

// Recent returns the latest records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}

	var out []Record
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM settlements ORDER BY completed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("select settlement records: %w", err)
	}
	return out, nil
}
