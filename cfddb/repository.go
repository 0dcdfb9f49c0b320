package cfddb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cfdlabs/cfd-core/cfderr"
	"github.com/cfdlabs/cfd-core/contractcourt"
	"github.com/shopspring/decimal"
)

// InsertOrder persists a newly published or received Offer into the
// orders table (spec §6 schema). Offers are immutable once inserted
// (spec §3 "Offer"); callers never call this twice for the same id.
func (d *DB) InsertOrder(ctx context.Context, offer contractcourt.Offer) error {
	_, err := d.ExecContext(ctx, `
		INSERT INTO orders (
			id, trading_pair, position, price, min_quantity, max_quantity,
			leverage, liquidation_price, created_at, settlement_interval,
			origin, oracle_event_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		offer.ID[:], offer.TradingPair, uint8(offer.Position), offer.Price.String(),
		offer.MinQuantity.String(), offer.MaxQuantity.String(), offer.Leverage,
		offer.LiquidationPrice.String(), offer.CreatedAt.UnixNano(),
		int64(offer.SettlementInterval), uint8(offer.Origin), offer.OracleEventID,
	)
	if err != nil {
		return cfderr.New(cfderr.KindIO, fmt.Errorf("insert order: %w", err))
	}
	return nil
}

// LoadOrder fetches a previously inserted Offer by id.
func (d *DB) LoadOrder(ctx context.Context, id contractcourt.OfferID) (contractcourt.Offer, error) {
	row := d.QueryRowContext(ctx, `
		SELECT trading_pair, position, price, min_quantity, max_quantity,
			leverage, liquidation_price, created_at, settlement_interval,
			origin, oracle_event_id
		FROM orders WHERE id = ?`, id[:])
	return scanOrder(row, id)
}

func scanOrder(row *sql.Row, id contractcourt.OfferID) (contractcourt.Offer, error) {
	var (
		tradingPair                                    string
		position, origin                               uint8
		priceStr, minQtyStr, maxQtyStr, liqPriceStr     string
		createdAtNanos, settlementIntervalNanos         int64
		leverage                                        uint32
		oracleEventID                                   string
	)
	err := row.Scan(&tradingPair, &position, &priceStr, &minQtyStr, &maxQtyStr,
		&leverage, &liqPriceStr, &createdAtNanos, &settlementIntervalNanos, &origin, &oracleEventID)
	if errors.Is(err, sql.ErrNoRows) {
		return contractcourt.Offer{}, cfderr.Newf(cfderr.KindIO, "order %s not found", id)
	}
	if err != nil {
		return contractcourt.Offer{}, cfderr.New(cfderr.KindIO, fmt.Errorf("scan order: %w", err))
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return contractcourt.Offer{}, cfderr.New(cfderr.KindIO, fmt.Errorf("parse price: %w", err))
	}
	minQty, err := decimal.NewFromString(minQtyStr)
	if err != nil {
		return contractcourt.Offer{}, cfderr.New(cfderr.KindIO, fmt.Errorf("parse min quantity: %w", err))
	}
	maxQty, err := decimal.NewFromString(maxQtyStr)
	if err != nil {
		return contractcourt.Offer{}, cfderr.New(cfderr.KindIO, fmt.Errorf("parse max quantity: %w", err))
	}
	liqPrice, err := decimal.NewFromString(liqPriceStr)
	if err != nil {
		return contractcourt.Offer{}, cfderr.New(cfderr.KindIO, fmt.Errorf("parse liquidation price: %w", err))
	}

	return contractcourt.Offer{
		ID:                 id,
		TradingPair:        tradingPair,
		Position:           contractcourt.Position(position),
		Price:              price,
		MinQuantity:        minQty,
		MaxQuantity:        maxQty,
		Leverage:           leverage,
		LiquidationPrice:   liqPrice,
		CreatedAt:          time.Unix(0, createdAtNanos).UTC(),
		SettlementInterval: time.Duration(settlementIntervalNanos),
		Origin:             contractcourt.Origin(origin),
		OracleEventID:      oracleEventID,
	}, nil
}

// InsertContract creates the cfds row and the first cfd_states row for
// a brand-new contract, in a single transaction (spec §4.5 "a contract
// is created by inserting its first state row"). The order must
// already exist via InsertOrder.
func (d *DB) InsertContract(ctx context.Context, offerID contractcourt.OfferID, quantity decimal.Decimal, initial contractcourt.State) error {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return cfderr.New(cfderr.KindIO, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO cfds (order_id, quantity_usd) VALUES (?, ?)`,
		offerID[:], quantity.String()); err != nil {
		return cfderr.New(cfderr.KindIO, fmt.Errorf("insert cfd: %w", err))
	}

	if err := appendStateTx(ctx, tx, offerID, initial); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return cfderr.New(cfderr.KindIO, fmt.Errorf("commit insert contract: %w", err))
	}
	return nil
}

// AppendState records a new state row as the contract's current state
// (spec §4.5 "append-only log; current state is the latest row").
// The row is written in its own transaction, committed before
// AppendState returns, so it is durable before any network or chain
// action the caller takes afterwards (spec §8 "append_state is
// observed before any dependent network or chain action").
func (d *DB) AppendState(ctx context.Context, offerID contractcourt.OfferID, state contractcourt.State) error {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return cfderr.New(cfderr.KindIO, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	if err := appendStateTx(ctx, tx, offerID, state); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return cfderr.New(cfderr.KindIO, fmt.Errorf("commit append state: %w", err))
	}
	return nil
}

func appendStateTx(ctx context.Context, tx *sql.Tx, offerID contractcourt.OfferID, state contractcourt.State) error {
	blob, err := encodeState(state)
	if err != nil {
		return cfderr.New(cfderr.KindIO, fmt.Errorf("encode state: %w", err))
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO cfd_states (cfd_id, state_json, kind, created_at) VALUES (?, ?, ?, ?)`,
		offerID[:], string(blob), string(state.Kind), state.Timestamp.UnixNano())
	if err != nil {
		return cfderr.New(cfderr.KindIO, fmt.Errorf("insert state: %w", err))
	}
	return nil
}

// AppendStateIfCurrentKind appends next only if the contract's current
// state kind still matches expected, inside one transaction, failing
// with KindStateViolation otherwise. This is the enforcement point for
// spec §8's "at most one concurrent accept wins": two concurrent
// TakeOrder acceptances racing to move the same IncomingRequest
// contract to ContractSetup will have one succeed and one observe a
// stale expected kind and fail.
func (d *DB) AppendStateIfCurrentKind(ctx context.Context, offerID contractcourt.OfferID, expected contractcourt.StateKind, next contractcourt.State) error {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return cfderr.New(cfderr.KindIO, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	var currentKind string
	row := tx.QueryRowContext(ctx, `
		SELECT kind FROM cfd_states WHERE cfd_id = ? ORDER BY id DESC LIMIT 1`, offerID[:])
	if err := row.Scan(&currentKind); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return cfderr.Newf(cfderr.KindStateViolation, "contract %s has no state", offerID)
		}
		return cfderr.New(cfderr.KindIO, fmt.Errorf("scan current kind: %w", err))
	}
	if contractcourt.StateKind(currentKind) != expected {
		return cfderr.Newf(cfderr.KindStateViolation,
			"contract %s: expected current kind %s, found %s", offerID, expected, currentKind)
	}

	if err := appendStateTx(ctx, tx, offerID, next); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return cfderr.New(cfderr.KindIO, fmt.Errorf("commit conditional append: %w", err))
	}
	return nil
}

// LoadContract fetches an offer, its quantity, and its current (latest)
// state.
func (d *DB) LoadContract(ctx context.Context, offerID contractcourt.OfferID) (contractcourt.Contract, error) {
	offer, err := d.LoadOrder(ctx, offerID)
	if err != nil {
		return contractcourt.Contract{}, err
	}

	var quantityStr string
	row := d.QueryRowContext(ctx, `SELECT quantity_usd FROM cfds WHERE order_id = ?`, offerID[:])
	if err := row.Scan(&quantityStr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contractcourt.Contract{}, cfderr.Newf(cfderr.KindIO, "cfd %s not found", offerID)
		}
		return contractcourt.Contract{}, cfderr.New(cfderr.KindIO, fmt.Errorf("scan cfd: %w", err))
	}
	quantity, err := decimal.NewFromString(quantityStr)
	if err != nil {
		return contractcourt.Contract{}, cfderr.New(cfderr.KindIO, fmt.Errorf("parse quantity: %w", err))
	}

	var stateBlob string
	row = d.QueryRowContext(ctx, `
		SELECT state_json FROM cfd_states WHERE cfd_id = ? ORDER BY id DESC LIMIT 1`, offerID[:])
	if err := row.Scan(&stateBlob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contractcourt.Contract{}, cfderr.Newf(cfderr.KindIO, "contract %s has no state", offerID)
		}
		return contractcourt.Contract{}, cfderr.New(cfderr.KindIO, fmt.Errorf("scan state: %w", err))
	}
	state, err := decodeState([]byte(stateBlob))
	if err != nil {
		return contractcourt.Contract{}, cfderr.New(cfderr.KindIO, fmt.Errorf("decode state: %w", err))
	}

	return contractcourt.Contract{Offer: offer, Quantity: quantity, Current: state}, nil
}

// LoadContractsByEvent returns every contract whose offer references
// oracleEventID, used by the coordinator to dispatch an attestation to
// every affected contract in one pass (spec §4.6 "deliver an
// attestation to every contract awaiting it").
func (d *DB) LoadContractsByEvent(ctx context.Context, oracleEventID string) ([]contractcourt.Contract, error) {
	rows, err := d.QueryContext(ctx, `SELECT id FROM orders WHERE oracle_event_id = ?`, oracleEventID)
	if err != nil {
		return nil, cfderr.New(cfderr.KindIO, fmt.Errorf("query orders by event: %w", err))
	}
	defer rows.Close()

	var ids []contractcourt.OfferID
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, cfderr.New(cfderr.KindIO, fmt.Errorf("scan order id: %w", err))
		}
		var id contractcourt.OfferID
		copy(id[:], raw)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, cfderr.New(cfderr.KindIO, fmt.Errorf("iterate orders by event: %w", err))
	}

	return d.loadContracts(ctx, ids)
}

// LoadAllContracts returns every contract with at least one state row,
// used at daemon startup to resume in-flight protocols (spec §4.5
// "recovery replays the latest state of every contract").
func (d *DB) LoadAllContracts(ctx context.Context) ([]contractcourt.Contract, error) {
	rows, err := d.QueryContext(ctx, `SELECT order_id FROM cfds`)
	if err != nil {
		return nil, cfderr.New(cfderr.KindIO, fmt.Errorf("query cfds: %w", err))
	}
	defer rows.Close()

	var ids []contractcourt.OfferID
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, cfderr.New(cfderr.KindIO, fmt.Errorf("scan cfd order id: %w", err))
		}
		var id contractcourt.OfferID
		copy(id[:], raw)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, cfderr.New(cfderr.KindIO, fmt.Errorf("iterate cfds: %w", err))
	}

	return d.loadContracts(ctx, ids)
}

func (d *DB) loadContracts(ctx context.Context, ids []contractcourt.OfferID) ([]contractcourt.Contract, error) {
	contracts := make([]contractcourt.Contract, 0, len(ids))
	for _, id := range ids {
		c, err := d.LoadContract(ctx, id)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, c)
	}
	return contracts, nil
}
