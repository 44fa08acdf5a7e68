package persistence

import (
	"context"
	"fmt"
)

// Resources returns simID's resources ordered by ID.
func (db *DB) Resources(ctx context.Context, simID string) ([]ResourceRow, error) {
	var out []ResourceRow
	err := db.conn.SelectContext(ctx, &out,
		`SELECT ID, TimeCreated, Quantity, Commodity, Units, Parent1, Parent2
		FROM Resources WHERE SimID = ? ORDER BY ID`, simID)
	if err != nil {
		return nil, fmt.Errorf("select resources: %w", err)
	}
	return out, nil
}

// Creators returns simID's resource originators.
func (db *DB) Creators(ctx context.Context, simID string) ([]CreatorRow, error) {
	var out []CreatorRow
	err := db.conn.SelectContext(ctx, &out,
		"SELECT ResID, AgentID FROM ResCreators WHERE SimID = ? ORDER BY ResID", simID)
	if err != nil {
		return nil, fmt.Errorf("select creators: %w", err)
	}
	return out, nil
}

// Transactions returns simID's transactions ordered by ID.
func (db *DB) Transactions(ctx context.Context, simID string) ([]TransactionRow, error) {
	var out []TransactionRow
	err := db.conn.SelectContext(ctx, &out,
		`SELECT ID, SenderID, ReceiverID, Commodity, Time
		FROM Transactions WHERE SimID = ? ORDER BY ID`, simID)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	return out, nil
}

// Transacted returns the resources moved by simID's transactions.
func (db *DB) Transacted(ctx context.Context, simID string) ([]TransactedRow, error) {
	var out []TransactedRow
	err := db.conn.SelectContext(ctx, &out,
		`SELECT TransactionID, Position, ResourceID, Quantity
		FROM TransactedResources WHERE SimID = ? ORDER BY TransactionID, Position`, simID)
	if err != nil {
		return nil, fmt.Errorf("select transacted resources: %w", err)
	}
	return out, nil
}

// Agents returns simID's agents ordered by ID.
func (db *DB) Agents(ctx context.Context, simID string) ([]AgentRow, error) {
	var out []AgentRow
	err := db.conn.SelectContext(ctx, &out,
		`SELECT ID, Kind, Name, Prototype, ParentID, EnterTime
		FROM Agents WHERE SimID = ? ORDER BY ID`, simID)
	if err != nil {
		return nil, fmt.Errorf("select agents: %w", err)
	}
	return out, nil
}
