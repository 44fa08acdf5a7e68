package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/talgya/tradecycle/internal/persistence"
)

// batchSize is how many segments are written per transaction.
const batchSize = 5000

var (
	preIndexes = [][]string{
		{"Resources", "SimID", "ID"},
		{"Resources", "Parent1"},
		{"Resources", "Parent2"},
		{"Transactions", "SimID", "ID"},
		{"Transactions", "Time"},
		{"Transactions", "ReceiverID"},
		{"TransactedResources", "TransactionID"},
		{"TransactedResources", "ResourceID"},
		{"ResCreators", "SimID", "ResID"},
		{"Agents", "Prototype"},
		{"Agents", "ID"},
	}
	postIndexes = [][]string{
		{"Inventories", "SimID", "AgentID"},
		{"Inventories", "SimID", "StartTime"},
		{"Inventories", "SimID", "EndTime"},
	}
)

// Index returns the statement creating an index on table's cols.
func Index(table string, cols ...string) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_%s ON %s (%s);",
		strings.ToLower(table), strings.ToLower(strings.Join(cols, "_")),
		table, strings.Join(cols, ", "))
}

// Prepare creates the Inventories table and the indexes the walk reads with.
func Prepare(ctx context.Context, db *persistence.DB) error {
	conn := db.Conn()
	_, err := conn.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS Inventories (
		SimID TEXT NOT NULL,
		ResID INTEGER NOT NULL,
		AgentID INTEGER NOT NULL,
		StartTime INTEGER NOT NULL,
		EndTime INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create inventories: %w", err)
	}
	for _, idx := range preIndexes {
		if _, err := conn.ExecContext(ctx, Index(idx[0], idx[1:]...)); err != nil {
			return fmt.Errorf("index %s: %w", idx[0], err)
		}
	}
	return nil
}

// Finish indexes the Inventories table.
func Finish(ctx context.Context, db *persistence.DB) error {
	for _, idx := range postIndexes {
		if _, err := db.Conn().ExecContext(ctx, Index(idx[0], idx[1:]...)); err != nil {
			return fmt.Errorf("index %s: %w", idx[0], err)
		}
	}
	return nil
}

// Build rebuilds simID's inventory segments, replacing any written before.
// It returns the number of segments written.
func Build(ctx context.Context, db *persistence.DB, simID string) (int, error) {
	resources, err := db.Resources(ctx, simID)
	if err != nil {
		return 0, err
	}
	creators, err := db.Creators(ctx, simID)
	if err != nil {
		return 0, err
	}
	txs, err := db.Transactions(ctx, simID)
	if err != nil {
		return 0, err
	}
	moved, err := db.Transacted(ctx, simID)
	if err != nil {
		return 0, err
	}

	w := NewWalker(resources, creators, txs, moved)
	slog.Info("walking resource heritage", "sim", simID, "resources", len(resources), "roots", w.Roots())
	segments := w.Walk()

	if _, err := db.Conn().ExecContext(ctx, "DELETE FROM Inventories WHERE SimID = ?", simID); err != nil {
		return 0, fmt.Errorf("clear inventories: %w", err)
	}
	for start := 0; start < len(segments); start += batchSize {
		end := min(start+batchSize, len(segments))
		if err := dump(ctx, db, simID, segments[start:end]); err != nil {
			return start, err
		}
	}
	return len(segments), nil
}

func dump(ctx context.Context, db *persistence.DB, simID string, segments []Segment) error {
	tx, err := db.Conn().BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx,
		"INSERT INTO Inventories (SimID, ResID, AgentID, StartTime, EndTime) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range segments {
		if _, err := stmt.ExecContext(ctx, simID, s.ResID, s.AgentID, s.Start, s.End); err != nil {
			return fmt.Errorf("insert segment for resource %d: %w", s.ResID, err)
		}
	}
	return tx.Commit()
}

// Report is one simulation's inventory rebuild.
type Report struct {
	SimID    string
	Segments int
	Err      error
}

// BuildAll prepares the database, rebuilds every simulation's inventories and
// indexes the result. A failing simulation does not stop the others.
func BuildAll(ctx context.Context, db *persistence.DB) ([]Report, error) {
	if err := Prepare(ctx, db); err != nil {
		return nil, err
	}
	sims, err := db.Simulations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list simulations: %w", err)
	}

	reports := make([]Report, 0, len(sims))
	for _, sim := range sims {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		n, err := Build(ctx, db, sim.SimID)
		if err != nil {
			slog.Error("inventory build failed", "sim", sim.SimID, "error", err)
		}
		reports = append(reports, Report{SimID: sim.SimID, Segments: n, Err: err})
	}

	if err := Finish(ctx, db); err != nil {
		return reports, err
	}
	return reports, nil
}

// Holding is an agent's total of one commodity at a step.
type Holding struct {
	AgentID   uint64          `json:"agent_id"`
	Commodity string          `json:"commodity"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// HoldingsAt sums what every agent held at step, per commodity, from the
// Inventories table.
func HoldingsAt(ctx context.Context, db *persistence.DB, simID string, step int) ([]Holding, error) {
	var rows []struct {
		AgentID   uint64          `db:"AgentID"`
		Commodity string          `db:"Commodity"`
		Quantity  decimal.Decimal `db:"Quantity"`
	}
	err := db.Conn().SelectContext(ctx, &rows, `
		SELECT inv.AgentID, res.Commodity, res.Quantity
		FROM Inventories AS inv
		INNER JOIN Resources AS res ON res.ID = inv.ResID AND res.SimID = inv.SimID
		WHERE inv.SimID = ? AND inv.StartTime <= ? AND inv.EndTime > ?
		ORDER BY inv.AgentID, res.Commodity`,
		simID, step, step)
	if err != nil {
		return nil, fmt.Errorf("select holdings: %w", err)
	}

	var out []Holding
	for _, r := range rows {
		n := len(out)
		if n == 0 || out[n-1].AgentID != r.AgentID || out[n-1].Commodity != r.Commodity {
			out = append(out, Holding{AgentID: r.AgentID, Commodity: r.Commodity, Quantity: decimal.Zero})
			n++
		}
		out[n-1].Quantity = out[n-1].Quantity.Add(r.Quantity)
	}
	return out, nil
}
