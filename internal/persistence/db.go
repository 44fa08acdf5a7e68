// Package persistence provides the SQLite output database a simulation
// writes its agents, resources, transactions and matches to.
package persistence

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// DB wraps a SQLite connection to an output database.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer; the recorder and post-processor never race on the file.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn exposes the connection to post-processors that add their own tables.
func (db *DB) Conn() *sqlx.DB {
	return db.conn
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS SimulationTimeInfo (
		SimID TEXT PRIMARY KEY,
		Scenario TEXT NOT NULL,
		SimulationStart INTEGER NOT NULL,
		Duration INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS Agents (
		SimID TEXT NOT NULL,
		ID INTEGER NOT NULL,
		Kind TEXT NOT NULL,
		Name TEXT NOT NULL,
		Prototype TEXT NOT NULL,
		ParentID INTEGER NOT NULL,
		EnterTime INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS Resources (
		SimID TEXT NOT NULL,
		ID INTEGER NOT NULL,
		TimeCreated INTEGER NOT NULL,
		Quantity TEXT NOT NULL,
		Commodity TEXT NOT NULL,
		Units TEXT NOT NULL,
		Parent1 INTEGER NOT NULL,
		Parent2 INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ResCreators (
		SimID TEXT NOT NULL,
		ResID INTEGER NOT NULL,
		AgentID INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS Transactions (
		SimID TEXT NOT NULL,
		ID INTEGER NOT NULL,
		SenderID INTEGER NOT NULL,
		ReceiverID INTEGER NOT NULL,
		Commodity TEXT NOT NULL,
		Time INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS TransactedResources (
		SimID TEXT NOT NULL,
		TransactionID INTEGER NOT NULL,
		Position INTEGER NOT NULL,
		ResourceID INTEGER NOT NULL,
		Quantity TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS Matches (
		SimID TEXT NOT NULL,
		Seq INTEGER NOT NULL,
		Commodity TEXT NOT NULL,
		OfferID TEXT NOT NULL,
		RequestID TEXT NOT NULL,
		SupplierID INTEGER NOT NULL,
		RequesterID INTEGER NOT NULL,
		Quantity TEXT NOT NULL,
		Time INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS run_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_matches_commodity ON Matches(SimID, Commodity);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SaveSimulation records a simulation's identity and time span.
func (db *DB) SaveSimulation(simID, scenario string, start, duration int) error {
	_, err := db.conn.Exec(
		`INSERT OR REPLACE INTO SimulationTimeInfo (SimID, Scenario, SimulationStart, Duration)
		VALUES (?, ?, ?, ?)`,
		simID, scenario, start, duration,
	)
	return err
}

// SimInfo is one row of SimulationTimeInfo.
type SimInfo struct {
	SimID    string `db:"SimID"`
	Scenario string `db:"Scenario"`
	Start    int    `db:"SimulationStart"`
	Duration int    `db:"Duration"`
}

// Simulations lists every simulation in the database.
func (db *DB) Simulations(ctx context.Context) ([]SimInfo, error) {
	var out []SimInfo
	err := db.conn.SelectContext(ctx, &out,
		"SELECT SimID, Scenario, SimulationStart, Duration FROM SimulationTimeInfo ORDER BY SimID")
	return out, err
}

// SaveMeta stores a key-value pair in run metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO run_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM run_meta WHERE key = ?", key)
	return value, err
}

// CommoditySummary aggregates one commodity's recorded trade.
type CommoditySummary struct {
	Commodity string          `json:"commodity"`
	Matches   int64           `json:"matches"`
	Volume    decimal.Decimal `json:"volume"`
}

// Summary returns matched trade per commodity for simID. Volume is summed in
// Go so decimal quantities stay exact.
func (db *DB) Summary(ctx context.Context, simID string) ([]CommoditySummary, error) {
	var rows []struct {
		Commodity string          `db:"Commodity"`
		Quantity  decimal.Decimal `db:"Quantity"`
	}
	err := db.conn.SelectContext(ctx, &rows,
		"SELECT Commodity, Quantity FROM Matches WHERE SimID = ? ORDER BY Commodity, Seq", simID)
	if err != nil {
		return nil, fmt.Errorf("select matches: %w", err)
	}

	var out []CommoditySummary
	for _, r := range rows {
		if len(out) == 0 || out[len(out)-1].Commodity != r.Commodity {
			out = append(out, CommoditySummary{Commodity: r.Commodity, Volume: decimal.Zero})
		}
		last := &out[len(out)-1]
		last.Matches++
		last.Volume = last.Volume.Add(r.Quantity)
	}
	return out, nil
}

// Count returns the number of rows simID has in table. Table names are not
// parameters, so only the output tables are accepted.
func (db *DB) Count(ctx context.Context, table, simID string) (int64, error) {
	switch table {
	case "Agents", "Resources", "ResCreators", "Transactions", "TransactedResources", "Matches", "Inventories":
	default:
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var n int64
	err := db.conn.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+table+" WHERE SimID = ?", simID)
	return n, err
}
