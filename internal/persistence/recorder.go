package persistence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/talgya/tradecycle/internal/agents"
	"github.com/talgya/tradecycle/internal/market"
	"github.com/talgya/tradecycle/internal/resource"
)

// AgentRow is one row of Agents.
type AgentRow struct {
	ID        uint64 `db:"ID"`
	Kind      string `db:"Kind"`
	Name      string `db:"Name"`
	Prototype string `db:"Prototype"`
	ParentID  uint64 `db:"ParentID"`
	EnterTime int    `db:"EnterTime"`
}

// ResourceRow is one row of Resources.
type ResourceRow struct {
	ID          uint64          `db:"ID"`
	TimeCreated int             `db:"TimeCreated"`
	Quantity    decimal.Decimal `db:"Quantity"`
	Commodity   string          `db:"Commodity"`
	Units       string          `db:"Units"`
	Parent1     uint64          `db:"Parent1"`
	Parent2     uint64          `db:"Parent2"`
}

// CreatorRow is one row of ResCreators.
type CreatorRow struct {
	ResID   uint64 `db:"ResID"`
	AgentID uint64 `db:"AgentID"`
}

// TransactionRow is one row of Transactions.
type TransactionRow struct {
	ID         uint64 `db:"ID"`
	SenderID   uint64 `db:"SenderID"`
	ReceiverID uint64 `db:"ReceiverID"`
	Commodity  string `db:"Commodity"`
	Time       int    `db:"Time"`
}

// TransactedRow is one row of TransactedResources.
type TransactedRow struct {
	TransactionID uint64          `db:"TransactionID"`
	Position      int             `db:"Position"`
	ResourceID    uint64          `db:"ResourceID"`
	Quantity      decimal.Decimal `db:"Quantity"`
}

// MatchRow is one row of Matches.
type MatchRow struct {
	Seq         uint64          `db:"Seq"`
	Commodity   string          `db:"Commodity"`
	OfferID     string          `db:"OfferID"`
	RequestID   string          `db:"RequestID"`
	SupplierID  uint64          `db:"SupplierID"`
	RequesterID uint64          `db:"RequesterID"`
	Quantity    decimal.Decimal `db:"Quantity"`
	Time        int             `db:"Time"`
}

type batch struct {
	agents     []AgentRow
	resources  []ResourceRow
	creators   []CreatorRow
	txs        []TransactionRow
	transacted []TransactedRow
	matches    []MatchRow
}

func (b *batch) empty() bool {
	return len(b.agents)+len(b.resources)+len(b.creators)+len(b.txs)+len(b.transacted)+len(b.matches) == 0
}

// Recorder buffers one simulation's output rows and writes them on Flush.
// It issues resource IDs, so it is also the simulation's resource tracker.
// All methods are safe for concurrent use.
type Recorder struct {
	db    *DB
	simID string

	mu      sync.Mutex
	step    int
	nextRes uint64
	nextTx  uint64
	pending batch
	flushed int64 // Rows written so far
}

// NewRecorder creates a recorder writing rows tagged with simID.
func NewRecorder(db *DB, simID string) *Recorder {
	return &Recorder{db: db, simID: simID}
}

// SimID returns the simulation the recorder writes for.
func (r *Recorder) SimID() string { return r.simID }

// SetStep sets the time stamped on rows that carry no explicit step.
func (r *Recorder) SetStep(step int) {
	r.mu.Lock()
	r.step = step
	r.mu.Unlock()
}

// Track issues the next resource ID and buffers q's Resources row.
func (r *Recorder) Track(q *resource.Quantity) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextRes++
	q.Created = r.step
	r.pending.resources = append(r.pending.resources, ResourceRow{
		ID:          r.nextRes,
		TimeCreated: r.step,
		Quantity:    q.Amount(),
		Commodity:   q.Commodity(),
		Units:       q.Units(),
		Parent1:     q.Parent1,
		Parent2:     q.Parent2,
	})
	return r.nextRes
}

// Created records agentID as the originator of resID.
func (r *Recorder) Created(resID, agentID uint64) {
	r.mu.Lock()
	r.pending.creators = append(r.pending.creators, CreatorRow{ResID: resID, AgentID: agentID})
	r.mu.Unlock()
}

// RecordAgent buffers a deployed agent.
func (r *Recorder) RecordAgent(p agents.Participant) {
	r.mu.Lock()
	r.pending.agents = append(r.pending.agents, AgentRow{
		ID:        p.ID(),
		Kind:      p.Role().String(),
		Name:      p.Name(),
		Prototype: p.Prototype(),
		ParentID:  p.ParentID(),
		EnterTime: p.EnterStep(),
	})
	r.mu.Unlock()
}

// RecordTransaction buffers a delivery of goods from sender to receiver.
func (r *Recorder) RecordTransaction(sender, receiver uint64, commodity string, step int, goods []*resource.Quantity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextTx++
	r.pending.txs = append(r.pending.txs, TransactionRow{
		ID:         r.nextTx,
		SenderID:   sender,
		ReceiverID: receiver,
		Commodity:  commodity,
		Time:       step,
	})
	for i, q := range goods {
		r.pending.transacted = append(r.pending.transacted, TransactedRow{
			TransactionID: r.nextTx,
			Position:      i,
			ResourceID:    q.ID,
			Quantity:      q.Amount(),
		})
	}
}

// RecordMatch buffers a delivered match.
func (r *Recorder) RecordMatch(m market.Match, step int) {
	row := MatchRow{
		Seq:       m.Seq,
		Commodity: m.Commodity,
		Quantity:  m.Amount(),
		Time:      step,
	}
	if m.Offer != nil {
		row.OfferID = m.Offer.ID.String()
	}
	if m.Request != nil {
		row.RequestID = m.Request.ID.String()
	}
	if p := m.Supplier(); p != nil {
		row.SupplierID = p.ID()
	}
	if p := m.Requester(); p != nil {
		row.RequesterID = p.ID()
	}

	r.mu.Lock()
	r.pending.matches = append(r.pending.matches, row)
	r.mu.Unlock()
}

// Flushed returns the number of rows written so far.
func (r *Recorder) Flushed() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushed
}

// Flush writes every buffered row in one transaction. On failure the rows
// are kept and retried by the next Flush.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	b := r.pending
	r.pending = batch{}
	r.mu.Unlock()

	if b.empty() {
		return nil
	}

	n, err := r.write(ctx, &b)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.pending = merge(b, r.pending)
		return err
	}
	r.flushed += n
	slog.Debug("recorder flushed", "sim", r.simID, "rows", n)
	return nil
}

func merge(older, newer batch) batch {
	return batch{
		agents:     append(older.agents, newer.agents...),
		resources:  append(older.resources, newer.resources...),
		creators:   append(older.creators, newer.creators...),
		txs:        append(older.txs, newer.txs...),
		transacted: append(older.transacted, newer.transacted...),
		matches:    append(older.matches, newer.matches...),
	}
}

func (r *Recorder) write(ctx context.Context, b *batch) (int64, error) {
	tx, err := r.db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var n int64
	insert := func(table, query string, rows int, exec func(i int) []any) error {
		if rows == 0 {
			return nil
		}
		stmt, err := tx.PreparexContext(ctx, query)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", table, err)
		}
		defer stmt.Close()
		for i := 0; i < rows; i++ {
			args := append([]any{r.simID}, exec(i)...)
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("insert %s: %w", table, err)
			}
		}
		n += int64(rows)
		return nil
	}

	err = insert("Agents",
		`INSERT INTO Agents (SimID, ID, Kind, Name, Prototype, ParentID, EnterTime) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		len(b.agents), func(i int) []any {
			a := b.agents[i]
			return []any{a.ID, a.Kind, a.Name, a.Prototype, a.ParentID, a.EnterTime}
		})
	if err != nil {
		return 0, err
	}

	err = insert("Resources",
		`INSERT INTO Resources (SimID, ID, TimeCreated, Quantity, Commodity, Units, Parent1, Parent2) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		len(b.resources), func(i int) []any {
			q := b.resources[i]
			return []any{q.ID, q.TimeCreated, q.Quantity, q.Commodity, q.Units, q.Parent1, q.Parent2}
		})
	if err != nil {
		return 0, err
	}

	err = insert("ResCreators",
		`INSERT INTO ResCreators (SimID, ResID, AgentID) VALUES (?, ?, ?)`,
		len(b.creators), func(i int) []any {
			c := b.creators[i]
			return []any{c.ResID, c.AgentID}
		})
	if err != nil {
		return 0, err
	}

	err = insert("Transactions",
		`INSERT INTO Transactions (SimID, ID, SenderID, ReceiverID, Commodity, Time) VALUES (?, ?, ?, ?, ?, ?)`,
		len(b.txs), func(i int) []any {
			t := b.txs[i]
			return []any{t.ID, t.SenderID, t.ReceiverID, t.Commodity, t.Time}
		})
	if err != nil {
		return 0, err
	}

	err = insert("TransactedResources",
		`INSERT INTO TransactedResources (SimID, TransactionID, Position, ResourceID, Quantity) VALUES (?, ?, ?, ?, ?)`,
		len(b.transacted), func(i int) []any {
			t := b.transacted[i]
			return []any{t.TransactionID, t.Position, t.ResourceID, t.Quantity}
		})
	if err != nil {
		return 0, err
	}

	err = insert("Matches",
		`INSERT INTO Matches (SimID, Seq, Commodity, OfferID, RequestID, SupplierID, RequesterID, Quantity, Time) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		len(b.matches), func(i int) []any {
			m := b.matches[i]
			return []any{m.Seq, m.Commodity, m.OfferID, m.RequestID, m.SupplierID, m.RequesterID, m.Quantity, m.Time}
		})
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}
