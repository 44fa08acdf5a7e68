package persistence

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/tradecycle/internal/agents"
	"github.com/talgya/tradecycle/internal/market"
	"github.com/talgya/tradecycle/internal/resource"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "out.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.db")
	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestMeta(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.SaveMeta("last_step", "4"))
	require.NoError(t, db.SaveMeta("last_step", "5"))

	v, err := db.GetMeta("last_step")
	require.NoError(t, err)
	assert.Equal(t, "5", v)

	_, err = db.GetMeta("missing")
	assert.Error(t, err)
}

func TestSimulations(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.SaveSimulation("b", "dairy", 0, 25))
	require.NoError(t, db.SaveSimulation("a", "dairy", 3, 10))

	sims, err := db.Simulations(context.Background())
	require.NoError(t, err)
	require.Len(t, sims, 2)
	assert.Equal(t, SimInfo{SimID: "a", Scenario: "dairy", Start: 3, Duration: 10}, sims[0])
}

func TestRecorderHeritageAndFlush(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	simID := uuid.NewString()
	rec := NewRecorder(db, simID)
	rec.SetStep(2)

	q, err := resource.Create(d(10), "milk", "kg", rec)
	require.NoError(t, err)
	rec.Created(q.ID, 7)
	taken, rest, err := q.Split(d(4))
	require.NoError(t, err)

	assert.Equal(t, uint64(1), q.ID)
	assert.Equal(t, uint64(2), taken.ID)
	assert.Equal(t, uint64(3), rest.ID)
	assert.Equal(t, 2, taken.Created)

	rec.RecordTransaction(7, 8, "milk", 2, []*resource.Quantity{taken})
	require.NoError(t, rec.Flush(ctx))
	assert.Equal(t, int64(6), rec.Flushed())

	res, err := db.Resources(ctx, simID)
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, uint64(0), res[0].Parent1)
	assert.Equal(t, uint64(1), res[1].Parent1)
	assert.Equal(t, uint64(1), res[2].Parent1)
	assert.True(t, res[1].Quantity.Equal(d(4)))
	assert.True(t, res[2].Quantity.Equal(d(6)))
	assert.Equal(t, "kg", res[0].Units)
	assert.Equal(t, 2, res[0].TimeCreated)

	creators, err := db.Creators(ctx, simID)
	require.NoError(t, err)
	assert.Equal(t, []CreatorRow{{ResID: 1, AgentID: 7}}, creators)

	txs, err := db.Transactions(ctx, simID)
	require.NoError(t, err)
	assert.Equal(t, []TransactionRow{{ID: 1, SenderID: 7, ReceiverID: 8, Commodity: "milk", Time: 2}}, txs)

	moved, err := db.Transacted(ctx, simID)
	require.NoError(t, err)
	require.Len(t, moved, 1)
	assert.Equal(t, uint64(2), moved[0].ResourceID)

	// Nothing buffered, nothing written.
	require.NoError(t, rec.Flush(ctx))
	assert.Equal(t, int64(6), rec.Flushed())
}

func TestRecorderAgentsAndMatches(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	rec := NewRecorder(db, "sim")

	actx := agents.NewContext(market.NewRegistry())
	actx.Tracker = rec
	actx.OnDeploy = rec.RecordAgent
	src := agents.NewSource("milk", "kg", d(5), decimal.Zero)
	src.SetName("farm")
	snk := agents.NewSink("milk", "kg", d(5), decimal.Zero)
	require.NoError(t, src.Deploy(actx, nil))
	require.NoError(t, snk.Deploy(actx, src))

	m := market.Match{
		Seq:       4,
		Commodity: "milk",
		Offer:     market.NewOffer(src, resource.MustNew(d(3), "milk", "kg")),
		Request:   market.NewRequest(snk, resource.MustNew(d(3), "milk", "kg")),
		Quantity:  resource.MustNew(d(3), "milk", "kg"),
	}
	rec.RecordMatch(m, 1)
	require.NoError(t, rec.Flush(ctx))

	rows, err := db.Agents(ctx, "sim")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Source", rows[0].Kind)
	assert.Equal(t, "farm", rows[0].Name)
	assert.Equal(t, uint64(1), rows[1].ParentID)

	sum, err := db.Summary(ctx, "sim")
	require.NoError(t, err)
	require.Len(t, sum, 1)
	assert.Equal(t, int64(1), sum[0].Matches)
	assert.True(t, sum[0].Volume.Equal(d(3)))

	n, err := db.Count(ctx, "Matches", "sim")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = db.Count(ctx, "sqlite_master", "sim")
	assert.Error(t, err)
}

func TestRecorderConcurrentTracking(t *testing.T) {
	rec := NewRecorder(openTestDB(t), "sim")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, err := resource.Create(d(1), "milk", "kg", rec)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	require.NoError(t, rec.Flush(context.Background()))
	assert.Equal(t, int64(400), rec.Flushed())

	res, err := rec.db.Resources(context.Background(), "sim")
	require.NoError(t, err)
	require.Len(t, res, 400)
	assert.Equal(t, uint64(400), res[399].ID)
}
