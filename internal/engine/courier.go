package engine

import (
	"log/slog"
	"sync"

	"github.com/talgya/tradecycle/internal/market"
	"github.com/talgya/tradecycle/internal/resource"
)

// Delivery is the outcome of one dispatched match.
type Delivery struct {
	Match   market.Match
	Step    int
	Receipt market.Receipt
	Goods   []*resource.Quantity // Nil unless accepted
}

// restocker takes back goods a receiver refused.
type restocker interface {
	Restock(goods []*resource.Quantity) error
}

// Courier is the Dispatcher that moves goods for every match: it takes the
// matched amount from the supplier and hands it to the requester. Refused
// deliveries are logged and counted, never retried. Parties that hold
// amounts back for the refused match are told to release them.
type Courier struct {
	rec  Recorder
	step func() int

	// OnDelivery is called for every match after the handover attempt.
	OnDelivery func(d Delivery)

	mu         sync.Mutex
	delivered  uint64
	rejections map[market.Receipt]uint64
}

// NewCourier creates a courier that stamps deliveries with step() and
// records accepted ones in rec. A nil rec records nothing.
func NewCourier(rec Recorder, step func() int) *Courier {
	return &Courier{
		rec:        rec,
		step:       step,
		rejections: make(map[market.Receipt]uint64),
	}
}

// Notify delivers m. Engines call it from resolve workers, possibly for
// several commodities at once.
func (c *Courier) Notify(m market.Match) {
	step := 0
	if c.step != nil {
		step = c.step()
	}
	d := Delivery{Match: m, Step: step}
	d.Receipt, d.Goods = c.handover(m)

	c.mu.Lock()
	if d.Receipt == market.Accepted {
		c.delivered++
	} else {
		c.rejections[d.Receipt]++
	}
	hook := c.OnDelivery
	c.mu.Unlock()

	if d.Receipt == market.Accepted && c.rec != nil {
		c.rec.RecordTransaction(m.Supplier().ID(), m.Requester().ID(), m.Commodity, step, d.Goods)
		c.rec.RecordMatch(m, step)
	}
	if hook != nil {
		hook(d)
	}
}

func (c *Courier) handover(m market.Match) (market.Receipt, []*resource.Quantity) {
	sup, ok := m.Supplier().(market.Supplier)
	if !ok {
		slog.Warn("delivery rejected: supplier cannot hand over goods", "commodity", m.Commodity, "match", m.Seq)
		release(m, m.Supplier(), m.Requester())
		return market.RejectedWrongParty, nil
	}
	rcv, ok := m.Requester().(market.Receiver)
	if !ok {
		slog.Warn("delivery rejected: requester cannot take delivery", "commodity", m.Commodity, "match", m.Seq)
		release(m, m.Supplier(), m.Requester())
		return market.RejectedWrongParty, nil
	}

	goods, r := sup.RemoveResource(m)
	if r != market.Accepted {
		slog.Warn("delivery rejected by supplier",
			"commodity", m.Commodity,
			"match", m.Seq,
			"supplier", sup.Name(),
			"receipt", r,
		)
		release(m, sup, rcv)
		return r, nil
	}

	if r = rcv.AddResource(m, goods); r != market.Accepted {
		slog.Warn("delivery rejected by requester",
			"commodity", m.Commodity,
			"match", m.Seq,
			"requester", rcv.Name(),
			"receipt", r,
		)
		if rs, ok := sup.(restocker); ok {
			if err := rs.Restock(goods); err != nil {
				slog.Error("refused goods lost", "commodity", m.Commodity, "match", m.Seq, "amount", resource.Sum(goods), "error", err)
			}
		}
		// The supplier already settled its side when it handed the goods over.
		release(m, rcv)
		return r, nil
	}
	return market.Accepted, goods
}

func release(m market.Match, parties ...market.Party) {
	for _, p := range parties {
		if rl, ok := p.(market.Releaser); ok {
			rl.Release(m)
		}
	}
}

// Delivered returns the number of accepted deliveries.
func (c *Courier) Delivered() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delivered
}

// Rejected returns the number of refused deliveries.
func (c *Courier) Rejected() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n uint64
	for _, v := range c.rejections {
		n += v
	}
	return n
}

// Rejections returns refused deliveries by receipt.
func (c *Courier) Rejections() map[market.Receipt]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[market.Receipt]uint64, len(c.rejections))
	for k, v := range c.rejections {
		out[k] = v
	}
	return out
}
