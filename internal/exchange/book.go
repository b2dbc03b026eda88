package exchange

import (
	"github.com/google/btree"

	"github.com/efreitasn/bourse/internal/trader"
)

// Side distinguishes buy orders from sell orders.
type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// Order is a limit order resting on the book. Quantity is the remaining
// unfilled amount; Price is the limit (maximum for a buy, minimum for a
// sell). The order holds one reference on its trader from post until
// removal. While resting, its economic cost stays encumbered on the
// trader's account: quantity×price of balance for a buy, quantity of
// inventory for a sell.
type Order struct {
	ID       uint32
	Side     Side
	Quantity uint32
	Price    uint32
	Trader   *trader.Trader
}

// buyLess orders the buy side best-first: price descending, then order
// id ascending, so Min() is the highest-priced earliest buy.
func buyLess(a, b *Order) bool {
	if a.Price != b.Price {
		return a.Price > b.Price
	}
	return a.ID < b.ID
}

// sellLess orders the sell side best-first: price ascending, then order
// id ascending, so Min() is the lowest-priced earliest sell.
func sellLess(a, b *Order) bool {
	if a.Price != b.Price {
		return a.Price < b.Price
	}
	return a.ID < b.ID
}

// book holds both sides of the order book plus an id index for O(log n)
// cancel. It has no lock of its own: the exchange lock covers every
// access. Matching never mutates an order's Price or ID, so resting
// orders keep a stable tree position while their Quantity drains.
type book struct {
	buys  *btree.BTreeG[*Order]
	sells *btree.BTreeG[*Order]
	index map[uint32]*Order
}

func newBook() *book {
	const degree = 32
	return &book{
		buys:  btree.NewG[*Order](degree, buyLess),
		sells: btree.NewG[*Order](degree, sellLess),
		index: make(map[uint32]*Order),
	}
}

func (b *book) insert(o *Order) {
	if o.Side == Buy {
		b.buys.ReplaceOrInsert(o)
	} else {
		b.sells.ReplaceOrInsert(o)
	}
	b.index[o.ID] = o
}

func (b *book) remove(o *Order) {
	delete(b.index, o.ID)
	if o.Side == Buy {
		b.buys.Delete(o)
	} else {
		b.sells.Delete(o)
	}
}

// lookup finds a resting order by id, on either side.
func (b *book) lookup(id uint32) (*Order, bool) {
	o, ok := b.index[id]
	return o, ok
}

// bestBuy returns the highest-priced resting buy.
func (b *book) bestBuy() (*Order, bool) {
	return b.buys.Min()
}

// bestSell returns the lowest-priced resting sell.
func (b *book) bestSell() (*Order, bool) {
	return b.sells.Min()
}

func (b *book) buyCount() int {
	return b.buys.Len()
}

func (b *book) sellCount() int {
	return b.sells.Len()
}
