// Package exchange implements the order book and the matching engine
// for the single traded instrument: posting and canceling encumbered
// limit orders, a dedicated matcher goroutine that pairs the best
// compatible orders, and settlement against the account ledger with
// trade notifications to the sessions involved.
package exchange

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/efreitasn/bourse/internal/account"
	"github.com/efreitasn/bourse/internal/metrics"
	"github.com/efreitasn/bourse/internal/protocol"
	"github.com/efreitasn/bourse/internal/trader"
)

// Sentinel errors for post and cancel.
var (
	ErrInvalidOrder = errors.New("invalid_order")
	ErrUnknownOrder = errors.New("unknown_order")
	ErrNotOwner     = errors.New("order_not_owned")
)

// Exchange is the continuous double auction for the instrument. One
// lock guards the book, the id counter, and the last trade price; the
// matcher holds it for entire passes so every trade, including its
// account mutations and notifications, is atomic from the viewpoint of
// other traders.
type Exchange struct {
	log *zap.Logger
	reg *trader.Registry
	met *metrics.Metrics

	mu     sync.Mutex
	book   *book
	last   uint32 // last trade price, 0 until the first execution
	nextID uint32

	wake chan struct{} // coalescing matcher wakeup
	stop chan struct{}
	done chan struct{}
}

// New creates an exchange with an empty book and starts its matcher
// goroutine. Notifications for trades and cancels are delivered through
// reg. Close stops the matcher and unwinds the book.
func New(reg *trader.Registry, met *metrics.Metrics, log *zap.Logger) *Exchange {
	e := &Exchange{
		log:    log,
		reg:    reg,
		met:    met,
		book:   newBook(),
		nextID: 1,
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go e.matchLoop()
	return e
}

// signal wakes the matcher. The buffered channel coalesces posts that
// arrive while a pass is already pending.
func (e *Exchange) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// PostBuy places a limit buy for the trader, encumbering
// quantity×price from the account balance up front. On success it
// returns the new non-zero order id and wakes the matcher. A zero
// quantity or price fails with ErrInvalidOrder; a balance that cannot
// cover the encumbrance fails with the ledger's error and leaves the
// account untouched.
func (e *Exchange) PostBuy(t *trader.Trader, quantity, price uint32) (uint32, error) {
	if quantity == 0 || price == 0 {
		return 0, ErrInvalidOrder
	}
	if err := t.Account().DebitBalance(quantity * price); err != nil {
		return 0, err
	}

	e.mu.Lock()
	o := &Order{
		ID:       e.nextID,
		Side:     Buy,
		Quantity: quantity,
		Price:    price,
		Trader:   t.Ref("buy order"),
	}
	e.nextID++
	e.book.insert(o)
	e.updateBookGauges()
	e.mu.Unlock()

	e.log.Debug("post buy",
		zap.Uint32("order", o.ID),
		zap.Uint32("quantity", quantity),
		zap.Uint32("price", price),
		zap.String("trader", t.Name()),
	)
	e.met.OrdersPosted.WithLabelValues("buy").Inc()
	e.signal()
	return o.ID, nil
}

// PostSell places a limit sell for the trader, encumbering quantity
// units of inventory up front. Same contract as PostBuy otherwise.
func (e *Exchange) PostSell(t *trader.Trader, quantity, price uint32) (uint32, error) {
	if quantity == 0 || price == 0 {
		return 0, ErrInvalidOrder
	}
	if err := t.Account().DebitInventory(quantity); err != nil {
		return 0, err
	}

	e.mu.Lock()
	o := &Order{
		ID:       e.nextID,
		Side:     Sell,
		Quantity: quantity,
		Price:    price,
		Trader:   t.Ref("sell order"),
	}
	e.nextID++
	e.book.insert(o)
	e.updateBookGauges()
	e.mu.Unlock()

	e.log.Debug("post sell",
		zap.Uint32("order", o.ID),
		zap.Uint32("quantity", quantity),
		zap.Uint32("price", price),
		zap.String("trader", t.Name()),
	)
	e.met.OrdersPosted.WithLabelValues("sell").Inc()
	e.signal()
	return o.ID, nil
}

// Cancel removes the trader's own resting order, returning its residual
// quantity and refunding the full residual encumbrance. Cancelling an
// unknown id fails with ErrUnknownOrder; an order owned by another
// session fails with ErrNotOwner and mutates nothing. The CANCELED
// broadcast goes out after the exchange lock is released.
func (e *Exchange) Cancel(t *trader.Trader, id uint32) (uint32, error) {
	e.mu.Lock()
	o, ok := e.book.lookup(id)
	if !ok {
		e.mu.Unlock()
		return 0, ErrUnknownOrder
	}
	if o.Trader != t {
		e.mu.Unlock()
		return 0, ErrNotOwner
	}

	qty := o.Quantity
	e.book.remove(o)
	if o.Side == Buy {
		t.Account().CreditBalance(qty * o.Price)
	} else {
		t.Account().CreditInventory(qty)
	}
	o.Trader.Unref("cancel")
	e.updateBookGauges()
	side := o.Side
	e.mu.Unlock()

	e.log.Debug("cancel",
		zap.Uint32("order", id),
		zap.Uint32("residual", qty),
		zap.String("trader", t.Name()),
	)
	e.met.OrdersCanceled.Inc()

	notify := protocol.NotifyInfo{Quantity: qty}
	if side == Buy {
		notify.BuyerID = id
	} else {
		notify.SellerID = id
	}
	e.reg.Broadcast(protocol.TypeCanceled, notify.Encode())
	return qty, nil
}

// Status reports the account snapshot together with the top of the book
// and the last trade price. A nil account leaves the balance and
// inventory fields zero.
func (e *Exchange) Status(acct *account.Account) protocol.StatusInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	var info protocol.StatusInfo
	if acct != nil {
		info.Balance, info.Inventory = acct.Status()
	}
	if o, ok := e.book.bestBuy(); ok {
		info.Bid = o.Price
	}
	if o, ok := e.book.bestSell(); ok {
		info.Ask = o.Price
	}
	info.Last = e.last
	return info
}

// Snapshot is a point-in-time view of the book for observability.
type Snapshot struct {
	Bid        uint32 `json:"bid"`
	Ask        uint32 `json:"ask"`
	Last       uint32 `json:"last"`
	BuyOrders  int    `json:"buy_orders"`
	SellOrders int    `json:"sell_orders"`
}

// Snapshot returns the current top of book and resting order counts.
func (e *Exchange) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Snapshot{
		Last:       e.last,
		BuyOrders:  e.book.buyCount(),
		SellOrders: e.book.sellCount(),
	}
	if o, ok := e.book.bestBuy(); ok {
		s.Bid = o.Price
	}
	if o, ok := e.book.bestSell(); ok {
		s.Ask = o.Price
	}
	return s
}

// Close stops the matcher and unwinds the book: every resting order's
// residual encumbrance is returned to its account and its trader
// reference dropped. No notifications are emitted.
func (e *Exchange) Close() {
	close(e.stop)
	<-e.done

	e.mu.Lock()
	defer e.mu.Unlock()

	var rest []*Order
	e.book.buys.Ascend(func(o *Order) bool {
		rest = append(rest, o)
		return true
	})
	e.book.sells.Ascend(func(o *Order) bool {
		rest = append(rest, o)
		return true
	})
	for _, o := range rest {
		if o.Side == Buy {
			o.Trader.Account().CreditBalance(o.Quantity * o.Price)
		} else {
			o.Trader.Account().CreditInventory(o.Quantity)
		}
		e.book.remove(o)
		o.Trader.Unref("exchange close")
	}
	e.updateBookGauges()
	e.log.Info("exchange closed", zap.Int("refunded_orders", len(rest)))
}

func (e *Exchange) matchLoop() {
	defer close(e.done)
	e.log.Debug("matcher started")
	for {
		select {
		case <-e.stop:
			e.log.Debug("matcher stopped")
			return
		case <-e.wake:
		}
		e.matchAll()
	}
}

// matchAll executes trades until no cross remains. The exchange lock is
// held for the whole run, account mutations and notification sends
// included.
func (e *Exchange) matchAll() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for {
		buy, okBuy := e.book.bestBuy()
		sell, okSell := e.book.bestSell()
		if !okBuy || !okSell || buy.Price < sell.Price {
			return
		}

		// Trade price: the last trade price when it falls inside the
		// overlap [sell limit, buy limit], otherwise the nearer
		// endpoint; the midpoint when the exchange has never traded.
		minPrice, maxPrice := sell.Price, buy.Price
		var price uint32
		switch {
		case e.last == 0:
			price = (minPrice + maxPrice) / 2
		case e.last >= minPrice && e.last <= maxPrice:
			price = e.last
		case e.last < minPrice:
			price = minPrice
		default:
			price = maxPrice
		}

		qty := buy.Quantity
		if sell.Quantity < qty {
			qty = sell.Quantity
		}

		buyLimit := buy.Price
		buy.Quantity -= qty
		sell.Quantity -= qty
		e.last = price

		// Settle: the seller is paid at the trade price; the buyer
		// takes delivery and recovers the over-encumbrance between
		// their limit and the trade price.
		sell.Trader.Account().CreditBalance(qty * price)
		buy.Trader.Account().CreditInventory(qty)
		if refund := qty * (buyLimit - price); refund > 0 {
			buy.Trader.Account().CreditBalance(refund)
		}

		if buy.Quantity == 0 {
			e.book.remove(buy)
		}
		if sell.Quantity == 0 {
			e.book.remove(sell)
		}

		e.log.Debug("trade",
			zap.Uint32("buy_order", buy.ID),
			zap.Uint32("sell_order", sell.ID),
			zap.Uint32("quantity", qty),
			zap.Uint32("price", price),
		)
		e.met.TradesTotal.Inc()
		e.met.TradedUnits.Add(float64(qty))
		e.met.LastTradePrice.Set(float64(price))
		e.updateBookGauges()

		notify := protocol.NotifyInfo{
			BuyerID:  buy.ID,
			SellerID: sell.ID,
			Quantity: qty,
			Price:    price,
		}.Encode()
		if err := buy.Trader.Send(protocol.TypeBought, notify); err != nil {
			e.log.Debug("bought notify failed", zap.Uint32("order", buy.ID), zap.Error(err))
		}
		if err := sell.Trader.Send(protocol.TypeSold, notify); err != nil {
			e.log.Debug("sold notify failed", zap.Uint32("order", sell.ID), zap.Error(err))
		}
		e.reg.Broadcast(protocol.TypeTraded, notify)

		// Filled orders release their trader references only after the
		// notifications above went out on live sessions.
		if buy.Quantity == 0 {
			buy.Trader.Unref("trade complete")
		}
		if sell.Quantity == 0 {
			sell.Trader.Unref("trade complete")
		}
	}
}

// updateBookGauges refreshes the resting order gauges. Caller holds the
// exchange lock.
func (e *Exchange) updateBookGauges() {
	e.met.RestingOrders.WithLabelValues("buy").Set(float64(e.book.buyCount()))
	e.met.RestingOrders.WithLabelValues("sell").Set(float64(e.book.sellCount()))
}
