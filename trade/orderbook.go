// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package trade

import (
	"errors"
	"sort"
	"time"

	"github.com/holiman/uint256"

	"github.com/blinklabs-io/enledger/chain"
	"github.com/blinklabs-io/enledger/fixed"
	"github.com/blinklabs-io/enledger/types"
)

var (
	ErrPriceBelowMinimum = errors.New("price below minimum listing price")
	ErrOrderNotFound     = errors.New("order not found")
	ErrOrderInactive     = errors.New("order is not active")
	ErrExceedsRemaining  = errors.New("kWh exceeds order remaining")
	ErrMaxEnToExceeded   = errors.New("cost exceeds maximum EnTo in")
	ErrSelfTrade         = errors.New("seller cannot fill own order")
	ErrNotSeller         = errors.New("only the seller may cancel")
)

// Order offers surplus kWh at a fixed price in kWh per whole EnTo
type Order struct {
	Price18      *uint256.Int
	CreatedAt    time.Time
	Seller       types.Address
	ID           uint64
	KWhTotal     uint64
	KWhRemaining uint64
	Active       bool
}

// Order returns an order by id
func (t *Trade) Order(id uint64) (Order, bool) {
	o, ok := t.orders[id]
	if !ok {
		return Order{}, false
	}
	return o.clone(), true
}

// ActiveOrders returns open orders in listing order
func (t *Trade) ActiveOrders() []Order {
	ret := make([]Order, 0, len(t.orders))
	for _, o := range t.orders {
		if o.Active {
			ret = append(ret, o.clone())
		}
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].ID < ret[j].ID })
	return ret
}

// OrderCost is floor(kWh × 10^18 / price18)
func OrderCost(kWh uint64, price18 *uint256.Int) (*uint256.Int, error) {
	if price18 == nil || price18.IsZero() {
		return nil, fixed.ErrDivisionByZero
	}
	return fixed.MulDiv(uint256.NewInt(kWh), fixed.One(), price18)
}

// ListSurplus offers kWh at price18, which must clear the reference price by
// the minimum premium
func (t *Trade) ListSurplus(tx *chain.Tx, kWh uint64, price18 *uint256.Int) (Order, error) {
	const op = "trade.list_surplus"
	seller := tx.Sender()
	if kWh == 0 || price18 == nil || price18.IsZero() {
		return Order{}, types.NewError(types.KindValidation, op, ErrZeroAmount)
	}
	minPrice, err := t.MinListingPrice18()
	if err != nil {
		return Order{}, types.NewError(types.KindState, op, err)
	}
	if price18.Lt(minPrice) {
		return Order{}, types.Errorf(
			types.KindValidation,
			op,
			"%w: %s < %s",
			ErrPriceBelowMinimum,
			price18.ToBig().String(),
			minPrice.ToBig().String(),
		)
	}
	o := Order{
		ID:           t.nextOrderID,
		Seller:       seller,
		KWhTotal:     kWh,
		KWhRemaining: kWh,
		Price18:      price18.Clone(),
		CreatedAt:    tx.Time(),
		Active:       true,
	}
	t.orders[o.ID] = o
	t.nextOrderID++
	tx.OnRevert(func() {
		delete(t.orders, o.ID)
		t.nextOrderID--
	})
	tx.Emit(OrderListedEventType, OrderListedEvent{
		OrderID: o.ID,
		Seller:  seller,
		KWh:     kWh,
		Price18: price18.Clone(),
	})
	if t.metrics != nil {
		tx.OnCommit(func() { t.metrics.ordersListed.Inc() })
	}
	t.observe(tx)
	return o.clone(), nil
}

// BuyFromOrder fills kWhWanted of an order, paying the seller directly. The
// sender must have approved the trade component for the cost.
func (t *Trade) BuyFromOrder(
	tx *chain.Tx,
	orderID uint64,
	kWhWanted uint64,
	maxEnToIn *uint256.Int,
) (*uint256.Int, error) {
	const op = "trade.buy_from_order"
	buyer := tx.Sender()
	o, ok := t.orders[orderID]
	if !ok {
		return nil, types.NewError(types.KindState, op, ErrOrderNotFound)
	}
	if !o.Active {
		return nil, types.NewError(types.KindState, op, ErrOrderInactive)
	}
	if buyer == o.Seller {
		return nil, types.NewError(types.KindValidation, op, ErrSelfTrade)
	}
	if kWhWanted == 0 {
		return nil, types.NewError(types.KindValidation, op, ErrZeroAmount)
	}
	if kWhWanted > o.KWhRemaining {
		return nil, types.Errorf(
			types.KindValidation,
			op,
			"%w: %d > %d",
			ErrExceedsRemaining,
			kWhWanted,
			o.KWhRemaining,
		)
	}
	cost, err := OrderCost(kWhWanted, o.Price18)
	if err != nil {
		return nil, types.NewError(types.KindValidation, op, err)
	}
	if cost.IsZero() {
		return nil, types.NewError(types.KindValidation, op, ErrZeroAmount)
	}
	if maxEnToIn != nil && cost.Gt(maxEnToIn) {
		return nil, types.NewError(types.KindValidation, op, ErrMaxEnToExceeded)
	}
	if err := t.ledger.TransferFrom(tx.As(t.config.Address), buyer, o.Seller, cost); err != nil {
		return nil, err
	}
	prev := o
	o.KWhRemaining -= kWhWanted
	o.Active = o.KWhRemaining > 0
	t.orders[orderID] = o
	tx.OnRevert(func() { t.orders[orderID] = prev })
	t.addPosition(tx, buyer, o.Seller, kWhWanted)
	tx.Emit(OrderFilledEventType, OrderFilledEvent{
		OrderID:      orderID,
		Buyer:        buyer,
		Seller:       o.Seller,
		KWh:          kWhWanted,
		EnToPaid:     cost.Clone(),
		KWhRemaining: o.KWhRemaining,
	})
	if t.metrics != nil {
		tx.OnCommit(func() {
			t.metrics.orderFills.Inc()
			t.metrics.kWhTraded.WithLabelValues("orderbook").Add(float64(kWhWanted))
		})
	}
	t.observe(tx)
	return cost, nil
}

// CancelOrder withdraws the remainder of an order (seller only)
func (t *Trade) CancelOrder(tx *chain.Tx, orderID uint64) error {
	const op = "trade.cancel_order"
	o, ok := t.orders[orderID]
	if !ok {
		return types.NewError(types.KindState, op, ErrOrderNotFound)
	}
	if o.Seller != tx.Sender() {
		return types.NewError(types.KindAuthorization, op, ErrNotSeller)
	}
	if !o.Active {
		return types.NewError(types.KindState, op, ErrOrderInactive)
	}
	prev := o
	o.Active = false
	t.orders[orderID] = o
	tx.OnRevert(func() { t.orders[orderID] = prev })
	tx.Emit(OrderCancelledEventType, OrderCancelledEvent{
		OrderID:      orderID,
		Seller:       o.Seller,
		KWhRemaining: o.KWhRemaining,
	})
	t.observe(tx)
	return nil
}

func (o Order) clone() Order {
	o.Price18 = fixed.Clone(o.Price18)
	return o
}
