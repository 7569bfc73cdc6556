package hft

import (
	"github.com/huandu/skiplist"
)

// queue is one side of the local book: price levels kept sorted in a skip list,
// plus a price index for O(1) lookup of an existing level.
type queue struct {
	side      Side
	depthList *skiplist.SkipList
	priceList map[Price]*skiplist.Element
}

// newBidQueue creates a queue for bids.
// The levels are sorted by price in descending order (highest price first).
func newBidQueue() *queue {
	return &queue{
		side: Buy,
		depthList: skiplist.New(skiplist.GreaterThanFunc(func(lhs, rhs any) int {
			p1, _ := lhs.(Price)
			p2, _ := rhs.(Price)

			if p1 < p2 {
				return 1
			} else if p1 > p2 {
				return -1
			}

			return 0
		})),
		priceList: make(map[Price]*skiplist.Element),
	}
}

// newAskQueue creates a queue for asks.
// The levels are sorted by price in ascending order (lowest price first).
func newAskQueue() *queue {
	return &queue{
		side: Sell,
		depthList: skiplist.New(skiplist.GreaterThanFunc(func(lhs, rhs any) int {
			p1, _ := lhs.(Price)
			p2, _ := rhs.(Price)

			if p1 > p2 {
				return 1
			} else if p1 < p2 {
				return -1
			}

			return 0
		})),
		priceList: make(map[Price]*skiplist.Element),
	}
}

// set upserts the level at price. A zero (or negative) qty removes it.
// It reports whether the book changed.
func (q *queue) set(price Price, qty Qty) bool {
	if qty <= 0 {
		return q.remove(price)
	}

	if el, ok := q.priceList[price]; ok {
		lvl, _ := el.Value.(*Level)
		if lvl.Qty == qty {
			return false
		}
		lvl.Qty = qty
		return true
	}

	el := q.depthList.Set(price, &Level{Price: price, Qty: qty})
	q.priceList[price] = el
	return true
}

// remove deletes the level at price. Removing an absent price is a no-op.
func (q *queue) remove(price Price) bool {
	el, ok := q.priceList[price]
	if !ok {
		return false
	}
	q.depthList.RemoveElement(el)
	delete(q.priceList, price)
	return true
}

// get returns the quantity resting at price.
func (q *queue) get(price Price) (Qty, bool) {
	el, ok := q.priceList[price]
	if !ok {
		return 0, false
	}
	lvl, _ := el.Value.(*Level)
	return lvl.Qty, true
}

// best returns the top level.
func (q *queue) best() (Level, bool) {
	el := q.depthList.Front()
	if el == nil {
		return Level{}, false
	}
	lvl, _ := el.Value.(*Level)
	return *lvl, true
}

// depthCount returns the number of price levels.
func (q *queue) depthCount() int {
	return len(q.priceList)
}

// depth returns up to limit levels from the best price outward. limit <= 0 means all.
func (q *queue) depth(limit int) []Level {
	n := q.depthCount()
	if limit > 0 && limit < n {
		n = limit
	}
	result := make([]Level, 0, n)

	for el := q.depthList.Front(); el != nil && len(result) < n; el = el.Next() {
		lvl, _ := el.Value.(*Level)
		result = append(result, *lvl)
	}

	return result
}

// clear drops every level.
func (q *queue) clear() {
	for price, el := range q.priceList {
		q.depthList.RemoveElement(el)
		delete(q.priceList, price)
	}
}
