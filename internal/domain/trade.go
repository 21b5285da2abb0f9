package domain

import "time"

// Trade is an immutable, append-only execution record. Once created it is
// never mutated or deleted.
type Trade struct {
	ID          string
	Timestamp   time.Time
	MarketID    string
	OutcomeID   string
	Side        Side
	Amount      float64 // filled quantity, may be < requested
	Price       float64 // effective fill price, may be worse than the limit
	Fees        float64 // >= 0
	Slippage    float64 // >= 0, cash cost of the adverse price adjustment
	RealizedPnL float64
}

// Notional is the cash value of the fill at the effective price.
func (t Trade) Notional() float64 {
	return t.Amount * t.Price
}
