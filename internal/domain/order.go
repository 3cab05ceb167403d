package domain

// OrderSide indicates which outcome pool an order buys into.
type OrderSide string

const (
	OrderSideBuyYes OrderSide = "buy_yes"
	OrderSideBuyNo  OrderSide = "buy_no"
)

// Order is a single buy order inside a batch. Orders are consumed when the
// batch is applied and never mutated afterwards.
type Order struct {
	ID     string
	Side   OrderSide
	Amount Amount // stake added to the side's pool, must be positive
}

// OrderBatch is an ordered sequence of orders from one sender, protected
// against replay by a per-sender monotonic nonce. Orders are applied in
// sequence as a unit: either the whole batch is accepted or none of it is.
type OrderBatch struct {
	Sender string
	Orders []Order
	Nonce  uint64
}

// BatchReceipt reports the result of a successfully applied batch.
type BatchReceipt struct {
	Sender     string
	OrderIDs   []string
	TotalCost  Amount
	PoolYes    Amount
	PoolNo     Amount
	YesOdds    float64
	NoOdds     float64
}
