// Package models holds the shared domain types exchanged between the gateway
// core, the validation pipeline, and broker adapters.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Exchange identifies a Korean securities exchange.
type Exchange string

const (
	ExchangeKOSPI  Exchange = "KOSPI"
	ExchangeKOSDAQ Exchange = "KOSDAQ"
	ExchangeKONEX  Exchange = "KONEX"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderType enumerates the order types the gateway understands. Brokers
// advertise the subset they support through Capabilities.
type OrderType string

const (
	TypeLimit            OrderType = "limit"
	TypeMarket           OrderType = "market"
	TypeConditionalLimit OrderType = "conditional_limit"
	TypeBestLimit        OrderType = "best_limit"
	TypeStopLimit        OrderType = "stop_limit"
)

// TimeInForce controls order lifetime on the exchange.
type TimeInForce string

const (
	TIFDay TimeInForce = "DAY"
	TIFIOC TimeInForce = "IOC"
	TIFFOK TimeInForce = "FOK"
)

// OrderStatus is the order lifecycle state.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusConfirmed OrderStatus = "confirmed"
	StatusPartial   OrderStatus = "partially_filled"
	StatusFilled    OrderStatus = "filled"
	StatusCancelled OrderStatus = "cancelled"
	StatusRejected  OrderStatus = "rejected"
	StatusExpired   OrderStatus = "expired"
)

// orderTransitions is the permitted lifecycle graph. Terminal states have no
// outgoing edges.
var orderTransitions = map[OrderStatus][]OrderStatus{
	StatusPending:   {StatusConfirmed, StatusRejected, StatusCancelled},
	StatusConfirmed: {StatusPartial, StatusFilled, StatusCancelled, StatusExpired},
	StatusPartial:   {StatusPartial, StatusFilled, StatusCancelled, StatusExpired},
}

// CanTransition reports whether moving from s to next is a legal lifecycle step.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	_, ok := orderTransitions[s]
	return !ok
}

// Order represents an order in the gateway. Mutated only by confirmed broker
// responses or cancellation.
type Order struct {
	ID          uuid.UUID       `json:"id" validate:"required"`
	Symbol      string          `json:"symbol" validate:"required"`
	Exchange    Exchange        `json:"exchange" validate:"required"`
	Side        OrderSide       `json:"side" validate:"required,oneof=buy sell"`
	Type        OrderType       `json:"type" validate:"required"`
	Quantity    int64           `json:"quantity" validate:"required,gt=0"`
	Price       decimal.Decimal `json:"price"`
	StopPrice   decimal.Decimal `json:"stop_price"`
	TimeInForce TimeInForce     `json:"time_in_force" validate:"required,oneof=DAY IOC FOK"`
	Status      OrderStatus     `json:"status"`

	FilledQuantity int64           `json:"filled_quantity"`
	AvgFillPrice   decimal.Decimal `json:"avg_fill_price"`
	BrokerOrderID  string          `json:"broker_order_id,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	FilledAt  *time.Time `json:"filled_at,omitempty"`
}

// NewOrder builds a pending order with a fresh id.
func NewOrder(symbol string, exchange Exchange, side OrderSide, typ OrderType, qty int64, price decimal.Decimal, tif TimeInForce) *Order {
	now := time.Now()
	return &Order{
		ID:          uuid.New(),
		Symbol:      symbol,
		Exchange:    exchange,
		Side:        side,
		Type:        typ,
		Quantity:    qty,
		Price:       price,
		TimeInForce: tif,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Quote is a level-1 market data snapshot.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Exchange  Exchange        `json:"exchange"`
	Price     decimal.Decimal `json:"price"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	PrevClose decimal.Decimal `json:"prev_close"`
	Volume    int64           `json:"volume"`
	BidPrice  decimal.Decimal `json:"bid_price"`
	AskPrice  decimal.Decimal `json:"ask_price"`
	Timestamp time.Time       `json:"timestamp"`
}

// OrderBookLevel is one price level of depth.
type OrderBookLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
}

// OrderBook is a depth snapshot, bids descending, asks ascending.
type OrderBook struct {
	Symbol    string           `json:"symbol"`
	Exchange  Exchange         `json:"exchange"`
	Bids      []OrderBookLevel `json:"bids"`
	Asks      []OrderBookLevel `json:"asks"`
	Timestamp time.Time        `json:"timestamp"`
}

// Candle is one historical OHLCV bar.
type Candle struct {
	Symbol   string          `json:"symbol"`
	Interval string          `json:"interval"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Volume   int64           `json:"volume"`
	OpenTime time.Time       `json:"open_time"`
}

// Position is a holding in one symbol.
type Position struct {
	Symbol       string          `json:"symbol"`
	Exchange     Exchange        `json:"exchange"`
	Quantity     int64           `json:"quantity"`
	AvgCost      decimal.Decimal `json:"avg_cost"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Balance is an account cash snapshot.
type Balance struct {
	Currency  string          `json:"currency"`
	Cash      decimal.Decimal `json:"cash"`
	Available decimal.Decimal `json:"available"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// RateLimits describes broker-imposed request budgets.
type RateLimits struct {
	OrdersPerSecond  float64 `json:"orders_per_second"`
	QueriesPerSecond float64 `json:"queries_per_second"`
	Burst            int     `json:"burst"`
}

// Capabilities is the fixed descriptor a broker adapter advertises at
// registration time.
type Capabilities struct {
	Exchanges        []Exchange  `json:"exchanges"`
	OrderTypes       []OrderType `json:"order_types"`
	RealtimeData     bool        `json:"realtime_data"`
	HistoricalData   bool        `json:"historical_data"`
	OrderModify      bool        `json:"order_modify"`
	RateLimits       RateLimits  `json:"rate_limits"`
}

// SupportsExchange reports whether the adapter trades on ex.
func (c Capabilities) SupportsExchange(ex Exchange) bool {
	for _, e := range c.Exchanges {
		if e == ex {
			return true
		}
	}
	return false
}

// SupportsOrderType reports whether the adapter accepts orders of type t.
func (c Capabilities) SupportsOrderType(t OrderType) bool {
	for _, ot := range c.OrderTypes {
		if ot == t {
			return true
		}
	}
	return false
}

// InvestorType distinguishes accounts for compliance purposes.
type InvestorType string

const (
	InvestorDomestic InvestorType = "domestic"
	InvestorForeign  InvestorType = "foreign"
)
