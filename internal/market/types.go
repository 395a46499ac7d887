package market

import "time"

// OrderStatus is the canonical order state. Every venue status string maps
// onto exactly one of these values.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusExpired         OrderStatus = "expired"
)

// OrderSide identifies the direction of an order or trade.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderType identifies the execution style of an order.
type OrderType string

const (
	TypeLimit  OrderType = "limit"
	TypeMarket OrderType = "market"
)

// Ticker is a venue-agnostic price snapshot for one symbol.
type Ticker struct {
	Venue     string  `json:"venue"`
	Symbol    string  `json:"symbol"`
	Last      float64 `json:"last"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Volume    float64 `json:"volume"`
	Change    float64 `json:"change"`
	Timestamp int64   `json:"timestamp"`
}

// BookLevel is one price level of an order book side.
type BookLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// OrderBook holds bid/ask levels sorted best-first: bids descending by
// price, asks ascending.
type OrderBook struct {
	Venue     string      `json:"venue"`
	Symbol    string      `json:"symbol"`
	Bids      []BookLevel `json:"bids"`
	Asks      []BookLevel `json:"asks"`
	Timestamp int64       `json:"timestamp"`
}

// Candle is one OHLCV bar.
type Candle struct {
	Venue     string  `json:"venue"`
	Symbol    string  `json:"symbol"`
	Timeframe string  `json:"timeframe"`
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Closed    bool    `json:"closed"`
}

// Trade is one executed public trade.
type Trade struct {
	Venue     string    `json:"venue"`
	Symbol    string    `json:"symbol"`
	ID        string    `json:"id"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	Side      OrderSide `json:"side"`
	Timestamp int64     `json:"timestamp"`
}

// OrderRequest describes an order to be placed on a venue.
type OrderRequest struct {
	Symbol   string    `json:"symbol"`
	Side     OrderSide `json:"side"`
	Type     OrderType `json:"type"`
	Quantity float64   `json:"quantity"`
	Price    float64   `json:"price,omitempty"`
}

// OrderResponse is the canonical view of an order as reported by a venue.
type OrderResponse struct {
	Venue      string      `json:"venue"`
	Symbol     string      `json:"symbol"`
	ID         string      `json:"id"`
	ClientID   string      `json:"client_id,omitempty"`
	Side       OrderSide   `json:"side"`
	Type       OrderType   `json:"type"`
	Quantity   float64     `json:"quantity"`
	FilledQty  float64     `json:"filled_qty"`
	Price      float64     `json:"price"`
	Status     OrderStatus `json:"status"`
	Timestamp  int64       `json:"timestamp"`
}

// Balance is the canonical per-asset account balance.
type Balance struct {
	Asset     string  `json:"asset"`
	Free      float64 `json:"free"`
	Locked    float64 `json:"locked"`
}

// Position is the canonical open position view. Spot venues report holdings
// as positions with zero leverage.
type Position struct {
	Venue      string  `json:"venue"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Quantity   float64 `json:"quantity"`
	EntryPrice float64 `json:"entry_price"`
	MarkPrice  float64 `json:"mark_price"`
	Leverage   float64 `json:"leverage"`
}

// SymbolInfo describes one tradable symbol on a venue.
type SymbolInfo struct {
	Symbol     string `json:"symbol"`
	BaseAsset  string `json:"base_asset"`
	QuoteAsset string `json:"quote_asset"`
	Status     string `json:"status"`
}

// Stats is a point-in-time activity snapshot for one venue client.
type Stats struct {
	Venue          string    `json:"venue"`
	State          string    `json:"state"`
	Requests       int64     `json:"requests"`
	StreamMessages int64     `json:"stream_messages"`
	Reconnects     int64     `json:"reconnects"`
	Subscriptions  int       `json:"subscriptions"`
	LastError      string    `json:"last_error,omitempty"`
	ConnectedAt    time.Time `json:"connected_at,omitempty"`
}
