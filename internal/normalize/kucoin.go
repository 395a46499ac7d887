package normalize

import (
	"encoding/json"
	"strings"

	"cryptogate/internal/market"
)

// KuCoin wire shapes. REST responses arrive wrapped in an envelope with a
// string code; stream payloads are the inner data objects.

type KucoinEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type KucoinStats struct {
	Symbol     string `json:"symbol"`
	Last       string `json:"last"`
	Buy        string `json:"buy"`
	Sell       string `json:"sell"`
	High       string `json:"high"`
	Low        string `json:"low"`
	Vol        string `json:"vol"`
	ChangeRate string `json:"changeRate"`
	Time       int64  `json:"time"`
}

type KucoinDepth struct {
	Sequence string     `json:"sequence"`
	Time     int64      `json:"time"`
	Bids     [][]string `json:"bids"`
	Asks     [][]string `json:"asks"`
}

type KucoinTradeItem struct {
	Sequence string      `json:"sequence"`
	TradeID  string      `json:"tradeId"`
	Price    string      `json:"price"`
	Size     string      `json:"size"`
	Side     string      `json:"side"`
	Time     json.Number `json:"time"`
}

type KucoinOrder struct {
	ID          string `json:"id"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	Price       string `json:"price"`
	Size        string `json:"size"`
	DealSize    string `json:"dealSize"`
	IsActive    bool   `json:"isActive"`
	CancelExist bool   `json:"cancelExist"`
	CreatedAt   int64  `json:"createdAt"`
	ClientOid   string `json:"clientOid"`
}

type KucoinAccount struct {
	Currency  string `json:"currency"`
	Type      string `json:"type"`
	Balance   string `json:"balance"`
	Available string `json:"available"`
	Holds     string `json:"holds"`
}

type KucoinAPIKeyInfo struct {
	APIKey     string `json:"apiKey"`
	Permission string `json:"permission"`
	IPWhite    string `json:"ipWhitelist"`
}

// Stream payloads.

type KucoinWsTicker struct {
	Sequence    string `json:"sequence"`
	Price       string `json:"price"`
	Size        string `json:"size"`
	BestBid     string `json:"bestBid"`
	BestBidSize string `json:"bestBidSize"`
	BestAsk     string `json:"bestAsk"`
	BestAskSize string `json:"bestAskSize"`
	Time        int64  `json:"time"`
}

type KucoinWsDepth struct {
	Bids      [][]string `json:"bids"`
	Asks      [][]string `json:"asks"`
	Timestamp int64      `json:"timestamp"`
}

type KucoinWsMatch struct {
	Symbol  string      `json:"symbol"`
	TradeID string      `json:"tradeId"`
	Price   string      `json:"price"`
	Size    string      `json:"size"`
	Side    string      `json:"side"`
	Time    json.Number `json:"time"`
}

type KucoinWsCandle struct {
	Symbol  string   `json:"symbol"`
	Candles []string `json:"candles"`
	Time    int64    `json:"time"`
}

// kucoinTradeTime converts KuCoin trade timestamps, which arrive in
// nanoseconds, down to milliseconds before the usual normalization.
func kucoinTradeTime(n json.Number) int64 {
	ts := SanitizeNumeric(n)
	if ts > 1e15 {
		ts = ts / 1e6
	}
	return NormalizeTimestamp(ts)
}

// KucoinTicker maps a market-stats REST response to the canonical record.
func KucoinTicker(t *KucoinStats) *market.Ticker {
	return &market.Ticker{
		Venue:     VenueKucoin,
		Symbol:    t.Symbol,
		Last:      SanitizeNumeric(t.Last),
		Bid:       SanitizeNumeric(t.Buy),
		Ask:       SanitizeNumeric(t.Sell),
		High:      SanitizeNumeric(t.High),
		Low:       SanitizeNumeric(t.Low),
		Volume:    SanitizeNumeric(t.Vol),
		Change:    SanitizeNumeric(t.ChangeRate) * 100,
		Timestamp: NormalizeTimestamp(t.Time),
	}
}

// KucoinStreamTicker maps a /market/ticker push to the canonical record.
func KucoinStreamTicker(symbol string, t *KucoinWsTicker) *market.Ticker {
	return &market.Ticker{
		Venue:     VenueKucoin,
		Symbol:    symbol,
		Last:      SanitizeNumeric(t.Price),
		Bid:       SanitizeNumeric(t.BestBid),
		Ask:       SanitizeNumeric(t.BestAsk),
		Volume:    SanitizeNumeric(t.Size),
		Timestamp: NormalizeTimestamp(t.Time),
	}
}

// KucoinOrderBook maps a REST level2 snapshot to the canonical record.
func KucoinOrderBook(symbol string, d *KucoinDepth) *market.OrderBook {
	book := &market.OrderBook{
		Venue:     VenueKucoin,
		Symbol:    symbol,
		Bids:      levels(d.Bids),
		Asks:      levels(d.Asks),
		Timestamp: NormalizeTimestamp(d.Time),
	}
	sortBook(book)
	return book
}

// KucoinStreamOrderBook maps a level2 depth push to the canonical record.
func KucoinStreamOrderBook(symbol string, d *KucoinWsDepth) *market.OrderBook {
	book := &market.OrderBook{
		Venue:     VenueKucoin,
		Symbol:    symbol,
		Bids:      levels(d.Bids),
		Asks:      levels(d.Asks),
		Timestamp: NormalizeTimestamp(d.Timestamp),
	}
	sortBook(book)
	return book
}

// KucoinTradeRecord maps a trade-histories REST row to the canonical record.
func KucoinTradeRecord(symbol string, t *KucoinTradeItem) *market.Trade {
	id := t.TradeID
	if id == "" {
		id = t.Sequence
	}
	return &market.Trade{
		Venue:     VenueKucoin,
		Symbol:    symbol,
		ID:        id,
		Price:     SanitizeNumeric(t.Price),
		Quantity:  SanitizeNumeric(t.Size),
		Side:      market.OrderSide(strings.ToLower(t.Side)),
		Timestamp: kucoinTradeTime(t.Time),
	}
}

// KucoinStreamTrade maps a /market/match push to the canonical record.
func KucoinStreamTrade(t *KucoinWsMatch) *market.Trade {
	return &market.Trade{
		Venue:     VenueKucoin,
		Symbol:    t.Symbol,
		ID:        t.TradeID,
		Price:     SanitizeNumeric(t.Price),
		Quantity:  SanitizeNumeric(t.Size),
		Side:      market.OrderSide(strings.ToLower(t.Side)),
		Timestamp: kucoinTradeTime(t.Time),
	}
}

// KucoinOrderResponse maps a REST order payload to the canonical record.
// KuCoin reports order state through flags rather than one status string.
func KucoinOrderResponse(o *KucoinOrder) *market.OrderResponse {
	status := market.OrderStatusFilled
	dealt := SanitizeNumeric(o.DealSize)
	switch {
	case o.IsActive && dealt > 0:
		status = market.OrderStatusPartiallyFilled
	case o.IsActive:
		status = market.OrderStatusNew
	case o.CancelExist:
		status = market.OrderStatusCancelled
	}
	return &market.OrderResponse{
		Venue:     VenueKucoin,
		Symbol:    o.Symbol,
		ID:        o.ID,
		ClientID:  o.ClientOid,
		Side:      market.OrderSide(strings.ToLower(o.Side)),
		Type:      market.OrderType(strings.ToLower(o.Type)),
		Quantity:  SanitizeNumeric(o.Size),
		FilledQty: dealt,
		Price:     SanitizeNumeric(o.Price),
		Status:    status,
		Timestamp: NormalizeTimestamp(o.CreatedAt),
	}
}

// KucoinStreamCandle maps a /market/candles push to the canonical record.
func KucoinStreamCandle(timeframe string, c *KucoinWsCandle) (*market.Candle, error) {
	raw := make([]interface{}, len(c.Candles))
	for i, v := range c.Candles {
		raw[i] = v
	}
	return NormalizeCandle(raw, VenueKucoin, c.Symbol, timeframe)
}
