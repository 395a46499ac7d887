package normalize

import (
	"sort"
	"strconv"
	"strings"

	binance "github.com/adshao/go-binance/v2"

	"cryptogate/internal/market"
)

// Binance REST wire shapes. Stream frames use the typed events from
// go-binance; REST responses are decoded into the structs below.

type BinanceTicker24h struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	BidPrice           string `json:"bidPrice"`
	AskPrice           string `json:"askPrice"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	Volume             string `json:"volume"`
	PriceChangePercent string `json:"priceChangePercent"`
	CloseTime          int64  `json:"closeTime"`
}

type BinanceDepth struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

type BinanceTrade struct {
	ID           int64  `json:"id"`
	Price        string `json:"price"`
	Qty          string `json:"qty"`
	Time         int64  `json:"time"`
	IsBuyerMaker bool   `json:"isBuyerMaker"`
}

type BinanceOrder struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	Status        string `json:"status"`
	Type          string `json:"type"`
	Side          string `json:"side"`
	Time          int64  `json:"time"`
	TransactTime  int64  `json:"transactTime"`
	UpdateTime    int64  `json:"updateTime"`
}

type BinanceAccount struct {
	CanTrade    bool `json:"canTrade"`
	CanWithdraw bool `json:"canWithdraw"`
	CanDeposit  bool `json:"canDeposit"`
	Balances    []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

// BinanceRESTTicker maps a 24hr ticker response to the canonical record.
func BinanceRESTTicker(t *BinanceTicker24h) *market.Ticker {
	return &market.Ticker{
		Venue:     VenueBinance,
		Symbol:    t.Symbol,
		Last:      SanitizeNumeric(t.LastPrice),
		Bid:       SanitizeNumeric(t.BidPrice),
		Ask:       SanitizeNumeric(t.AskPrice),
		High:      SanitizeNumeric(t.HighPrice),
		Low:       SanitizeNumeric(t.LowPrice),
		Volume:    SanitizeNumeric(t.Volume),
		Change:    SanitizeNumeric(t.PriceChangePercent),
		Timestamp: NormalizeTimestamp(t.CloseTime),
	}
}

// BinanceWsTicker maps a 24hr ticker stream event to the canonical record.
func BinanceWsTicker(e *binance.WsMarketStatEvent) *market.Ticker {
	return &market.Ticker{
		Venue:     VenueBinance,
		Symbol:    e.Symbol,
		Last:      SanitizeNumeric(e.LastPrice),
		Bid:       SanitizeNumeric(e.BidPrice),
		Ask:       SanitizeNumeric(e.AskPrice),
		High:      SanitizeNumeric(e.HighPrice),
		Low:       SanitizeNumeric(e.LowPrice),
		Volume:    SanitizeNumeric(e.BaseVolume),
		Change:    SanitizeNumeric(e.PriceChangePercent),
		Timestamp: NormalizeTimestamp(e.Time),
	}
}

// BinanceOrderBook maps a REST depth response to the canonical record.
func BinanceOrderBook(symbol string, d *BinanceDepth) *market.OrderBook {
	book := &market.OrderBook{
		Venue:  VenueBinance,
		Symbol: symbol,
		Bids:   levels(d.Bids),
		Asks:   levels(d.Asks),
	}
	sortBook(book)
	return book
}

// BinanceWsOrderBook maps a depth stream event to the canonical record.
func BinanceWsOrderBook(e *binance.WsDepthEvent) *market.OrderBook {
	book := &market.OrderBook{
		Venue:     VenueBinance,
		Symbol:    e.Symbol,
		Timestamp: NormalizeTimestamp(e.Time),
	}
	for _, b := range e.Bids {
		book.Bids = append(book.Bids, market.BookLevel{Price: SanitizeNumeric(b.Price), Quantity: SanitizeNumeric(b.Quantity)})
	}
	for _, a := range e.Asks {
		book.Asks = append(book.Asks, market.BookLevel{Price: SanitizeNumeric(a.Price), Quantity: SanitizeNumeric(a.Quantity)})
	}
	sortBook(book)
	return book
}

// BinanceTradeRecord maps a REST recent-trade row to the canonical record.
func BinanceTradeRecord(symbol string, t *BinanceTrade) *market.Trade {
	side := market.SideBuy
	if t.IsBuyerMaker {
		side = market.SideSell
	}
	return &market.Trade{
		Venue:     VenueBinance,
		Symbol:    symbol,
		ID:        strconv.FormatInt(t.ID, 10),
		Price:     SanitizeNumeric(t.Price),
		Quantity:  SanitizeNumeric(t.Qty),
		Side:      side,
		Timestamp: NormalizeTimestamp(t.Time),
	}
}

// BinanceWsTrade maps a trade stream event to the canonical record.
func BinanceWsTrade(e *binance.WsTradeEvent) *market.Trade {
	side := market.SideBuy
	if e.IsBuyerMaker {
		side = market.SideSell
	}
	return &market.Trade{
		Venue:     VenueBinance,
		Symbol:    e.Symbol,
		ID:        strconv.FormatInt(e.TradeID, 10),
		Price:     SanitizeNumeric(e.Price),
		Quantity:  SanitizeNumeric(e.Quantity),
		Side:      side,
		Timestamp: NormalizeTimestamp(e.TradeTime),
	}
}

// BinanceWsCandle maps a kline stream event to the canonical record.
func BinanceWsCandle(e *binance.WsKlineEvent) *market.Candle {
	k := e.Kline
	return &market.Candle{
		Venue:     VenueBinance,
		Symbol:    e.Symbol,
		Timeframe: k.Interval,
		Timestamp: NormalizeTimestamp(k.StartTime),
		Open:      SanitizeNumeric(k.Open),
		High:      SanitizeNumeric(k.High),
		Low:       SanitizeNumeric(k.Low),
		Close:     SanitizeNumeric(k.Close),
		Volume:    SanitizeNumeric(k.Volume),
		Closed:    k.IsFinal,
	}
}

// BinanceOrderResponse maps a REST order payload to the canonical record.
func BinanceOrderResponse(o *BinanceOrder) *market.OrderResponse {
	ts := o.TransactTime
	if ts == 0 {
		ts = o.Time
	}
	if ts == 0 {
		ts = o.UpdateTime
	}
	return &market.OrderResponse{
		Venue:     VenueBinance,
		Symbol:    o.Symbol,
		ID:        strconv.FormatInt(o.OrderID, 10),
		ClientID:  o.ClientOrderID,
		Side:      market.OrderSide(strings.ToLower(o.Side)),
		Type:      market.OrderType(strings.ToLower(o.Type)),
		Quantity:  SanitizeNumeric(o.OrigQty),
		FilledQty: SanitizeNumeric(o.ExecutedQty),
		Price:     SanitizeNumeric(o.Price),
		Status:    NormalizeOrderStatus(o.Status, VenueBinance),
		Timestamp: NormalizeTimestamp(ts),
	}
}

func sortBook(b *market.OrderBook) {
	sort.Slice(b.Bids, func(i, j int) bool { return b.Bids[i].Price > b.Bids[j].Price })
	sort.Slice(b.Asks, func(i, j int) bool { return b.Asks[i].Price < b.Asks[j].Price })
}
