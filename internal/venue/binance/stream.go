package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	binance "github.com/adshao/go-binance/v2"

	"cryptogate/internal/market"
	"cryptogate/internal/normalize"
	"cryptogate/internal/stream"
)

// adapter speaks the Binance websocket protocol: the topic is encoded in the
// connection path, so no subscribe frames are needed and control pings keep
// the stream alive.
type adapter struct {
	base string
}

func (a *adapter) topic(key stream.Key) (string, error) {
	sym := strings.ToLower(key.Symbol)
	switch key.Channel {
	case "ticker":
		return sym + "@ticker", nil
	case "orderbook":
		return sym + "@depth@100ms", nil
	case "trades":
		return sym + "@trade", nil
	case "candles":
		return fmt.Sprintf("%s@kline_%s", sym, normalize.NormalizeTimeframe(key.Timeframe, normalize.VenueBinance)), nil
	default:
		return "", fmt.Errorf("unknown channel %q", key.Channel)
	}
}

func (a *adapter) Endpoint(ctx context.Context, key stream.Key) (string, http.Header, error) {
	topic, err := a.topic(key)
	if err != nil {
		return "", nil, err
	}
	return a.base + "/" + topic, nil, nil
}

func (a *adapter) SubscribeFrames(key stream.Key) [][]byte   { return nil }
func (a *adapter) UnsubscribeFrames(key stream.Key) [][]byte { return nil }
func (a *adapter) PingFrame() []byte                         { return nil }

// ParseFrame dispatches on the event tag and normalizes through the typed
// go-binance stream events.
func (a *adapter) ParseFrame(key stream.Key, data []byte) (*market.Event, error) {
	var probe struct {
		Event string `json:"e"`
		// Without an exact-tag field, the numeric event time "E" would match
		// "e" via encoding/json's case-insensitive fallback and fail to decode.
		EventTime int64 `json:"E"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("frame is not valid JSON: %w", err)
	}

	switch probe.Event {
	case "24hrTicker":
		var ev binance.WsMarketStatEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode ticker frame: %w", err)
		}
		return &market.Event{Type: market.EventTicker, Symbol: ev.Symbol, Payload: normalize.BinanceWsTicker(&ev)}, nil
	case "depthUpdate":
		var ev binance.WsDepthEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode depth frame: %w", err)
		}
		return &market.Event{Type: market.EventOrderBook, Symbol: ev.Symbol, Payload: normalize.BinanceWsOrderBook(&ev)}, nil
	case "trade":
		var ev binance.WsTradeEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode trade frame: %w", err)
		}
		return &market.Event{Type: market.EventTrade, Symbol: ev.Symbol, Payload: normalize.BinanceWsTrade(&ev)}, nil
	case "kline":
		var ev binance.WsKlineEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode kline frame: %w", err)
		}
		return &market.Event{Type: market.EventCandle, Symbol: ev.Symbol, Payload: normalize.BinanceWsCandle(&ev)}, nil
	case "":
		// Subscription acks and other control payloads carry no event tag.
		return nil, nil
	default:
		return nil, fmt.Errorf("unexpected event type %q", probe.Event)
	}
}
