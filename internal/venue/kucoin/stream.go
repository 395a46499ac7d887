package kucoin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"cryptogate/internal/market"
	"cryptogate/internal/normalize"
	"cryptogate/internal/stream"
)

// adapter speaks the KuCoin websocket protocol: a short-lived REST bullet
// call yields the endpoint and token, topics are subscribed with explicit
// frames, and liveness rides on application-level ping messages.
type adapter struct {
	client *Client
}

type bulletServer struct {
	Endpoint     string `json:"endpoint"`
	PingInterval int64  `json:"pingInterval"`
}

type bulletData struct {
	Token           string         `json:"token"`
	InstanceServers []bulletServer `json:"instanceServers"`
}

func (a *adapter) topic(key stream.Key) (string, error) {
	switch key.Channel {
	case "ticker":
		return "/market/ticker:" + key.Symbol, nil
	case "orderbook":
		return "/spotMarket/level2Depth50:" + key.Symbol, nil
	case "trades":
		return "/market/match:" + key.Symbol, nil
	case "candles":
		tf := normalize.NormalizeTimeframe(key.Timeframe, normalize.VenueKucoin)
		return fmt.Sprintf("/market/candles:%s_%s", key.Symbol, tf), nil
	default:
		return "", fmt.Errorf("unknown channel %q", key.Channel)
	}
}

// Endpoint performs the bullet-public bootstrap and assembles the socket URL.
func (a *adapter) Endpoint(ctx context.Context, key stream.Key) (string, http.Header, error) {
	var data bulletData
	if err := a.client.callOnce(ctx, http.MethodPost, "/api/v1/bullet-public", url.Values{}, false, &data); err != nil {
		return "", nil, fmt.Errorf("bullet token: %w", err)
	}
	if data.Token == "" || len(data.InstanceServers) == 0 {
		return "", nil, fmt.Errorf("bullet token: empty response")
	}
	endpoint := data.InstanceServers[0].Endpoint
	u := fmt.Sprintf("%s?token=%s&connectId=%s", endpoint, data.Token, uuid.NewString())
	return u, nil, nil
}

type wsCommand struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	Topic          string `json:"topic,omitempty"`
	PrivateChannel bool   `json:"privateChannel,omitempty"`
	Response       bool   `json:"response,omitempty"`
}

func (a *adapter) SubscribeFrames(key stream.Key) [][]byte {
	topic, err := a.topic(key)
	if err != nil {
		return nil
	}
	frame, _ := json.Marshal(wsCommand{
		ID:       uuid.NewString(),
		Type:     "subscribe",
		Topic:    topic,
		Response: true,
	})
	return [][]byte{frame}
}

func (a *adapter) UnsubscribeFrames(key stream.Key) [][]byte {
	topic, err := a.topic(key)
	if err != nil {
		return nil
	}
	frame, _ := json.Marshal(wsCommand{
		ID:    uuid.NewString(),
		Type:  "unsubscribe",
		Topic: topic,
	})
	return [][]byte{frame}
}

func (a *adapter) PingFrame() []byte {
	frame, _ := json.Marshal(wsCommand{ID: uuid.NewString(), Type: "ping"})
	return frame
}

type wsEnvelope struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic"`
	Subject string          `json:"subject"`
	Data    json.RawMessage `json:"data"`
}

// ParseFrame decodes KuCoin's message envelope. Welcome, ack and pong frames
// are control traffic; data frames normalize by the subscription's channel.
func (a *adapter) ParseFrame(key stream.Key, data []byte) (*market.Event, error) {
	var env wsEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("frame is not valid JSON: %w", err)
	}
	switch env.Type {
	case "welcome", "ack", "pong":
		return nil, nil
	case "error":
		return nil, fmt.Errorf("venue error frame: %s", strings.TrimSpace(string(env.Data)))
	case "message":
	default:
		return nil, nil
	}

	switch key.Channel {
	case "ticker":
		var t normalize.KucoinWsTicker
		if err := json.Unmarshal(env.Data, &t); err != nil {
			return nil, fmt.Errorf("decode ticker frame: %w", err)
		}
		return &market.Event{Type: market.EventTicker, Payload: normalize.KucoinStreamTicker(key.Symbol, &t)}, nil
	case "orderbook":
		var d normalize.KucoinWsDepth
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, fmt.Errorf("decode depth frame: %w", err)
		}
		return &market.Event{Type: market.EventOrderBook, Payload: normalize.KucoinStreamOrderBook(key.Symbol, &d)}, nil
	case "trades":
		var t normalize.KucoinWsMatch
		if err := json.Unmarshal(env.Data, &t); err != nil {
			return nil, fmt.Errorf("decode match frame: %w", err)
		}
		trade := normalize.KucoinStreamTrade(&t)
		if trade.Symbol == "" {
			trade.Symbol = key.Symbol
		}
		return &market.Event{Type: market.EventTrade, Payload: trade}, nil
	case "candles":
		var c normalize.KucoinWsCandle
		if err := json.Unmarshal(env.Data, &c); err != nil {
			return nil, fmt.Errorf("decode candle frame: %w", err)
		}
		if c.Symbol == "" {
			c.Symbol = key.Symbol
		}
		candle, err := normalize.KucoinStreamCandle(key.Timeframe, &c)
		if err != nil {
			return nil, err
		}
		return &market.Event{Type: market.EventCandle, Payload: candle}, nil
	default:
		return nil, fmt.Errorf("unknown channel %q", key.Channel)
	}
}
