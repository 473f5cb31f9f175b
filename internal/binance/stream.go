package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const markPriceStreamBase = "wss://fstream.binance.com/ws"

// MarkPriceEvent is one tick of the futures mark-price stream, carrying the
// live funding rate shown in the dashboard header.
type MarkPriceEvent struct {
	Symbol          string    `json:"symbol"`
	MarkPrice       float64   `json:"mark_price"`
	FundingRate     float64   `json:"funding_rate"`
	NextFundingTime time.Time `json:"next_funding_time"`
	EventTime       time.Time `json:"event_time"`
}

type markPriceMsg struct {
	EventTime       int64  `json:"E"`
	Symbol          string `json:"s"`
	MarkPrice       string `json:"p"`
	FundingRate     string `json:"r"`
	NextFundingTime int64  `json:"T"`
}

// MarkPriceStream subscribes to a symbol's 1s mark-price stream.
type MarkPriceStream struct {
	symbol string
	events chan MarkPriceEvent
}

// NewMarkPriceStream prepares a stream for symbol; Run must be called to
// start it.
func NewMarkPriceStream(symbol string) *MarkPriceStream {
	return &MarkPriceStream{
		symbol: strings.ToLower(symbol),
		events: make(chan MarkPriceEvent, 64),
	}
}

// Events returns the tick channel. It is closed when Run returns.
func (s *MarkPriceStream) Events() <-chan MarkPriceEvent { return s.events }

// Run reads the stream until ctx is cancelled, reconnecting on read errors
// with a short pause. Slow consumers drop ticks rather than stalling reads.
func (s *MarkPriceStream) Run(ctx context.Context) error {
	defer close(s.events)
	url := fmt.Sprintf("%s/%s@markPrice@1s", markPriceStreamBase, s.symbol)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			log.Warn().Err(err).Str("symbol", s.symbol).Msg("Mark price dial failed, retrying")
			select {
			case <-time.After(2 * time.Second):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		s.readLoop(ctx, conn)
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			conn.Close()
			return ctx.Err()
		}
	}
}

func (s *MarkPriceStream) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	})
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Str("symbol", s.symbol).Msg("Mark price read failed")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		var raw markPriceMsg
		if err := json.Unmarshal(msg, &raw); err != nil {
			continue
		}
		ev := MarkPriceEvent{
			Symbol:          raw.Symbol,
			MarkPrice:       parseFloat(raw.MarkPrice),
			FundingRate:     parseFloat(raw.FundingRate),
			NextFundingTime: time.UnixMilli(raw.NextFundingTime).UTC(),
			EventTime:       time.UnixMilli(raw.EventTime).UTC(),
		}
		select {
		case s.events <- ev:
		default:
		}
	}
}
