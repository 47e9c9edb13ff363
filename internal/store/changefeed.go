package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	feedHeartbeatInterval = 30 * time.Second
	feedReadTimeout       = 90 * time.Second
)

// changeFeed subscribes to row changes on the hosted store's realtime
// websocket endpoint. One connection per subscription: a session client
// holds at most two (status watch, reconciliation watch).
//
// This is the single generic watch-field-on-a-record primitive; the typed
// watches in Supabase are thin wrappers over it.
type changeFeed struct {
	wsURL  string
	apiKey string
}

func newChangeFeed(baseURL, apiKey string) *changeFeed {
	ws := strings.Replace(baseURL, "http", "ws", 1)
	return &changeFeed{
		wsURL:  fmt.Sprintf("%s/realtime/v1/websocket?apikey=%s&vsn=1.0.0", ws, apiKey),
		apiKey: apiKey,
	}
}

// Subscribe streams the new row JSON for every insert or update on the
// document identified by column=value. The feed reconnects with exponential
// backoff until ctx is cancelled; the returned channel closes on cancel.
func (f *changeFeed) Subscribe(ctx context.Context, table, column, value string) (<-chan []byte, error) {
	out := make(chan []byte, 8)
	topic := fmt.Sprintf("realtime:public:%s:%s=eq.%s", table, column, value)

	go func() {
		defer close(out)

		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = time.Second
		bo.MaxInterval = 30 * time.Second
		bo.MaxElapsedTime = 0 // retry until cancelled

		for {
			err := f.run(ctx, topic, out)
			if ctx.Err() != nil {
				return
			}
			wait := bo.NextBackOff()
			log.Warn().Err(err).Str("topic", topic).Dur("retry_in", wait).
				Msg("change feed disconnected")
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}()

	return out, nil
}

// run drives one websocket connection until it fails or ctx is cancelled.
func (f *changeFeed) run(ctx context.Context, topic string, out chan<- []byte) error {
	conn, resp, err := websocket.Dial(ctx, f.wsURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial change feed: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	if err := f.send(ctx, conn, topic, "phx_join", `{"config":{"postgres_changes":[{"event":"*"}]}}`); err != nil {
		return fmt.Errorf("join %s: %w", topic, err)
	}

	// Heartbeats keep the channel open server-side.
	hbCtx, cancelHB := context.WithCancel(ctx)
	defer cancelHB()
	go func() {
		ticker := time.NewTicker(feedHeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := f.send(hbCtx, conn, "phoenix", "heartbeat", `{}`); err != nil {
					return
				}
			}
		}
	}()

	for {
		readCtx, cancel := context.WithTimeout(ctx, feedReadTimeout)
		_, data, err := conn.Read(readCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("read change feed: %w", err)
		}

		event := gjson.GetBytes(data, "event").String()
		if event != "postgres_changes" {
			continue
		}
		row := gjson.GetBytes(data, "payload.data.record")
		if !row.Exists() {
			row = gjson.GetBytes(data, "payload.record")
		}
		if !row.Exists() {
			continue
		}
		select {
		case out <- []byte(row.Raw):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (f *changeFeed) send(ctx context.Context, conn *websocket.Conn, topic, event, payload string) error {
	msg := []byte(`{}`)
	msg, _ = sjson.SetBytes(msg, "topic", topic)
	msg, _ = sjson.SetBytes(msg, "event", event)
	msg, _ = sjson.SetRawBytes(msg, "payload", []byte(payload))
	msg, _ = sjson.SetBytes(msg, "ref", fmt.Sprintf("%d", time.Now().UnixNano()))
	return conn.Write(ctx, websocket.MessageText, msg)
}
