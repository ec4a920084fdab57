package appwrite

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"snapgram/internal/utils"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 20 * time.Second
)

// Event is one realtime notification.
type Event struct {
	Events   []string       `json:"events"`
	Channels []string       `json:"channels"`
	Payload  map[string]any `json:"payload"`
}

type realtimeMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DocumentsChannel names the realtime channel for a collection's documents.
func DocumentsChannel(databaseID, collectionID string) string {
	return fmt.Sprintf("databases.%s.collections.%s.documents", databaseID, collectionID)
}

// RealtimeURL turns the REST endpoint into the realtime websocket URL.
func (c *Client) RealtimeURL(channels []string) (string, error) {
	u, err := url.Parse(c.endpoint + "/realtime")
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	q := url.Values{}
	q.Set("project", c.project)
	for _, ch := range channels {
		q.Add("channels[]", ch)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Subscribe dials the realtime endpoint and calls handle for every event on
// channels until ctx is done or the connection fails. It does not reconnect.
func (c *Client) Subscribe(ctx context.Context, channels []string, handle func(Event)) error {
	endpoint, err := c.RealtimeURL(channels)
	if err != nil {
		return err
	}
	header := http.Header{}
	if s := c.Session(); s != "" {
		header.Set("Cookie", c.sessionCookie()+"="+s)
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.timeout}
	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("realtime dial: %s: %w", resp.Status, err)
		}
		return fmt.Errorf("realtime dial: %w", err)
	}
	defer conn.Close()
	log.Info().Strs("channels", channels).Msg("realtime connected")

	var wg sync.WaitGroup
	done := make(chan struct{})
	defer func() {
		close(done)
		wg.Wait()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("realtime read: %w", err)
		}

		var m realtimeMessage
		if err := utils.SafeJSONParse(msg, &m); err != nil {
			log.Warn().Err(err).Msg("realtime: bad message")
			continue
		}
		switch m.Type {
		case "event":
			var ev Event
			if err := utils.SafeJSONParse(m.Data, &ev); err != nil {
				log.Warn().Err(err).Msg("realtime: bad event")
				continue
			}
			handle(ev)
		case "error":
			log.Warn().RawJSON("data", m.Data).Msg("realtime: server error")
		case "connected", "pong", "response":
		default:
			log.Debug().Str("type", m.Type).Msg("realtime: ignored message")
		}
	}
}

// Action returns "create", "update" or "delete" from an event name such as
// databases.db.collections.posts.documents.abc.update.
func (e Event) Action() string {
	for _, name := range e.Events {
		i := strings.LastIndexByte(name, '.')
		if i < 0 {
			continue
		}
		switch a := name[i+1:]; a {
		case "create", "update", "delete":
			return a
		}
	}
	return ""
}

func (e Event) DocumentID() string {
	id, _ := e.Payload["$id"].(string)
	return id
}

func (e Event) CollectionID() string {
	id, _ := e.Payload["$collectionId"].(string)
	return id
}
