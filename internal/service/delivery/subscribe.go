package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"

	"mls_chat/internal/model"
	"mls_chat/internal/utils/log"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var errNotRegistered = errors.New("client is not registered")

func (c *Client) wsURL() *url.URL {
	u := c.baseURL.JoinPath("v1", "ws")
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.RawQuery = url.Values{"client": []string{c.self.Load()}}.Encode()
	return u
}

// Subscribe streams the messages pushed to this client into handle until
// ctx is done or the connection drops. Queued messages arrive first.
func (c *Client) Subscribe(ctx context.Context, handle func(*model.Message)) error {
	if c.self.Load() == "" {
		return errNotRegistered
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL().String(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		var message model.Message
		if err := json.Unmarshal(data, &message); err != nil {
			log.Error("Unmarshal message failed", zap.Error(err))
			continue
		}
		handle(&message)
	}
}
