package client

import (
	"context"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/betbot/acdm/internal/api"
	"github.com/betbot/acdm/internal/domain"
)

// Stream 订阅事件流，阻塞到 ctx 结束或连接断开。types 为空表示全部事件。
func (c *Client) Stream(ctx context.Context, types []domain.EventType, fn func(api.StreamMessage)) error {
	u, err := url.Parse(c.BaseURL())
	if err != nil {
		return errors.Wrap(err, "parse base url")
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/events/stream"
	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		u.RawQuery = url.Values{"type": {strings.Join(names, ",")}}.Encode()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return errors.Wrap(err, "dial event stream")
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		var msg api.StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "read event stream")
		}
		fn(msg)
	}
}
