package feed

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one live upstream connection.
type Conn interface {
	// ReadFrame blocks for the next data frame. It fails once the connection
	// has been idle for longer than the idle timeout.
	ReadFrame() ([]byte, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer connects with gorilla/websocket. Pings go out every
// HeartbeatInterval; any inbound frame or pong extends the read deadline
// by IdleTimeout.
type WebsocketDialer struct {
	HandshakeTimeout  time.Duration
	HeartbeatInterval time.Duration
	IdleTimeout       time.Duration
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}

	ws, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	c := &wsConn{
		ws:   ws,
		idle: d.IdleTimeout,
		done: make(chan struct{}),
	}
	c.extendDeadline()
	ws.SetPongHandler(func(string) error {
		c.extendDeadline()
		return nil
	})

	if d.HeartbeatInterval > 0 {
		c.wg.Add(1)
		go c.pingLoop(d.HeartbeatInterval)
	}
	return c, nil
}

type wsConn struct {
	ws        *websocket.Conn
	idle      time.Duration
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func (c *wsConn) extendDeadline() {
	if c.idle > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.idle))
	}
}

func (c *wsConn) pingLoop(interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			// A failed ping surfaces as a read error or idle timeout.
			_ = c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(interval))
		}
	}
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		c.extendDeadline()
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.ws.Close()
		c.wg.Wait()
	})
	return err
}
