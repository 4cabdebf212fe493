package api

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/pneumai/pneumai-go/internal/events"
	"github.com/pneumai/pneumai-go/internal/logger"
)

const (
	wsWriteWait    = 10 * time.Second
	wsMaxMessage   = 4096
	wsCommandQueue = 8
)

// wsMessage is the envelope of every WebSocket frame in both directions.
type wsMessage struct {
	Type  string `json:"type"`
	Room  string `json:"room,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// ServeWebSocket handles GET /ws. Until the client subscribes to a room it
// receives every event it may see; afterwards only events of subscribed rooms.
func (c *Controller) ServeWebSocket(ctx echo.Context) error {
	if c.ctx.Err() != nil {
		return c.HandleError(ctx, errShuttingDown)
	}

	id := caller(ctx)
	sub, err := c.events.Subscribe(subscriptionFilter(id))
	if err != nil {
		return c.HandleError(ctx, err)
	}
	defer sub.Close()

	conn, err := c.upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		// The upgrader has already replied
		c.logger.Debug("websocket upgrade failed", logger.Error(err))
		return nil
	}

	c.wg.Add(1)
	defer c.wg.Done()
	if c.metrics != nil {
		c.metrics.HTTP.StreamOpened("websocket")
		defer c.metrics.HTTP.StreamClosed("websocket")
	}

	log := c.logger.With(logger.String("subscriber_id", sub.ID()), logger.String("user_id", id.UserID))
	log.Debug("websocket opened")

	pongWait := c.wsPingInterval * 10 / 9
	conn.SetReadLimit(wsMaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	commands := make(chan wsMessage, wsCommandQueue)
	stop := make(chan struct{})
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			var msg wsMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug("websocket read failed", logger.Error(err))
				}
				return
			}
			select {
			case commands <- msg:
			case <-stop:
				return
			}
		}
	}()
	defer func() {
		close(stop)
		_ = conn.Close()
		<-readDone
	}()

	write := func(msg wsMessage) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(msg)
	}

	ping := time.NewTicker(c.wsPingInterval)
	defer ping.Stop()

	rooms := make(map[string]bool)
	reqCtx := ctx.Request().Context()
	for {
		select {
		case <-readDone:
			log.Debug("websocket closed by client")
			return nil
		case <-reqCtx.Done():
			return nil
		case <-c.ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(wsWriteWait))
			return nil
		case <-sub.Done():
			log.Debug("websocket subscription ended", logger.Bool("evicted", sub.Evicted()))
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, closeReason(sub)),
				time.Now().Add(wsWriteWait))
			return nil
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return nil
			}
		case msg := <-commands:
			if err := write(handleCommand(msg, rooms)); err != nil {
				return nil
			}
		case event := <-sub.Events():
			if len(rooms) > 0 && !rooms[event.Type.Room()] {
				continue
			}
			if err := write(wsMessage{Type: string(event.Type), Data: event}); err != nil {
				log.Debug("websocket write failed", logger.Error(err))
				return nil
			}
		}
	}
}

// closeReason asks an evicted client to refetch after reconnecting.
func closeReason(sub *events.Subscription) string {
	if sub.Evicted() {
		return resyncEvent
	}
	return "subscription ended"
}

// handleCommand applies one client message and returns the reply.
func handleCommand(msg wsMessage, rooms map[string]bool) wsMessage {
	switch msg.Type {
	case "ping":
		return wsMessage{Type: "pong"}
	case "subscribe":
		if msg.Room != events.RoomScans && msg.Room != events.RoomNotifications {
			return wsMessage{Type: "error", Error: "room must be scans or notifications"}
		}
		rooms[msg.Room] = true
		return wsMessage{Type: "subscribed", Room: msg.Room}
	case "unsubscribe":
		delete(rooms, msg.Room)
		return wsMessage{Type: "unsubscribed", Room: msg.Room}
	default:
		return wsMessage{Type: "error", Error: "unknown message type " + msg.Type}
	}
}
