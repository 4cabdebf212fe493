package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pneumai/pneumai-go/internal/auth"
	"github.com/pneumai/pneumai-go/internal/errors"
	"github.com/pneumai/pneumai-go/internal/events"
	"github.com/pneumai/pneumai-go/internal/logger"
)

// sseRetryMillis is the reconnect delay suggested to EventSource clients.
const sseRetryMillis = 3000

// resyncEvent tells a client that events were lost and its view must be
// refetched after reconnecting.
const resyncEvent = "resync"

var errShuttingDown = errors.Newf("server is shutting down").
	Component("api").
	Category(errors.CategoryBroadcast).
	Build()

// subscriptionFilter limits a caller to the events they may see.
func subscriptionFilter(id auth.Identity) events.Filter {
	return events.Filter{Staff: id.IsStaff(), PatientID: id.PatientID}
}

func validRoom(room string) bool {
	return room == "" || room == events.RoomScans || room == events.RoomNotifications
}

// StreamEvents handles GET /events/stream as a Server-Sent Events feed.
func (c *Controller) StreamEvents(ctx echo.Context) error {
	room := ctx.QueryParam("room")
	if !validRoom(room) {
		return c.HandleError(ctx, errors.ValidationError("room must be scans or notifications"))
	}

	if c.ctx.Err() != nil {
		return c.HandleError(ctx, errShuttingDown)
	}

	id := caller(ctx)
	sub, err := c.events.Subscribe(subscriptionFilter(id))
	if err != nil {
		return c.HandleError(ctx, err)
	}
	defer sub.Close()

	c.wg.Add(1)
	defer c.wg.Done()
	if c.metrics != nil {
		c.metrics.HTTP.StreamOpened("sse")
		defer c.metrics.HTTP.StreamClosed("sse")
	}

	res := ctx.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprintf(res, "retry: %d\n\n", sseRetryMillis); err != nil {
		return nil
	}
	res.Flush()

	log := c.logger.With(logger.String("subscriber_id", sub.ID()), logger.String("user_id", id.UserID))
	log.Debug("sse stream opened", logger.String("room", room))

	heartbeat := time.NewTicker(c.heartbeat)
	defer heartbeat.Stop()

	reqCtx := ctx.Request().Context()
	for {
		select {
		case <-reqCtx.Done():
			log.Debug("sse client disconnected")
			return nil
		case <-c.ctx.Done():
			return nil
		case <-sub.Done():
			log.Debug("sse subscription ended", logger.Bool("evicted", sub.Evicted()))
			if sub.Evicted() {
				if err := writeResync(res); err == nil {
					res.Flush()
				}
			}
			return nil
		case <-heartbeat.C:
			if _, err := fmt.Fprint(res, ": heartbeat\n\n"); err != nil {
				return nil
			}
			res.Flush()
		case event := <-sub.Events():
			if room != "" && event.Type.Room() != room {
				continue
			}
			if err := writeSSE(res, event); err != nil {
				log.Debug("sse write failed", logger.Error(err))
				return nil
			}
			res.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.Seq, event.Type, data)
	return err
}

func writeResync(w http.ResponseWriter) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: {}\n\n", resyncEvent)
	return err
}
