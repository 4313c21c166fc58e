package chat

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// ServeSSE frames a subscription onto the response as server-sent events.
// Each record carries the event sequence number as its SSE id so clients
// can detect gaps. Returns when a terminal event is sent, the broker closes
// the channel, or the client disconnects.
func ServeSSE(c echo.Context, events <-chan Event) error {
	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set(echo.HeaderConnection, "keep-alive")
	resp.Header().Set("X-Accel-Buffering", "no")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := writeEvent(resp, ev); err != nil {
				return nil
			}
			if ev.IsTerminal() {
				// Trailing sentinel so EventSource polyfills that ignore
				// custom event types still see the end of the stream.
				fmt.Fprint(resp, "data: [DONE]\n\n")
				resp.Flush()
				return nil
			}
			resp.Flush()
		}
	}
}

func writeEvent(resp *echo.Response, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(resp, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, data)
	return err
}
