package content

import (
	"bufio"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/mediavault-api/model"
	"github.com/sahilchouksey/mediavault-api/services"
	"github.com/sahilchouksey/mediavault-api/utils/middleware"
	"github.com/sahilchouksey/mediavault-api/utils/response"
	"github.com/sahilchouksey/mediavault-api/utils/sse"
)

// keepAliveInterval is how often a comment ping goes out on an idle stream
// so proxies don't kill the connection.
const keepAliveInterval = 15 * time.Second

// Stream handles GET /api/v1/contents/:id/stream?start=true
// Attaches the client to the content's processing event stream over SSE.
// With start=true, a pipeline run is enqueued first if the content has no
// outstanding jobs; attaching to an already-running pipeline just streams.
func (h *ContentHandler) Stream(c *fiber.Ctx) error {
	userID := middleware.UserID(c)
	if userID == 0 {
		return response.Unauthorized(c, "User not authenticated")
	}
	contentID, err := parseID(c)
	if err != nil {
		return response.BadRequest(c, "Invalid content ID")
	}

	detail, err := h.contentService.GetDetail(c.Context(), userID, contentID)
	if err != nil {
		return response.NotFound(c, err.Error())
	}
	contentRow := detail.Content

	// Terminal contents have nothing to stream; tell the client immediately
	// instead of holding a silent connection open.
	if contentRow.Status == model.ContentStatusCompleted && c.Query("start", "false") != "true" {
		return response.Success(c, fiber.Map{
			"status":  contentRow.Status,
			"message": "Processing already complete",
		})
	}

	// Subscribe before starting the run so no early events are missed.
	events := h.streams.Open(contentID)

	// With start=true and no run in flight, kick one off. An active run is
	// simply attached to; a second one would duplicate its work.
	if c.Query("start", "false") == "true" && !hasActiveJob(detail.Jobs) {
		if _, _, err := h.contentService.Reprocess(c.Context(), userID, contentID, services.ReprocessAll); err != nil {
			h.streams.Close(contentID, events)
			return response.BadRequest(c, err.Error())
		}
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		// The fiber context is not valid inside the stream writer goroutine.
		defer h.streams.Close(contentID, events)

		sse.SendLog(w, fiber.Map{
			"type":       "log",
			"content_id": contentID,
			"message":    "stream attached",
		})

		keepAlive := time.NewTicker(keepAliveInterval)
		defer keepAlive.Stop()

		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				if err := sse.Send(w, sse.Event{Event: string(event.Type), Data: event}); err != nil {
					// Client went away.
					return
				}
				if event.Type == services.StreamEventComplete || event.Type == services.StreamEventError {
					return
				}
			case <-keepAlive.C:
				if err := sse.SendKeepAlive(w); err != nil {
					return
				}
			}
		}
	})

	return nil
}

func hasActiveJob(jobs []model.Job) bool {
	for _, j := range jobs {
		if j.Status == model.JobStatusPending || j.Status == model.JobStatusProcessing {
			return true
		}
	}
	return false
}
