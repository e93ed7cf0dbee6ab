package handler

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/go-git-rag/internal/port"
	"github.com/arturoeanton/go-git-rag/internal/service"
)

// JobsHandler handles ingestion submission and job status endpoints.
type JobsHandler struct {
	queue         *service.IngestQueue
	streamTimeout time.Duration
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(queue *service.IngestQueue) *JobsHandler {
	return &JobsHandler{queue: queue, streamTimeout: 5 * time.Minute}
}

// Register sets up job routes.
func (h *JobsHandler) Register(router fiber.Router) {
	router.Post("/index", h.Index)

	jobs := router.Group("/jobs")
	jobs.Get("/:id", h.GetStatus)
	jobs.Get("/:id/stream", h.StreamSSE)
}

// Index queues commits for ingestion and returns immediately.
func (h *JobsHandler) Index(c fiber.Ctx) error {
	var body struct {
		CommitIDs []string `json:"commitIds"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if len(body.CommitIDs) == 0 {
		return badRequest(c, "commitIds is required")
	}

	id, err := h.queue.Submit(body.CommitIDs)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"job_id": id, "status": service.JobQueued})
}

// GetStatus returns the current job status.
func (h *JobsHandler) GetStatus(c fiber.Ctx) error {
	job, ok := h.queue.Tracker().Get(c.Params("id"))
	if !ok {
		return writeError(c, port.ErrJobNotFound)
	}
	return c.JSON(job)
}

// StreamSSE streams job updates via Server-Sent Events.
func (h *JobsHandler) StreamSSE(c fiber.Ctx) error {
	id := c.Params("id")
	tracker := h.queue.Tracker()

	job, ok := tracker.Get(id)
	if !ok {
		return writeError(c, port.ErrJobNotFound)
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	// If already finished, just return the final status
	if job.Done() {
		data, _ := json.Marshal(job)
		return c.SendString(fmt.Sprintf("event: %s\ndata: %s\n\n", job.Status, data))
	}

	ch := tracker.Subscribe(id)
	timeout := h.streamTimeout

	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer tracker.Unsubscribe(id, ch)

		writeEvent(w, "progress", job)

		deadline := time.After(timeout)
		for {
			select {
			case update, ok := <-ch:
				if !ok {
					// Closed on completion; updates may have been dropped, so
					// report the final state from the tracker.
					if final, found := tracker.Get(id); found && final.Done() {
						writeEvent(w, final.Status, final)
					}
					return
				}
				eventType := "progress"
				if update.Done() {
					eventType = update.Status
				}
				if err := writeEvent(w, eventType, update); err != nil {
					return
				}
				if update.Done() {
					return
				}
			case <-deadline:
				slog.Warn("SSE timeout", "job_id", id)
				return
			}
		}
	})
}

func writeEvent(w *bufio.Writer, event string, job service.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	return w.Flush()
}
