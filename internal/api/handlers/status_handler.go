package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/taskstatus/internal/dispatcher"
	"example.com/backstage/services/taskstatus/internal/messaging"
	"example.com/backstage/services/taskstatus/internal/models"
	"example.com/backstage/services/taskstatus/internal/repositories"
	"example.com/backstage/services/taskstatus/internal/tracing"
)

// StatusReader serves the read side of the status API
type StatusReader interface {
	Find(ctx context.Context, uid string) (models.TaskStatus, error)
	Summary(ctx context.Context, userUID string) (priority int64, completed int64, err error)
}

// EventSubmitter hands an inbound event to the dispatcher
type EventSubmitter interface {
	Dispatch(ctx context.Context, kind models.EventKind, payload []byte) error
}

// FeedbackSearcher looks up indexed notifications
type FeedbackSearcher interface {
	SearchFeedback(ctx context.Context, userUID string, size int) ([]map[string]interface{}, error)
}

const (
	defaultFeedbackSize = 20
	maxFeedbackSize     = 100
)

// StatusHandler handles status, summary and event ingestion requests
type StatusHandler struct {
	statuses      StatusReader
	events        EventSubmitter
	feedback      FeedbackSearcher
	priorityLimit int
	tracer        tracing.Tracer
}

// NewStatusHandler creates a new status handler. feedback may be nil when
// search is disabled.
func NewStatusHandler(statuses StatusReader, events EventSubmitter, feedback FeedbackSearcher, priorityLimit int, tracer tracing.Tracer) *StatusHandler {
	return &StatusHandler{
		statuses:      statuses,
		events:        events,
		feedback:      feedback,
		priorityLimit: priorityLimit,
		tracer:        tracer,
	}
}

// HandleGetStatus returns the status record of one item
func (h *StatusHandler) HandleGetStatus(c *gin.Context) {
	txn := h.tracer.StartTransaction("get-status")
	defer h.tracer.EndTransaction(txn)

	uid := c.Param("uid")
	status, err := h.statuses.Find(c.Request.Context(), uid)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task status not found"})
			return
		}
		h.tracer.RecordError(txn, err)
		log.Error().Err(err).Str("item_uid", uid).Msg("failed to load task status")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load task status"})
		return
	}

	c.JSON(http.StatusOK, status)
}

// HandleGetSummary returns the aggregate counters of one user
func (h *StatusHandler) HandleGetSummary(c *gin.Context) {
	txn := h.tracer.StartTransaction("get-summary")
	defer h.tracer.EndTransaction(txn)

	userUID := c.Param("userUid")
	priority, completed, err := h.statuses.Summary(c.Request.Context(), userUID)
	if err != nil {
		h.tracer.RecordError(txn, err)
		log.Error().Err(err).Str("user_uid", userUID).Msg("failed to summarize task statuses")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to summarize task statuses"})
		return
	}

	c.JSON(http.StatusOK, models.UserSummary{
		UserUID:        userUID,
		PriorityCount:  priority,
		CompletedCount: completed,
		PriorityLimit:  h.priorityLimit,
		OverLimit:      priority >= int64(h.priorityLimit),
	})
}

// HandleGetFeedback returns the user's latest indexed notifications
func (h *StatusHandler) HandleGetFeedback(c *gin.Context) {
	if h.feedback == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "feedback search is disabled"})
		return
	}

	size := defaultFeedbackSize
	if raw := c.Query("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxFeedbackSize {
			c.JSON(http.StatusBadRequest, gin.H{"error": "size must be between 1 and 100"})
			return
		}
		size = n
	}

	txn := h.tracer.StartTransaction("get-feedback")
	defer h.tracer.EndTransaction(txn)

	userUID := c.Param("userUid")
	docs, err := h.feedback.SearchFeedback(c.Request.Context(), userUID, size)
	if err != nil {
		h.tracer.RecordError(txn, err)
		log.Error().Err(err).Str("user_uid", userUID).Msg("failed to search feedback")
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to search feedback"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user_uid": userUID, "feedback": docs})
}

// HandlePostEvent injects an item event into the dispatcher
func (h *StatusHandler) HandlePostEvent(c *gin.Context) {
	txn := h.tracer.StartTransaction("post-event")
	defer h.tracer.EndTransaction(txn)

	kind, err := models.ParseEventKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	event, err := messaging.DecodeItemEvent(payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.events.Dispatch(c.Request.Context(), kind, payload); err != nil {
		h.tracer.RecordError(txn, err)
		status := http.StatusServiceUnavailable
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		if !errors.Is(err, dispatcher.ErrPoolClosed) {
			log.Warn().Err(err).Str("item_uid", event.ItemUID).Msg("event not dispatched")
		}
		c.JSON(status, gin.H{"error": "event not dispatched"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"kind":     kind,
		"item_uid": event.ItemUID,
		"user_uid": event.UserUID,
	})
}
