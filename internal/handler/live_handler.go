package handler

import (
	"io"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-progress-api/internal/models"
	"github.com/noah-isme/sma-progress-api/internal/realtime"
	appErrors "github.com/noah-isme/sma-progress-api/pkg/errors"
	"github.com/noah-isme/sma-progress-api/pkg/response"
)

const maxLiveTrendDays = 90

// LiveConfig tunes the event stream.
type LiveConfig struct {
	Heartbeat time.Duration
}

// LiveHandler streams recomputed statistics over Server-Sent Events.
type LiveHandler struct {
	source realtime.Source
	access *Access
	logger *zap.Logger
	cfg    LiveConfig

	closing   chan struct{}
	closeOnce sync.Once
}

// NewLiveHandler constructs LiveHandler.
func NewLiveHandler(source realtime.Source, access *Access, logger *zap.Logger, cfg LiveConfig) *LiveHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 25 * time.Second
	}
	return &LiveHandler{source: source, access: access, logger: logger, cfg: cfg, closing: make(chan struct{})}
}

// Shutdown ends every open stream. It is meant for http.Server.RegisterOnShutdown.
func (h *LiveHandler) Shutdown() {
	h.closeOnce.Do(func() { close(h.closing) })
}

// Stats godoc
// @Summary Live statistics stream
// @Description Emits a "stats" event with the full record set and its aggregate on subscribe and after every change.
// @Tags Live
// @Produce text/event-stream
// @Param student_id query string false "Student ID"
// @Param course_id query string false "Course ID"
// @Param trend_days query int false "Attach a trend of the last N days"
// @Param records query bool false "Include the records (default true)"
// @Success 200 {string} string "event stream"
// @Router /live/stats [get]
func (h *LiveHandler) Stats(c *gin.Context) {
	filter := recordFilterFromQuery(c)
	if !filter.Keyed() {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "student_id or course_id is required"))
		return
	}
	trendDays, err := queryInt(c, "trend_days", 0)
	if err != nil {
		response.Error(c, err)
		return
	}
	if trendDays < 0 || trendDays > maxLiveTrendDays {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "trend_days must be between 0 and 90"))
		return
	}
	includeRecords := c.DefaultQuery("records", "true") != "false"
	if err := h.access.CanReadFilter(c, filter); err != nil {
		response.Error(c, err)
		return
	}

	updates := make(chan models.LiveUpdate, 1)
	live := realtime.NewLiveStats(h.source, trendDays, h.logger)
	if err := live.Start(filter, func(u models.LiveUpdate) { offerLatest(updates, u) }); err != nil {
		response.Error(c, err)
		return
	}
	defer live.Stop()

	h.logger.Debug("live stream opened", zap.String("filter", filter.String()))
	response.EventStream(c)

	heartbeat := time.NewTicker(h.cfg.Heartbeat)
	defer heartbeat.Stop()
	ctx := c.Request.Context()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-h.closing:
			return false
		case u := <-updates:
			if !includeRecords {
				u.Records = nil
			}
			c.SSEvent("stats", u)
			return true
		case t := <-heartbeat.C:
			c.SSEvent("ping", t.UTC().Format(time.RFC3339))
			return true
		}
	})
	h.logger.Debug("live stream closed", zap.String("filter", filter.String()))
}

// offerLatest replaces any undelivered update so a slow client only ever
// receives the newest state.
func offerLatest(ch chan models.LiveUpdate, u models.LiveUpdate) {
	for {
		select {
		case ch <- u:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
