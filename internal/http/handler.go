package http

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"anpr-session-service/internal/alarm"
	"anpr-session-service/internal/capture"
	"anpr-session-service/internal/domain/anpr"
	"anpr-session-service/internal/service"
)

type ANPRService interface {
	Predict(ctx context.Context, camID string, image []byte) (*anpr.ProcessResult, error)
	ProcessIncomingEvent(ctx context.Context, payload anpr.ReadPayload) (*anpr.ProcessResult, error)
	FindPlateReads(ctx context.Context, plateQuery, organization *string, from, to *string, limit, offset int) ([]service.PlateReadInfo, error)
	ListSessions(ctx context.Context, f anpr.SessionFilter) ([]anpr.Session, error)
	RunReapSweep(ctx context.Context) (service.ReapResult, error)
}

type CaptureSubmitter interface {
	Submit(req capture.Request) *capture.Task
}

type HealthFunc func(ctx context.Context) error

const maxAlarmBody = 4 << 20

type Handler struct {
	anprService ANPRService
	captures    CaptureSubmitter
	alarmGate   *capture.Gate
	health      HealthFunc
	log         zerolog.Logger
}

func NewHandler(
	anprService ANPRService,
	captures CaptureSubmitter,
	alarmGate *capture.Gate,
	health HealthFunc,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		anprService: anprService,
		captures:    captures,
		alarmGate:   alarmGate,
		health:      health,
		log:         log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	r.GET("/healthz", h.healthz)

	// Public endpoints
	public := r.Group("/api/v1")
	{
		public.POST("/ocr-service/predict", h.predict)
		public.POST("/ocr-service/hik/alarm", h.hikAlarm)
		public.POST("/anpr/events", h.createANPREvent)
		public.GET("/events", h.listEvents)
	}

	// Operator endpoints
	protected := r.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.GET("/sessions", h.listSessions)
		protected.POST("/sessions/reap", h.reapSessions)
	}
}

type predictRequest struct {
	ImgBase64 string `json:"imgBase64" binding:"required"`
	CamID     string `json:"camId" binding:"required"`
}

func (h *Handler) predict(c *gin.Context) {
	var req predictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	image, err := decodeBase64Image(req.ImgBase64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid base64 image"))
		return
	}

	result, err := h.anprService.Predict(c.Request.Context(), req.CamID, image)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, successResponse(result))
}

func (h *Handler) hikAlarm(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxAlarmBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("unreadable body"))
		return
	}

	a, err := alarm.Parse(c.ContentType(), body)
	if err != nil {
		h.log.Warn().Err(err).Str("content_type", c.ContentType()).Int("len", len(body)).Msg("rejected alarm payload")
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	h.log.Debug().
		Str("ip", a.IPAddress).
		Str("mac", a.MACAddress).
		Str("event_type", a.EventType).
		Str("event_state", a.EventState).
		Str("target_type", a.TargetType).
		Msg("alarm received")

	if !a.Actionable() {
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "alarm": a})
		return
	}

	key := a.SourceKey()
	if !h.alarmGate.ShouldTrigger(key) {
		c.JSON(http.StatusOK, gin.H{"status": "cooldown", "alarm": a})
		return
	}

	task := h.captures.Submit(capture.Request{Key: key, Host: a.IPAddress, Alarm: a})
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "task_id": task.ID, "alarm": a})
}

func (h *Handler) createANPREvent(c *gin.Context) {
	var payload anpr.ReadPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	if payload.EventTime.IsZero() {
		payload.EventTime = time.Now()
	}

	result, err := h.anprService.ProcessIncomingEvent(c.Request.Context(), payload)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, successResponse(result))
}

func (h *Handler) listEvents(c *gin.Context) {
	var plateQuery, organization *string
	if plate := strings.TrimSpace(c.Query("plate")); plate != "" {
		plateQuery = &plate
	}
	if org := strings.TrimSpace(c.Query("organization")); org != "" {
		organization = &org
	}

	var from, to *string
	if f := strings.TrimSpace(c.Query("from")); f != "" {
		from = &f
	}
	if t := strings.TrimSpace(c.Query("to")); t != "" {
		to = &t
	}

	limit, offset := pagination(c)

	reads, err := h.anprService.FindPlateReads(c.Request.Context(), plateQuery, organization, from, to, limit, offset)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(reads))
}

func (h *Handler) listSessions(c *gin.Context) {
	filter := anpr.SessionFilter{
		Organization: strings.TrimSpace(c.Query("organization")),
		SubID:        strings.TrimSpace(c.Query("sub_id")),
		Status:       anpr.SessionStatus(strings.ToUpper(strings.TrimSpace(c.Query("status")))),
	}
	if org := claimsOrganization(c); org != "" {
		filter.Organization = org
	}
	filter.Limit, filter.Offset = pagination(c)

	sessions, err := h.anprService.ListSessions(c.Request.Context(), filter)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(sessions))
}

func (h *Handler) reapSessions(c *gin.Context) {
	result, err := h.anprService.RunReapSweep(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(result))
}

func (h *Handler) healthz(c *gin.Context) {
	if h.health != nil {
		if err := h.health(c.Request.Context()); err != nil {
			h.log.Error().Err(err).Msg("health check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	case errors.Is(err, service.ErrStorage):
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("storage failure")
		c.JSON(http.StatusServiceUnavailable, errorResponse("storage unavailable"))
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}

func pagination(c *gin.Context) (int, int) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := parseInt(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	offset := 0
	if o := c.Query("offset"); o != "" {
		if parsed, err := parseInt(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(s)
}

func decodeBase64Image(s string) ([]byte, error) {
	if i := strings.Index(s, ","); strings.HasPrefix(s, "data:") && i >= 0 {
		s = s[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty image")
	}
	return data, nil
}
