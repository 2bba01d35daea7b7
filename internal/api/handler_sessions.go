package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"behavior-session-backend/internal/model"
	"behavior-session-backend/internal/store"
)

// sessionResponse is the flattened catalog entry returned by the API.
type sessionResponse struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	StartDate       string     `json:"startDate"`
	Dir             string     `json:"dir"`
	PreprocDir      string     `json:"preprocDir,omitempty"`
	StartedAt       *time.Time `json:"startedAt"`
	StoppedAt       *time.Time `json:"stoppedAt"`
	DurationSeconds float64    `json:"durationSeconds"`
	RewardEvents    int        `json:"rewardEvents"`
	RewardVolume    float64    `json:"rewardVolume"`
	LickBouts       int        `json:"lickBouts"`
	Notes           string     `json:"notes,omitempty"`
	ProcessedAt     time.Time  `json:"processedAt"`
}

type streamResponse struct {
	Stream  string `json:"stream"`
	Rows    int    `json:"rows"`
	Present bool   `json:"present"`
}

type sessionDetailResponse struct {
	sessionResponse
	Streams []streamResponse `json:"streams"`
}

func toSessionResponse(s model.Session) sessionResponse {
	return sessionResponse{
		ID:              s.ID,
		Name:            s.Name,
		StartDate:       s.StartDate,
		Dir:             s.Dir,
		PreprocDir:      s.PreprocDir,
		StartedAt:       s.StartedAt,
		StoppedAt:       s.StoppedAt,
		DurationSeconds: s.DurationSeconds,
		RewardEvents:    s.RewardEvents,
		RewardVolume:    s.RewardVolume,
		LickBouts:       s.LickBouts,
		Notes:           s.Notes,
		ProcessedAt:     s.ProcessedAt,
	}
}

// ListSessions handles GET /api/sessions. The optional min_duration query
// keeps sessions strictly longer than the given Go duration.
func (h *Handler) ListSessions(c *gin.Context) {
	var minDuration time.Duration
	if raw := c.Query("min_duration"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid min_duration"})
			return
		}
		minDuration = d
	}

	sessions, err := h.store.ListSessions(c.Request.Context(), minDuration)
	if err != nil {
		h.log.Error("[API] failed to list sessions", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve sessions"})
		return
	}

	response := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		response = append(response, toSessionResponse(s))
	}
	c.JSON(http.StatusOK, response)
}

// GetSession handles GET /api/sessions/{id}.
func (h *Handler) GetSession(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}

	response := sessionDetailResponse{
		sessionResponse: toSessionResponse(*sess),
		Streams:         make([]streamResponse, 0, len(sess.Artifacts)),
	}
	for _, a := range sess.Artifacts {
		response.Streams = append(response.Streams, streamResponse{Stream: a.Stream, Rows: a.RowCount, Present: a.Present})
	}
	c.JSON(http.StatusOK, response)
}

// GetStream handles GET /api/sessions/{id}/streams/{stream} by serving the
// persisted artifact file as is.
func (h *Handler) GetStream(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}

	name := c.Param("stream")
	for _, a := range sess.Artifacts {
		if a.Stream != name {
			continue
		}
		if !a.Present || a.Path == "" {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Stream not recorded"})
			return
		}
		c.Header("Content-Type", "application/json")
		c.File(a.Path)
		return
	}
	c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Unknown stream"})
}

func (h *Handler) lookup(c *gin.Context) (*model.Session, bool) {
	sess, err := h.store.GetSession(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return nil, false
	case err != nil:
		h.log.Error("[API] failed to get session", zap.String("session", c.Param("id")), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve session"})
		return nil, false
	}
	return sess, true
}
