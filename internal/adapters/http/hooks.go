package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dasnai88/KTK-messedger-sub000/internal/app"
	"github.com/dasnai88/KTK-messedger-sub000/internal/app/orch"
	"github.com/dasnai88/KTK-messedger-sub000/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// hooks are called by the API backend after it has persisted something
// that connected clients should hear about.
type hooks struct {
	orch    *orch.Orchestrator
	timeout time.Duration
}

type messageRequest struct {
	ID       string          `json:"id"`
	SenderID string          `json:"senderId" binding:"required"`
	Preview  string          `json:"preview"`
	Message  json.RawMessage `json:"message" binding:"required"`
}

type readRequest struct {
	ReaderID   string    `json:"readerId" binding:"required"`
	LastReadAt time.Time `json:"lastReadAt" binding:"required"`
}

type publishResponse struct {
	SentTo  int             `json:"sentTo"`
	Offline []domain.UserID `json:"offline"`
}

func respond(c *gin.Context, res app.PublishResult) {
	offline := res.Offline
	if offline == nil {
		offline = []domain.UserID{}
	}
	c.JSON(http.StatusAccepted, publishResponse{SentTo: res.SentTo, Offline: offline})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func (h *hooks) ctx(c *gin.Context) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), h.timeout)
}

func (h *hooks) publishMessage(c *gin.Context) {
	conv, err := domain.ParseConversationID(c.Param("id"))
	if err != nil {
		badRequest(c, err)
		return
	}
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sender, err := domain.ParseUserID(req.SenderID)
	if err != nil {
		badRequest(c, err)
		return
	}

	ctx, cancel := h.ctx(c)
	defer cancel()
	res, err := h.orch.Fanout.Publish(ctx, domain.Message{
		ID:             req.ID,
		ConversationID: conv,
		SenderID:       sender,
		Preview:        req.Preview,
		Body:           req.Message,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("conversation", string(conv)).Msg("publish message")
		c.JSON(http.StatusBadGateway, gin.H{"error": "membership lookup failed"})
		return
	}
	respond(c, res)
}

func (h *hooks) markRead(c *gin.Context) {
	conv, err := domain.ParseConversationID(c.Param("id"))
	if err != nil {
		badRequest(c, err)
		return
	}
	var req readRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	reader, err := domain.ParseUserID(req.ReaderID)
	if err != nil {
		badRequest(c, err)
		return
	}

	ctx, cancel := h.ctx(c)
	defer cancel()
	res, err := h.orch.Fanout.MarkRead(ctx, domain.ReadMark{ConversationID: conv, ReaderID: reader, LastReadAt: req.LastReadAt})
	switch {
	case errors.Is(err, domain.ErrStaleRead):
		c.JSON(http.StatusOK, gin.H{"stale": true})
	case err != nil:
		log.Error().Err(err).Str("module", "adapters.http").Str("conversation", string(conv)).Msg("mark read")
		c.JSON(http.StatusBadGateway, gin.H{"error": "mark read failed"})
	default:
		respond(c, res)
	}
}

func (h *hooks) publishPost(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil || !json.Valid(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid post"})
		return
	}
	res, err := h.orch.Fanout.PublishPost(json.RawMessage(body))
	if err != nil {
		badRequest(c, err)
		return
	}
	respond(c, res)
}

func (h *hooks) deletePost(c *gin.Context) {
	id := c.Param("id")
	res, err := h.orch.Fanout.PublishPostDelete(id)
	if err != nil {
		badRequest(c, err)
		return
	}
	respond(c, res)
}
