package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/kiliankoe/quizdash/internal/config"
	"github.com/kiliankoe/quizdash/internal/game"
)

const (
	hostTokenHeader = "X-Host-Token"
	qrSize          = 320
)

type Options struct {
	PublicURL string // join links in QR codes are PublicURL + "/join/" + code
	GMUser    string
	GMPass    string
}

// Handler serves the session REST API.
type Handler struct {
	ctrl  *game.Controller
	start config.StartDefaults
	opts  Options
}

func NewHandler(ctrl *game.Controller, start config.StartDefaults, opts Options) *Handler {
	opts.PublicURL = strings.TrimRight(opts.PublicURL, "/")
	return &Handler{ctrl: ctrl, start: start, opts: opts}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	api := r.Group("/api")

	api.GET("/session/active", h.active)

	create := []gin.HandlerFunc{}
	if h.opts.GMUser != "" && h.opts.GMPass != "" {
		create = append(create, gin.BasicAuth(gin.Accounts{h.opts.GMUser: h.opts.GMPass}))
	}
	api.POST("/sessions", append(create, h.create)...)

	s := api.Group("/sessions/:code")
	s.GET("", h.snapshot)
	s.POST("/players", h.join)
	s.POST("/start", h.startSession)
	s.POST("/answers", h.answer)
	s.POST("/votes", h.vote)
	s.POST("/advance", h.advance)
	s.GET("/ranking", h.ranking)
	s.GET("/votes/:round", h.votes)
	s.GET("/qr.png", h.qr)
}

func (h *Handler) active(c *gin.Context) {
	if code, ok := h.ctrl.Rooms().Latest(); ok {
		c.JSON(http.StatusOK, gin.H{"sessionCode": code})
		return
	}
	c.Status(http.StatusNotFound)
}

func (h *Handler) create(c *gin.Context) {
	var req struct {
		Config *game.ConfigOverrides `json:"config"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_config"})
			return
		}
	}
	code, hostToken, err := h.ctrl.CreateSession(c.Request.Context(), req.Config)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"sessionCode": code, "hostToken": hostToken})
}

func (h *Handler) join(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body"})
		return
	}
	id, err := h.ctrl.Join(c.Request.Context(), c.Param("code"), req.Name)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"playerId": id})
}

func (h *Handler) startSession(c *gin.Context) {
	var req struct {
		Questions    []game.Question `json:"questions"`
		InitialPrize string          `json:"initialPrize"`
		Increment    string          `json:"increment"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body"})
			return
		}
	}
	questions, initial, inc, err := h.start.Resolve(req.Questions, req.InitialPrize, req.Increment)
	if err != nil {
		h.fail(c, err)
		return
	}
	err = h.ctrl.StartSession(c.Request.Context(), c.Param("code"), c.GetHeader(hostTokenHeader), questions, initial, inc)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) answer(c *gin.Context) {
	var req struct {
		PlayerID string `json:"playerId" binding:"required"`
		Value    string `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body"})
		return
	}
	if err := h.ctrl.SubmitAnswer(c.Request.Context(), c.Param("code"), req.PlayerID, req.Value); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"ok": true})
}

func (h *Handler) vote(c *gin.Context) {
	var req struct {
		PlayerID string `json:"playerId" binding:"required"`
		TargetID string `json:"targetId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body"})
		return
	}
	if err := h.ctrl.CastVote(c.Request.Context(), c.Param("code"), req.PlayerID, req.TargetID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"ok": true})
}

func (h *Handler) advance(c *gin.Context) {
	if err := h.ctrl.ForceAdvance(c.Request.Context(), c.Param("code"), c.GetHeader(hostTokenHeader)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) snapshot(c *gin.Context) {
	s, err := h.ctrl.Snapshot(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.View())
}

func (h *Handler) ranking(c *gin.Context) {
	r, err := h.ctrl.Ranking(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ranking": r})
}

func (h *Handler) votes(c *gin.Context) {
	round, err := strconv.Atoi(c.Param("round"))
	if err != nil || round < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_round"})
		return
	}
	tally, err := h.ctrl.Votes(c.Request.Context(), c.Param("code"), round)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"round": round, "tally": tally})
}

// qr renders the session's join link as a PNG.
func (h *Handler) qr(c *gin.Context) {
	s, err := h.ctrl.Snapshot(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.fail(c, err)
		return
	}
	png, err := qrcode.Encode(h.opts.PublicURL+"/join/"+s.Code, qrcode.Medium, qrSize)
	if err != nil {
		log.Error().Err(err).Str("code", s.Code).Msg("qr generation failed")
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, game.ErrNotHost):
		return http.StatusForbidden
	case errors.Is(err, game.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, game.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, game.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, game.ErrStoreFailure):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
