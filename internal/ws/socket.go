package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	socketio "github.com/googollee/go-socket.io"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/quizdash/internal/config"
	"github.com/kiliankoe/quizdash/internal/game"
)

const commandTimeout = 10 * time.Second

type ConnCtx struct {
	Code     string
	Token    string
	Role     string // "host" | "player"
	PlayerID string
}

// Server exposes the game controller over socket.io and doubles as a
// game.Broadcaster for the rooms it serves.
type Server struct {
	ctrl    *game.Controller
	start   config.StartDefaults
	io      *socketio.Server
	mu      sync.Mutex
	members map[string]map[string]socketio.Conn // sessionCode -> socketID -> Conn
}

func New(ctrl *game.Controller, start config.StartDefaults) *Server {
	srv := &Server{
		ctrl:    ctrl,
		start:   start,
		io:      socketio.NewServer(nil),
		members: make(map[string]map[string]socketio.Conn),
	}
	srv.register()
	return srv
}

// Publish forwards a game event to every socket in the session's room.
func (srv *Server) Publish(room, event string, payload any) {
	srv.io.BroadcastToRoom("/", room, event, payload)
}

type createPayload struct {
	Config *game.ConfigOverrides `json:"config"`
}

type joinPayload struct {
	SessionCode string `json:"sessionCode"`
	Name        string `json:"name"`
}

type resumePayload struct {
	SessionCode string `json:"sessionCode"`
	Role        string `json:"role"`
	Token       string `json:"token"`
	PlayerID    string `json:"playerId"`
}

type startPayload struct {
	Questions    []game.Question `json:"questions"`
	InitialPrize string          `json:"initialPrize"`
	Increment    string          `json:"increment"`
}

type answerPayload struct {
	Value string `json:"value"`
}

type votePayload struct {
	TargetID string `json:"targetId"`
}

func (srv *Server) register() {
	io := srv.io

	io.OnConnect("/", func(s socketio.Conn) error {
		s.SetContext(&ConnCtx{})
		log.Info().Str("sid", s.ID()).Msg("socket connected")
		return nil
	})

	io.OnEvent("/", "game:create", srv.create)
	io.OnEvent("/", "game:join", srv.join)
	io.OnEvent("/", "game:resume", srv.resume)
	io.OnEvent("/", "game:start", srv.startGame)
	io.OnEvent("/", "game:answer", srv.answer)
	io.OnEvent("/", "game:vote", srv.vote)
	io.OnEvent("/", "game:advance", srv.advance)

	io.OnError("/", func(s socketio.Conn, e error) {
		log.Error().Err(e).Msg("socket error")
	})
	io.OnDisconnect("/", func(s socketio.Conn, reason string) {
		if cc, ok := s.Context().(*ConnCtx); ok && cc.Code != "" {
			srv.removeMember(cc.Code, s)
		}
		log.Info().Str("sid", s.ID()).Str("reason", reason).Msg("socket disconnected")
	})
}

// game:create
func (srv *Server) create(s socketio.Conn, payload createPayload) map[string]any {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	code, hostToken, err := srv.ctrl.CreateSession(ctx, payload.Config)
	if err != nil {
		return srv.fail(s, err)
	}
	srv.attach(s, &ConnCtx{Code: code, Token: hostToken, Role: "host"})
	log.Info().Str("sid", s.ID()).Str("code", code).Msg("game:create")
	srv.emitStateTo(s)
	return map[string]any{"sessionCode": code, "hostToken": hostToken}
}

// game:join
func (srv *Server) join(s socketio.Conn, payload joinPayload) map[string]any {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	playerID, err := srv.ctrl.Join(ctx, payload.SessionCode, payload.Name)
	if err != nil {
		return srv.fail(s, err)
	}
	code := game.NormalizeCode(payload.SessionCode)
	srv.attach(s, &ConnCtx{Code: code, Role: "player", PlayerID: playerID})
	log.Info().Str("sid", s.ID()).Str("code", code).Str("playerId", playerID).Msg("game:join")
	srv.emitStateTo(s)
	return map[string]any{"playerId": playerID, "sessionCode": code}
}

// game:resume (reconnection)
func (srv *Server) resume(s socketio.Conn, payload resumePayload) map[string]any {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	sess, err := srv.ctrl.Snapshot(ctx, payload.SessionCode)
	if err != nil {
		return srv.fail(s, err)
	}
	cc := &ConnCtx{Code: sess.Code, Role: payload.Role}
	if payload.Role == "host" {
		if err := srv.ctrl.AuthorizeHost(sess.Code, payload.Token); err != nil {
			return srv.fail(s, game.ErrNotHost)
		}
		cc.Token = payload.Token
	} else {
		if sess.Player(payload.PlayerID) == nil {
			return srv.fail(s, game.ErrPlayerNotFound)
		}
		cc.Role = "player"
		cc.PlayerID = payload.PlayerID
	}
	srv.attach(s, cc)
	log.Info().Str("sid", s.ID()).Str("code", sess.Code).Str("role", cc.Role).Msg("game:resume")
	srv.emitStateTo(s)
	return map[string]any{"ok": true}
}

// game:start (host)
func (srv *Server) startGame(s socketio.Conn, payload startPayload) map[string]any {
	cc := connCtx(s)
	questions, initial, inc, err := srv.start.Resolve(payload.Questions, payload.InitialPrize, payload.Increment)
	if err != nil {
		return srv.fail(s, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := srv.ctrl.StartSession(ctx, cc.Code, cc.Token, questions, initial, inc); err != nil {
		return srv.fail(s, err)
	}
	log.Info().Str("code", cc.Code).Int("questions", len(questions)).Msg("game:start")
	return map[string]any{"ok": true}
}

// game:answer (player)
func (srv *Server) answer(s socketio.Conn, payload answerPayload) map[string]any {
	cc := connCtx(s)
	if cc.PlayerID == "" {
		return srv.fail(s, game.ErrPlayerNotFound)
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := srv.ctrl.SubmitAnswer(ctx, cc.Code, cc.PlayerID, payload.Value); err != nil {
		return srv.fail(s, err)
	}
	return map[string]any{"ok": true}
}

// game:vote (player)
func (srv *Server) vote(s socketio.Conn, payload votePayload) map[string]any {
	cc := connCtx(s)
	if cc.PlayerID == "" {
		return srv.fail(s, game.ErrPlayerNotFound)
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := srv.ctrl.CastVote(ctx, cc.Code, cc.PlayerID, payload.TargetID); err != nil {
		return srv.fail(s, err)
	}
	log.Info().Str("code", cc.Code).Str("voter", cc.PlayerID).Str("target", payload.TargetID).Msg("game:vote")
	return map[string]any{"ok": true}
}

// game:advance (host)
func (srv *Server) advance(s socketio.Conn) map[string]any {
	cc := connCtx(s)
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := srv.ctrl.ForceAdvance(ctx, cc.Code, cc.Token); err != nil {
		return srv.fail(s, err)
	}
	log.Info().Str("code", cc.Code).Msg("game:advance")
	return map[string]any{"ok": true}
}

// Mount attaches the Socket.IO server to the given Gin engine and starts serving.
func (srv *Server) Mount(r *gin.Engine) {
	go func() {
		if err := srv.io.Serve(); err != nil {
			log.Error().Err(err).Msg("socket.io serve")
		}
	}()

	r.GET("/socket.io/*any", gin.WrapH(srv.io))
	r.POST("/socket.io/*any", gin.WrapH(srv.io))
	r.OPTIONS("/socket.io/*any", func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		c.Status(http.StatusNoContent)
	})
}

func (srv *Server) Close() error { return srv.io.Close() }

// Members reports how many sockets are attached to a session.
func (srv *Server) Members(code string) int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return len(srv.members[code])
}

func (srv *Server) attach(s socketio.Conn, cc *ConnCtx) {
	if prev, ok := s.Context().(*ConnCtx); ok && prev.Code != "" && prev.Code != cc.Code {
		s.Leave(prev.Code)
		srv.removeMember(prev.Code, s)
	}
	s.SetContext(cc)
	s.Join(cc.Code)
	srv.addMember(cc.Code, s)
}

func (srv *Server) addMember(code string, c socketio.Conn) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.members[code] == nil {
		srv.members[code] = make(map[string]socketio.Conn)
	}
	srv.members[code][c.ID()] = c
}

func (srv *Server) removeMember(code string, c socketio.Conn) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if m := srv.members[code]; m != nil {
		delete(m, c.ID())
		if len(m) == 0 {
			delete(srv.members, code)
		}
	}
}

// emitStateTo sends the public session view to a single connection.
func (srv *Server) emitStateTo(s socketio.Conn) {
	cc := connCtx(s)
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	sess, err := srv.ctrl.Snapshot(ctx, cc.Code)
	if err != nil {
		return
	}
	you := map[string]any{"role": cc.Role}
	if cc.PlayerID != "" {
		you["playerId"] = cc.PlayerID
	}
	s.Emit("game:state", map[string]any{"session": sess.View(), "you": you})
}

func (srv *Server) fail(s socketio.Conn, err error) map[string]any {
	code := errorCode(err)
	log.Warn().Str("sid", s.ID()).Str("code", code).Err(err).Msg("socket command failed")
	s.Emit("error", map[string]any{"code": code, "message": err.Error()})
	return map[string]any{"error": err.Error(), "code": code}
}

// errorCode maps an error kind to the code reported to clients.
func errorCode(err error) string {
	switch {
	case errors.Is(err, game.ErrNotHost):
		return "unauthorized"
	case errors.Is(err, game.ErrNotFound):
		return "not_found"
	case errors.Is(err, game.ErrValidation):
		return "bad_request"
	case errors.Is(err, game.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, game.ErrStoreFailure):
		return "unavailable"
	default:
		return "internal"
	}
}

func connCtx(s socketio.Conn) *ConnCtx {
	if cc, ok := s.Context().(*ConnCtx); ok {
		return cc
	}
	return &ConnCtx{}
}
