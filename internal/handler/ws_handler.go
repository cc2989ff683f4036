package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/draft"
	"github.com/stemsi/exstem-proctor/internal/gateway"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

const wsPingInterval = 30 * time.Second

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler hosts one proctored session controller per WebSocket connection.
type WSHandler struct {
	rdb              *redis.Client
	attemptService   *service.AttemptService
	violationService *service.ViolationService
	cfg              *config.Config
	log              zerolog.Logger
	upgrader         websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(
	rdb *redis.Client,
	attemptService *service.AttemptService,
	violationService *service.ViolationService,
	cfg *config.Config,
	log zerolog.Logger,
) *WSHandler {
	return &WSHandler{
		rdb:              rdb,
		attemptService:   attemptService,
		violationService: violationService,
		cfg:              cfg,
		log:              log.With().Str("component", "ws_handler").Logger(),
		upgrader:         buildUpgrader(cfg.AllowedOrigins),
	}
}

// ProctorStream godoc
// WS /ws/v1/student/assessment-attempt/:id/proctor?token=...&fullscreen=1
// Runs the session controller for the attempt. Browser signals come in as
// "signal" actions; snapshots and notices go out as they are published.
func (h *WSHandler) ProctorStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	// SECURITY: Only the owner may attach a controller to the attempt.
	attempt, err := h.attemptService.OwnedAttempt(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAttemptNotFound):
			response.Fail(c, http.StatusNotFound, response.ErrAttemptNotFound)
		case errors.Is(err, service.ErrAttemptForbidden):
			response.Fail(c, http.StatusForbidden, response.ErrAttemptForbidden)
		default:
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}
	fullscreen, _ := strconv.ParseBool(c.Query("fullscreen"))

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Int("student_id", claims.UserID).
		Str("attempt_id", attemptID.String()).
		Logger()

	bridge := service.NewAttemptBridge(h.attemptService, h.violationService, claims.UserID, c.ClientIP())
	outbox := proctor.NewOutbox(
		func(s proctor.Snapshot) any { return ws.SnapshotResponse{Event: ws.EventSnapshot, Snapshot: s} },
		func(n proctor.Notice) any { return ws.NoticeResponse{Event: ws.EventNotice, Notice: n} },
	)

	ctrl := proctor.New(proctor.Deps{
		Loader:   bridge,
		Counter:  bridge,
		Drafts:   draft.NewAdapter(draft.NewRedisStore(h.rdb, h.cfg.DraftTTL), bridge, wsLog),
		Gateway:  gateway.New(bridge, wsLog),
		IPLookup: bridge,
		Observer: outbox,
		Logger:   wsLog,
	}, proctor.Options{
		SessionID:    attempt.ID,
		AssessmentID: attempt.AssessmentID,
		StudentID:    claims.UserID,
		Policy:       h.cfg.Proctor,
		Fullscreen:   fullscreen,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.cfg.Proctor.SubmitTimeout)
		defer cancel()
		ctrl.Shutdown(shutdownCtx)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = ctrl.Run(ctx) }()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(ctx, conn, outbox, ctrl, wsLog)
	}()

	wsLog.Info().Msg("Student connected to proctor stream")
	ctrl.Start()

	h.readLoop(ctx, conn, ctrl, outbox, wsLog)

	cancel()
	<-writerDone
	wsLog.Info().Str("phase", string(ctrl.Snapshot().Phase)).Msg("Proctor stream closed")
}

// readLoop feeds client messages into the controller until the socket closes.
func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, ctrl *proctor.Controller, outbox *proctor.Outbox, wsLog zerolog.Logger) {
	for {
		var msg ws.RequestPayload
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionSignal:
			if msg.Signal == nil {
				outbox.Push(ws.NewError("signal is required"))
				continue
			}
			if err := ctrl.Dispatch(*msg.Signal); err != nil {
				outbox.Push(ws.NewError(err.Error()))
			}

		case ws.ActionLoadDraft:
			// SECURITY: Validate the id is a well-formed UUID to prevent Redis key injection.
			questionID, err := uuid.Parse(msg.QuestionID)
			if err != nil {
				outbox.Push(ws.NewError("invalid question_id format"))
				continue
			}
			content, source := ctrl.LoadDraft(ctx, questionID, msg.Variant, msg.Template)
			outbox.Push(ws.DraftResponse{
				Event:      ws.EventDraft,
				QuestionID: msg.QuestionID,
				Variant:    msg.Variant,
				Content:    content,
				Source:     source,
			})

		case ws.ActionPing:
			outbox.Push(ws.PongResponse{Event: ws.EventPong})

		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			outbox.Push(ws.NewError("unknown action: " + string(msg.Action)))
		}
	}
}

// writeLoop is the connection's only writer. Once the session terminates it
// flushes what is left and closes the socket, which also ends readLoop.
func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, outbox *proctor.Outbox, ctrl *proctor.Controller, wsLog zerolog.Logger) {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	flush := func() bool {
		for _, item := range outbox.Take() {
			if err := ws.WriteTyped(conn, item); err != nil {
				wsLog.Debug().Err(err).Msg("Write failed")
				return false
			}
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-outbox.Ready():
			if !flush() {
				_ = conn.Close()
				return
			}

		case <-ctrl.Done():
			flush()
			_ = ws.WriteClose(conn, string(model.PhaseTerminated))
			_ = conn.Close()
			return

		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}
