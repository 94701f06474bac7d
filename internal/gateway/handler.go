package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/senutpal/devradar/internal/apperrors"
	"github.com/senutpal/devradar/internal/config"
	"github.com/senutpal/devradar/internal/connection"
	"github.com/senutpal/devradar/internal/presence"
	"github.com/senutpal/devradar/internal/protocol"
)

// Handler 入站消息分发器
// 读循环串行执行：同一连接的消息按到达顺序处理
type Handler struct {
	cfg      config.GatewayConfig
	connMgr  *connection.Manager
	presence *presence.Store
	friends  FriendSource
	logger   *slog.Logger
}

func NewHandler(cfg config.GatewayConfig, connMgr *connection.Manager, presenceStore *presence.Store, friendSource FriendSource, logger *slog.Logger) *Handler {
	return &Handler{
		cfg:      cfg,
		connMgr:  connMgr,
		presence: presenceStore,
		friends:  friendSource,
		logger:   logger,
	}
}

// rateWindow 固定窗口计数限流
type rateWindow struct {
	start time.Time
	count int
}

func (w *rateWindow) allow(limit int, window time.Duration) bool {
	now := time.Now()
	if now.Sub(w.start) >= window {
		w.start = now
		w.count = 0
	}
	w.count++
	return w.count <= limit
}

// readLoop 连接读循环，返回即连接生命周期结束
func (h *Handler) readLoop(ctx context.Context, conn *connection.Connection) {
	var limiter rateWindow

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("Read loop terminated",
					"user_id", conn.UserID(),
					"error", err)
			}
			return
		}

		if !limiter.allow(h.cfg.MessageRateLimit, h.cfg.MessageRateWindow) {
			h.logger.Warn("Connection rate limited",
				"user_id", conn.UserID(),
				"limit", h.cfg.MessageRateLimit)
			conn.CloseWithCode(protocol.CloseRateLimited, "message rate limit exceeded")
			return
		}

		env, err := protocol.Decode(data)
		if err != nil {
			// 格式错误回 ERROR 应答，不断开连接
			h.sendError(conn, "", err)
			continue
		}

		h.dispatch(ctx, conn, env)
	}
}

// dispatch 按消息类型分发
// 处理失败回 ERROR 应答并回显 correlationId，连接保持
func (h *Handler) dispatch(ctx context.Context, conn *connection.Connection, env *protocol.Envelope) {
	var err error

	switch env.Type {
	case protocol.TypeHeartbeat:
		err = h.handleHeartbeat(conn, env)
	case protocol.TypeStatusUpdate:
		err = h.handleStatusUpdate(ctx, conn, env)
	case protocol.TypePoke:
		err = h.handlePoke(ctx, conn, env)
	case protocol.TypeSubscribe, protocol.TypeUnsubscribe:
		// 好友集建连时固定，连接内不支持增删订阅
		err = apperrors.ErrUnsupportedOp
	default:
		err = apperrors.ErrUnknownMessageType
	}

	if err != nil {
		h.sendError(conn, env.CorrelationID, err)
	}
}

func (h *Handler) handleHeartbeat(conn *connection.Connection, env *protocol.Envelope) error {
	conn.UpdateHeartbeat()

	pong, err := protocol.NewEnvelope(protocol.TypePong, &protocol.PongPayload{
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return apperrors.ErrServerError.Wrap(err)
	}
	pong.CorrelationID = env.CorrelationID
	return sendEnvelope(conn, pong)
}

func (h *Handler) handleStatusUpdate(ctx context.Context, conn *connection.Connection, env *protocol.Envelope) error {
	var payload protocol.StatusUpdatePayload
	if err := env.Bind(&payload); err != nil {
		return err
	}
	if err := payload.Validate(); err != nil {
		return err
	}

	return h.presence.Set(ctx, &presence.Record{
		UserID:   conn.UserID(),
		Status:   payload.Status,
		Activity: payload.Activity,
	})
}

// handlePoke 戳一下：要求互为好友，目标离线时丢弃不排队
func (h *Handler) handlePoke(ctx context.Context, conn *connection.Connection, env *protocol.Envelope) error {
	var payload protocol.PokePayload
	if err := env.Bind(&payload); err != nil {
		return err
	}
	if err := payload.Validate(); err != nil {
		return err
	}
	if payload.ToUserID == conn.UserID() {
		return apperrors.ErrInvalidParams
	}

	ok, err := h.friends.AreFriends(ctx, conn.UserID(), payload.ToUserID)
	if err != nil {
		return apperrors.ErrStoreError.Wrap(err)
	}
	if !ok {
		return apperrors.ErrNotFriends
	}

	out, err := protocol.NewEnvelope(protocol.TypePoke, &protocol.PokePayload{
		FromUserID: conn.UserID(),
		ToUserID:   payload.ToUserID,
		Message:    payload.Message,
	})
	if err != nil {
		return apperrors.ErrServerError.Wrap(err)
	}
	frame, err := out.Encode()
	if err != nil {
		return apperrors.ErrServerError.Wrap(err)
	}

	if !h.connMgr.SendToUser(payload.ToUserID, frame) {
		h.logger.Debug("Poke target offline, dropped",
			"from_user_id", conn.UserID(),
			"to_user_id", payload.ToUserID)
	}
	return nil
}

// sendError 下发错误应答，code 取自 apperrors 错误码
func (h *Handler) sendError(conn *connection.Connection, correlationID string, cause error) {
	env, err := protocol.NewEnvelope(protocol.TypeError, &protocol.ErrorPayload{
		Code:    apperrors.GetCode(cause),
		Message: apperrors.GetMessage(cause),
	})
	if err != nil {
		h.logger.Error("Failed to build error envelope",
			"user_id", conn.UserID(),
			"error", err)
		return
	}
	env.CorrelationID = correlationID

	if err := sendEnvelope(conn, env); err != nil {
		h.logger.Debug("Failed to send error reply",
			"user_id", conn.UserID(),
			"error", err)
	}
}

func sendEnvelope(conn *connection.Connection, env *protocol.Envelope) error {
	frame, err := env.Encode()
	if err != nil {
		return apperrors.ErrServerError.Wrap(err)
	}
	return conn.Send(frame)
}
