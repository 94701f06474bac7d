package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/senutpal/devradar/internal/auth"
	"github.com/senutpal/devradar/internal/config"
	"github.com/senutpal/devradar/internal/connection"
	"github.com/senutpal/devradar/internal/fanout"
	"github.com/senutpal/devradar/internal/presence"
	"github.com/senutpal/devradar/internal/protocol"
	"github.com/senutpal/devradar/internal/task"
)

// FriendSource 好友关系读取端（持久层协作方）
type FriendSource interface {
	GetFriendIDs(ctx context.Context, userID int64) ([]int64, error)
	AreFriends(ctx context.Context, userID, otherID int64) (bool, error)
}

// Server 连接网关
// 把入站 WebSocket 连接变成已认证、被跟踪的会话，并路由协议消息
type Server struct {
	cfg       config.GatewayConfig
	auth      *auth.Service
	connMgr   *connection.Manager
	router    *fanout.Router
	presence  *presence.Store
	friends   FriendSource
	scheduler *task.Scheduler
	handler   *Handler
	upgrader  websocket.Upgrader
	logger    *slog.Logger
	wg        sync.WaitGroup
}

func New(
	cfg config.GatewayConfig,
	authSvc *auth.Service,
	connMgr *connection.Manager,
	router *fanout.Router,
	presenceStore *presence.Store,
	friendSource FriendSource,
	scheduler *task.Scheduler,
	logger *slog.Logger,
) *Server {
	return &Server{
		cfg:       cfg,
		auth:      authSvc,
		connMgr:   connMgr,
		router:    router,
		presence:  presenceStore,
		friends:   friendSource,
		scheduler: scheduler,
		handler:   NewHandler(cfg, connMgr, presenceStore, friendSource, logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// TODO: 生产环境应该检查 Origin
				return true
			},
		},
		logger: logger,
	}
}

// HandleWS 处理连接握手
// 编辑器/浏览器无法在这类握手上带自定义 Header，凭证走连接 URI
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("WebSocket upgrade failed", "error", err)
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		s.closeHandshake(ws, protocol.CloseNoCredential, "credential required")
		return
	}

	claims, err := s.auth.ValidateToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			s.closeHandshake(ws, protocol.CloseExpiredCredential, "credential expired")
		} else {
			s.closeHandshake(ws, protocol.CloseInvalidCredential, "credential invalid")
		}
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	// 认证通过，同步处理会话（阻塞直到连接关闭）
	s.handleSession(r.Context(), ws, claims)
}

func (s *Server) handleSession(ctx context.Context, ws *websocket.Conn, claims *auth.Claims) {
	userID := claims.UserID

	// 建连时快照好友集，连接存续期间不变
	friendIDs, err := s.friends.GetFriendIDs(ctx, userID)
	if err != nil {
		s.logger.Error("Failed to load friend ids",
			"user_id", userID,
			"error", err)
		s.closeHandshake(ws, protocol.CloseServerError, "internal error")
		return
	}

	conn := connection.New(userID, claims.DeviceID, friendIDs, ws, s.cfg.WriteTimeout, s.logger)

	// 同一用户只保留一条活跃连接，新连接顶掉旧连接
	if evicted := s.connMgr.Register(conn); evicted != nil {
		s.logger.Info("Evicting previous connection",
			"user_id", userID,
			"old_device", evicted.DeviceID())
		evicted.CloseWithCode(protocol.CloseGoingAway, "superseded by new connection")
	}

	// 宽限期内重连：取消待执行的离线任务
	s.scheduler.Cancel(offlineTaskID(userID))

	for _, fid := range friendIDs {
		if err := s.router.Subscribe(userID, fid); err != nil {
			s.logger.Warn("Failed to subscribe presence channel",
				"user_id", userID,
				"friend_id", fid,
				"error", err)
		}
	}

	defer func() {
		s.router.UnsubscribeAll(userID, friendIDs)

		// 注销成功说明这条连接还是当前连接（未被顶号），
		// 只有这种关闭才开启离线宽限期
		if s.connMgr.Unregister(conn) {
			s.scheduleOffline(userID)
		}
		conn.CloseWithCode(protocol.CloseNormal, "")
		s.logger.Info("Session closed", "user_id", userID)
	}()

	s.logger.Info("Session established",
		"user_id", userID,
		"device_id", claims.DeviceID,
		"platform", claims.Platform,
		"friend_count", len(friendIDs))

	if err := s.pushInitialState(ctx, conn, friendIDs); err != nil {
		s.logger.Warn("Failed to push initial state",
			"user_id", userID,
			"error", err)
		return
	}

	// 阻塞读循环，返回即触发 defer 清理
	s.handler.readLoop(ctx, conn)
}

// pushInitialState 下发 CONNECTED 和每个好友的当前状态快照
// 离线期间的状态不排队，快照是重连后唯一的补偿
func (s *Server) pushInitialState(ctx context.Context, conn *connection.Connection, friendIDs []int64) error {
	env, err := protocol.NewEnvelope(protocol.TypeConnected, &protocol.ConnectedPayload{
		UserID:      conn.UserID(),
		FriendCount: len(friendIDs),
	})
	if err != nil {
		return err
	}
	if err := sendEnvelope(conn, env); err != nil {
		return err
	}

	records, err := s.presence.GetBatch(ctx, friendIDs)
	if err != nil {
		return err
	}

	for _, rec := range records {
		env, err := protocol.NewEnvelope(protocol.TypeFriendStatus, &protocol.FriendStatusPayload{
			UserID:    rec.UserID,
			Status:    rec.Status,
			Activity:  rec.Activity,
			UpdatedAt: rec.UpdatedAt,
		})
		if err != nil {
			return err
		}
		if err := sendEnvelope(conn, env); err != nil {
			return err
		}
	}
	return nil
}

// scheduleOffline 开启离线宽限期
// 到期时若用户仍无新连接，才真正标记离线
func (s *Server) scheduleOffline(userID int64) {
	t := task.New(offlineTaskID(userID), userID, s.graceSeconds(), func(ctx context.Context, uid int64) error {
		if s.connMgr.Get(uid) != nil {
			return nil // 宽限期内已重连
		}
		return s.presence.MarkOffline(ctx, uid)
	})
	if err := s.scheduler.Schedule(t); err != nil {
		s.logger.Error("Failed to schedule offline task",
			"user_id", userID,
			"error", err)
	}
}

func (s *Server) graceSeconds() int {
	secs := int(s.cfg.GracePeriod / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func offlineTaskID(userID int64) string {
	return fmt.Sprintf("offline:%d", userID)
}

// closeHandshake 握手阶段失败：带区分码关闭，不提供重试建议
func (s *Server) closeHandshake(ws *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	ws.Close()
}

// Shutdown 服务端下线：关闭所有连接并等待会话收尾
func (s *Server) Shutdown() {
	s.connMgr.CloseAll(protocol.CloseGoingAway, "server shutting down")
	s.wg.Wait()
}
