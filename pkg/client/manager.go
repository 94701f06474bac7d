package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/senutpal/devradar/internal/protocol"
)

var (
	ErrNoCredential = errors.New("no credential configured")
	ErrNotStopped   = errors.New("manager already started")
)

// State 连接状态
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	}
	return "unknown"
}

// Conn 传输连接抽象
type Conn interface {
	Send(data []byte) error
	Receive() ([]byte, error)
	Close(code int, reason string) error
}

// Transport 拨号端
type Transport interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Options 连接管理器配置
type Options struct {
	URL   string
	Token string

	HeartbeatInterval time.Duration
	IdleThreshold     time.Duration
	IdleCheckInterval time.Duration
	DebounceDelay     time.Duration

	Backoff     Backoff
	MaxAttempts int

	QueueSize   int
	QueueMaxAge time.Duration

	Transport Transport
	Logger    *slog.Logger

	OnStateChange  func(State)
	OnFriendStatus func(p *protocol.FriendStatusPayload)
	OnPoke         func(p *protocol.PokePayload)
	OnError        func(p *protocol.ErrorPayload)
	// OnMessage 收到任意入站信封时回调（在类型化回调之后）
	OnMessage func(env *protocol.Envelope)
	// OnGiveUp 重连预算耗尽后回调一次，此后不再自动重试
	OnGiveUp func()
}

func (o *Options) applyDefaults() {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.IdleThreshold <= 0 {
		o.IdleThreshold = 5 * time.Minute
	}
	if o.IdleCheckInterval <= 0 {
		o.IdleCheckInterval = 30 * time.Second
	}
	if o.DebounceDelay <= 0 {
		o.DebounceDelay = 2 * time.Second
	}
	if o.Backoff.Initial <= 0 {
		o.Backoff = DefaultBackoff()
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 10
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 100
	}
	if o.QueueMaxAge <= 0 {
		o.QueueMaxAge = 5 * time.Minute
	}
	if o.Transport == nil {
		o.Transport = WSTransport{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// statusSnapshot 上次实际发送的状态指纹，用于抑制重复上报
type statusSnapshot struct {
	status    string
	file      string
	language  string
	project   string
	workspace string
}

func snapshotOf(status string, act *protocol.Activity) statusSnapshot {
	snap := statusSnapshot{status: status}
	if act != nil {
		snap.file = act.File
		snap.language = act.Language
		snap.project = act.Project
		snap.workspace = act.Workspace
	}
	return snap
}

// Manager 设备侧连接管理器
// 每台设备持有一条出站连接：断线按退避重连，离线发送进队列，
// 心跳看门狗识别半开连接
type Manager struct {
	opts  Options
	queue *Queue

	mu             sync.Mutex
	state          State
	conn           Conn
	attempts       int
	manualClose    bool
	lastPong       time.Time
	lastActivity   time.Time
	currentStatus  string
	lastSent       *statusSnapshot
	pendingStatus  *protocol.StatusUpdatePayload
	debounceTimer  *time.Timer
	reconnectTimer *time.Timer
	ctx            context.Context
	cancel         context.CancelFunc
}

// NewManager 创建连接管理器
func NewManager(opts Options) *Manager {
	opts.applyDefaults()
	return &Manager{
		opts:  opts,
		queue: NewQueue(opts.QueueSize, opts.QueueMaxAge),
		state: StateDisconnected,
	}
}

// State 当前连接状态
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Queued 当前离线积压帧数
func (m *Manager) Queued() int {
	return m.queue.Len()
}

// Connect 发起连接
// 无凭证时保持 disconnected，不做任何尝试
func (m *Manager) Connect() error {
	m.mu.Lock()
	if m.opts.Token == "" {
		m.mu.Unlock()
		return ErrNoCredential
	}
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return ErrNotStopped
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.ctx = ctx
	m.cancel = cancel
	m.manualClose = false
	m.attempts = 0
	m.lastActivity = time.Now()
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	go m.dial(ctx)
	return nil
}

// Disconnect 主动断开：取消在途重连定时器，不再自动重试
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.manualClose = true
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	if m.debounceTimer != nil {
		m.debounceTimer.Stop()
		m.debounceTimer = nil
	}
	conn := m.conn
	m.conn = nil
	m.attempts = 0
	cancel := m.cancel
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close(protocol.CloseNormal, "client disconnect")
	}
}

func (m *Manager) dial(ctx context.Context) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	url := m.opts.URL + "?token=" + m.opts.Token
	conn, err := m.opts.Transport.Dial(dialCtx, url)
	if err != nil {
		m.opts.Logger.Debug("Dial failed", "error", err)
		m.scheduleReconnect(ctx)
		return
	}

	m.mu.Lock()
	if ctx.Err() != nil || m.manualClose {
		m.mu.Unlock()
		conn.Close(protocol.CloseNormal, "client disconnect")
		return
	}
	m.conn = conn
	m.attempts = 0
	m.lastPong = time.Now()
	m.mu.Unlock()

	// 先冲离线队列再放行新的实时发送
	m.flushQueue(conn)
	m.transition(StateConnected)
	m.flushQueue(conn)

	go m.readLoop(ctx, conn)
	go m.tickLoop(ctx, conn)

	m.opts.Logger.Info("Connected", "url", m.opts.URL)
}

func (m *Manager) flushQueue(conn Conn) {
	for _, frame := range m.queue.Drain() {
		if err := conn.Send(frame); err != nil {
			m.opts.Logger.Debug("Queue flush interrupted", "error", err)
			m.queue.Push(frame)
			return
		}
	}
}

func (m *Manager) readLoop(ctx context.Context, conn Conn) {
	for {
		data, err := conn.Receive()
		if err != nil {
			m.onConnLost(ctx, conn, err)
			return
		}

		env, derr := protocol.Decode(data)
		if derr != nil {
			m.opts.Logger.Debug("Dropping malformed frame", "error", derr)
			continue
		}

		m.handleInbound(env)
	}
}

func (m *Manager) handleInbound(env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypePong:
		m.mu.Lock()
		m.lastPong = time.Now()
		m.mu.Unlock()
	case protocol.TypeFriendStatus:
		if m.opts.OnFriendStatus != nil {
			var p protocol.FriendStatusPayload
			if err := env.Bind(&p); err == nil {
				m.opts.OnFriendStatus(&p)
			}
		}
	case protocol.TypePoke:
		if m.opts.OnPoke != nil {
			var p protocol.PokePayload
			if err := env.Bind(&p); err == nil {
				m.opts.OnPoke(&p)
			}
		}
	case protocol.TypeError:
		if m.opts.OnError != nil {
			var p protocol.ErrorPayload
			if err := env.Bind(&p); err == nil {
				m.opts.OnError(&p)
			}
		}
	}

	if m.opts.OnMessage != nil {
		m.opts.OnMessage(env)
	}
}

// tickLoop 心跳、半开检测与空闲检测
func (m *Manager) tickLoop(ctx context.Context, conn Conn) {
	heartbeat := time.NewTicker(m.opts.HeartbeatInterval)
	defer heartbeat.Stop()
	idle := time.NewTicker(m.opts.IdleCheckInterval)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if !m.isCurrent(conn) {
				return
			}

			// 看门狗：超过两个心跳周期没有 PONG 视为半开连接
			m.mu.Lock()
			dead := time.Since(m.lastPong) > 2*m.opts.HeartbeatInterval
			m.mu.Unlock()
			if dead {
				m.opts.Logger.Warn("Heartbeat watchdog fired, forcing close")
				conn.Close(websocket.CloseAbnormalClosure, "heartbeat timeout")
				return
			}

			m.sendHeartbeat(conn)
			m.resendStatus()
		case <-idle.C:
			if !m.isCurrent(conn) {
				return
			}
			m.checkIdle()
		}
	}
}

func (m *Manager) isCurrent(conn Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn == conn
}

func (m *Manager) sendHeartbeat(conn Conn) {
	env, err := protocol.NewEnvelope(protocol.TypeHeartbeat, &protocol.HeartbeatPayload{})
	if err != nil {
		return
	}
	env.CorrelationID = uuid.NewString()

	frame, err := env.Encode()
	if err != nil {
		return
	}
	if err := conn.Send(frame); err != nil {
		m.opts.Logger.Debug("Heartbeat send failed", "error", err)
	}
}

// onConnLost 连接丢失：按关闭码决定是否重连
func (m *Manager) onConnLost(ctx context.Context, conn Conn, cause error) {
	m.mu.Lock()
	if m.conn != conn {
		// 已被新连接替换或主动断开
		m.mu.Unlock()
		return
	}
	m.conn = nil
	manual := m.manualClose
	m.mu.Unlock()

	conn.Close(protocol.CloseNormal, "")
	if manual {
		return
	}

	if !shouldReconnect(cause) {
		m.opts.Logger.Info("Connection closed, not reconnecting", "cause", cause)
		m.mu.Lock()
		cancel := m.cancel
		m.setStateLocked(StateDisconnected)
		m.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return
	}

	m.opts.Logger.Warn("Connection lost", "cause", cause)
	m.scheduleReconnect(ctx)
}

// shouldReconnect 关闭原因分级
// 正常关闭与凭证类关闭码不重连，重新认证是调用方的事
func shouldReconnect(err error) bool {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case protocol.CloseNormal,
			protocol.CloseNoCredential,
			protocol.CloseInvalidCredential,
			protocol.CloseExpiredCredential:
			return false
		}
	}
	return true
}

func (m *Manager) scheduleReconnect(ctx context.Context) {
	m.mu.Lock()
	if m.manualClose || ctx.Err() != nil {
		m.mu.Unlock()
		return
	}

	if m.attempts >= m.opts.MaxAttempts {
		// 重连预算耗尽，回到 disconnected 并通知调用方
		cancel := m.cancel
		giveUp := m.opts.OnGiveUp
		m.setStateLocked(StateDisconnected)
		m.mu.Unlock()

		m.opts.Logger.Error("Reconnect budget exhausted",
			"attempts", m.opts.MaxAttempts)
		if cancel != nil {
			cancel()
		}
		if giveUp != nil {
			giveUp()
		}
		return
	}

	attempt := m.attempts
	m.attempts++
	m.setStateLocked(StateReconnecting)

	delay := m.opts.Backoff.Delay(attempt)
	m.reconnectTimer = time.AfterFunc(delay, func() {
		if ctx.Err() != nil {
			return
		}
		m.transition(StateConnecting)
		m.dial(ctx)
	})
	m.mu.Unlock()

	m.opts.Logger.Info("Reconnect scheduled",
		"attempt", attempt+1,
		"delay", delay)
}

// NotifyActivity 编辑/光标事件只刷新本地活动时间
// 当前处于 idle 时立刻切回 online
func (m *Manager) NotifyActivity() {
	m.mu.Lock()
	m.lastActivity = time.Now()
	wasIdle := m.currentStatus == protocol.StatusIdle
	m.mu.Unlock()

	if wasIdle {
		m.UpdateStatus(protocol.StatusOnline, nil)
	}
}

// checkIdle 空闲检测：超过阈值无活动则切到 idle 并立即上报
func (m *Manager) checkIdle() {
	m.mu.Lock()
	idle := m.currentStatus == protocol.StatusOnline &&
		time.Since(m.lastActivity) > m.opts.IdleThreshold
	m.mu.Unlock()

	if idle {
		m.UpdateStatus(protocol.StatusIdle, nil)
	}
}

// UpdateStatus 立即上报状态（文件切换、调试启停、idle 翻转）
// 与上次实际发送完全相同的更新被抑制
func (m *Manager) UpdateStatus(status string, activity *protocol.Activity) {
	m.sendStatus(status, activity, false)
}

// ScheduleStatus 防抖上报：新更新总是取消并替换未触发的旧更新
func (m *Manager) ScheduleStatus(status string, activity *protocol.Activity) {
	m.mu.Lock()
	m.pendingStatus = &protocol.StatusUpdatePayload{Status: status, Activity: activity}
	if m.debounceTimer != nil {
		m.debounceTimer.Stop()
	}
	m.debounceTimer = time.AfterFunc(m.opts.DebounceDelay, m.flushPending)
	m.mu.Unlock()
}

func (m *Manager) flushPending() {
	m.mu.Lock()
	pending := m.pendingStatus
	m.pendingStatus = nil
	m.mu.Unlock()

	if pending != nil {
		m.sendStatus(pending.Status, pending.Activity, false)
	}
}

// resendStatus 在线期间周期性重发当前状态，保活服务端的临时记录
func (m *Manager) resendStatus() {
	m.mu.Lock()
	last := m.lastSent
	m.mu.Unlock()

	if last == nil {
		return
	}
	var act *protocol.Activity
	if last.file != "" || last.language != "" || last.project != "" || last.workspace != "" {
		act = &protocol.Activity{
			File:      last.file,
			Language:  last.language,
			Project:   last.project,
			Workspace: last.workspace,
		}
	}
	m.sendStatus(last.status, act, true)
}

func (m *Manager) sendStatus(status string, activity *protocol.Activity, force bool) {
	snap := snapshotOf(status, activity)

	m.mu.Lock()
	if !force && m.lastSent != nil && *m.lastSent == snap {
		m.mu.Unlock()
		return
	}
	m.lastSent = &snap
	m.currentStatus = status
	m.mu.Unlock()

	env, err := protocol.NewEnvelope(protocol.TypeStatusUpdate, &protocol.StatusUpdatePayload{
		Status:   status,
		Activity: activity,
	})
	if err != nil {
		return
	}
	env.CorrelationID = uuid.NewString()
	m.send(env)
}

// Poke 向好友发送戳一下
func (m *Manager) Poke(toUserID int64, message string) {
	env, err := protocol.NewEnvelope(protocol.TypePoke, &protocol.PokePayload{
		ToUserID: toUserID,
		Message:  message,
	})
	if err != nil {
		return
	}
	env.CorrelationID = uuid.NewString()
	m.send(env)
}

// send 连接可用时直接发送，否则进离线队列
func (m *Manager) send(env *protocol.Envelope) {
	frame, err := env.Encode()
	if err != nil {
		return
	}

	m.mu.Lock()
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected || conn == nil {
		m.queue.Push(frame)
		return
	}
	if err := conn.Send(frame); err != nil {
		m.opts.Logger.Debug("Send failed, frame queued", "error", err)
		m.queue.Push(frame)
	}
}

func (m *Manager) transition(s State) {
	m.mu.Lock()
	m.setStateLocked(s)
	m.mu.Unlock()
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	if m.opts.OnStateChange != nil {
		cb := m.opts.OnStateChange
		go cb(s)
	}
}

// ============== WebSocket 传输 ==============

// WSTransport 默认 WebSocket 拨号端
type WSTransport struct{}

func (WSTransport) Dial(ctx context.Context, url string) (Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws        *websocket.Conn
	closeOnce sync.Once
}

func (c *wsConn) Send(data []byte) error {
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Receive() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

func (c *wsConn) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}
