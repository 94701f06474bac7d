package connection

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var ErrConnectionClosed = errors.New("connection closed")

// Connection 表示一个已认证的客户端连接
// 好友集在建连时快照，连接存续期间不变
type Connection struct {
	userID       int64
	deviceID     string
	friendIDs    []int64
	ws           *websocket.Conn
	logger       *slog.Logger
	writeChan    chan []byte
	closeChan    chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
	connectedAt  time.Time
	lastBeat     atomic.Int64 // unix 纳秒
}

func New(userID int64, deviceID string, friendIDs []int64, ws *websocket.Conn, writeTimeout time.Duration, logger *slog.Logger) *Connection {
	c := &Connection{
		userID:       userID,
		deviceID:     deviceID,
		friendIDs:    friendIDs,
		ws:           ws,
		logger:       logger,
		writeChan:    make(chan []byte, 256),
		closeChan:    make(chan struct{}),
		writeTimeout: writeTimeout,
		connectedAt:  time.Now(),
	}
	c.lastBeat.Store(time.Now().UnixNano())
	go c.writeLoop()
	return c
}

func (c *Connection) UserID() int64 {
	return c.userID
}

func (c *Connection) DeviceID() string {
	return c.deviceID
}

func (c *Connection) FriendIDs() []int64 {
	return c.friendIDs
}

func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

// Send 投递出站帧，连接已关闭时返回错误
func (c *Connection) Send(data []byte) error {
	select {
	case c.writeChan <- data:
		return nil
	case <-c.closeChan:
		return ErrConnectionClosed
	}
}

// ReadMessage 读取一条入站帧（阻塞）
func (c *Connection) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeChan:
			c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("Failed to write frame",
					"user_id", c.userID,
					"error", err)
				c.CloseWithCode(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-c.closeChan:
			return
		}
	}
}

// CloseWithCode 发送关闭帧并关闭底层连接
// 关闭码区分关闭原因（被顶号 / 凭证问题 / 限流 / 正常）
func (c *Connection) CloseWithCode(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.closeChan)
		msg := websocket.FormatCloseMessage(code, reason)
		deadline := time.Now().Add(c.writeTimeout)
		if err := c.ws.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			c.logger.Debug("Failed to write close frame",
				"user_id", c.userID,
				"error", err)
		}
		c.ws.Close()
	})
}

// UpdateHeartbeat 刷新最后心跳时间
func (c *Connection) UpdateHeartbeat() {
	c.lastBeat.Store(time.Now().UnixNano())
}

// LastHeartbeat 最后一次心跳时间
func (c *Connection) LastHeartbeat() time.Time {
	return time.Unix(0, c.lastBeat.Load())
}
