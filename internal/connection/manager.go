package connection

import (
	"sync"
)

// Manager 连接注册表
// 不变量：任一时刻每个 userID 至多一条活跃连接，新连接顶掉旧连接
type Manager struct {
	conns map[int64]*Connection
	mu    sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		conns: make(map[int64]*Connection),
	}
}

// Register 注册连接，返回被顶掉的旧连接（没有则为 nil）
// 旧连接的关闭（1001 going away）由调用方完成
func (m *Manager) Register(conn *Connection) *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.conns[conn.UserID()]
	m.conns[conn.UserID()] = conn
	return old
}

// Unregister 注销连接
// 仅当注册表里仍是这条连接时才移除，避免误删顶号后的新连接
func (m *Manager) Unregister(conn *Connection) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.conns[conn.UserID()]
	if !ok || current != conn {
		return false
	}
	delete(m.conns, conn.UserID())
	return true
}

// Get 获取用户当前连接，不在线返回 nil
func (m *Manager) Get(userID int64) *Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conns[userID]
}

// SendToUser 向用户当前连接投递一帧，无活跃连接时静默丢弃
func (m *Manager) SendToUser(userID int64, data []byte) bool {
	m.mu.RLock()
	conn := m.conns[userID]
	m.mu.RUnlock()

	if conn == nil {
		return false
	}
	return conn.Send(data) == nil
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// All 返回所有连接（心跳检测用）
func (m *Manager) All() []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conns := make([]*Connection, 0, len(m.conns))
	for _, conn := range m.conns {
		conns = append(conns, conn)
	}
	return conns
}

// CloseAll 关闭所有连接（服务端下线）
func (m *Manager) CloseAll(code int, reason string) {
	for _, conn := range m.All() {
		conn.CloseWithCode(code, reason)
	}
}
