package protocol

import (
	"encoding/json"
	"time"

	"github.com/senutpal/devradar/internal/apperrors"
)

// ============== 消息类型 ==============

const (
	// 入站消息（客户端 -> 网关）
	TypeHeartbeat    = "HEARTBEAT"
	TypeStatusUpdate = "STATUS_UPDATE"
	TypePoke         = "POKE"
	TypeSubscribe    = "SUBSCRIBE"   // 预留，连接期间好友集固定
	TypeUnsubscribe  = "UNSUBSCRIBE" // 预留

	// 出站消息（网关 -> 客户端）
	TypeConnected    = "CONNECTED"
	TypeFriendStatus = "FRIEND_STATUS"
	TypePong         = "PONG"
	TypeError        = "ERROR"
	TypeAchievement  = "ACHIEVEMENT"
)

// ============== 关闭码（服务端主动关闭） ==============

const (
	CloseNormal            = 1000 // 正常关闭
	CloseGoingAway         = 1001 // 被新连接取代 / 服务端下线
	CloseServerError       = 1011 // 服务端内部错误
	CloseNoCredential      = 4001 // 握手未携带凭证
	CloseInvalidCredential = 4002 // 凭证无效
	CloseExpiredCredential = 4003 // 凭证已过期
	CloseRateLimited       = 4029 // 触发限流
)

// ============== 在线状态 ==============

const (
	StatusOnline  = "online"
	StatusIdle    = "idle"
	StatusDND     = "dnd"
	StatusOffline = "offline"
)

// ValidStatus 判断状态取值是否合法
func ValidStatus(s string) bool {
	switch s {
	case StatusOnline, StatusIdle, StatusDND, StatusOffline:
		return true
	}
	return false
}

// ============== 消息信封 ==============

// Envelope 双向消息信封
// 服务端应答特定请求时回显请求的 correlationId
type Envelope struct {
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Timestamp     int64           `json:"timestamp"`
	CorrelationID string          `json:"correlationId,omitempty"`
}

// NewEnvelope 构建带当前时间戳的信封
func NewEnvelope(msgType string, payload any) (*Envelope, error) {
	env := &Envelope{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = data
	}
	return env, nil
}

// Encode 序列化信封
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode 反序列化信封
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, apperrors.ErrInvalidParams.Wrap(err)
	}
	if env.Type == "" {
		return nil, apperrors.ErrInvalidParams
	}
	return &env, nil
}

// Bind 解析信封载荷到指定类型
// 未知字段容忍，未知类型在分发前就被拒绝
func (e *Envelope) Bind(v any) error {
	if len(e.Payload) == 0 {
		return apperrors.ErrInvalidParams
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return apperrors.ErrInvalidParams.Wrap(err)
	}
	return nil
}

// IsInbound 判断是否属于入站消息类型闭集
func IsInbound(msgType string) bool {
	switch msgType {
	case TypeHeartbeat, TypeStatusUpdate, TypePoke, TypeSubscribe, TypeUnsubscribe:
		return true
	}
	return false
}

// ============== 载荷定义 ==============

// Activity 编码活动详情
type Activity struct {
	File            string `json:"file,omitempty"`
	Language        string `json:"language,omitempty"`
	Project         string `json:"project,omitempty"`
	Workspace       string `json:"workspace,omitempty"`
	SessionDuration int64  `json:"sessionDuration,omitempty"`
	Intensity       int    `json:"intensity,omitempty"`
}

// HeartbeatPayload 心跳请求
type HeartbeatPayload struct {
	Ping int64 `json:"ping,omitempty"`
}

// StatusUpdatePayload 状态上报
type StatusUpdatePayload struct {
	Status   string    `json:"status"`
	Activity *Activity `json:"activity,omitempty"`
}

// Validate 校验状态上报载荷
func (p *StatusUpdatePayload) Validate() error {
	if !ValidStatus(p.Status) {
		return apperrors.ErrInvalidStatus
	}
	if p.Activity != nil {
		if p.Activity.SessionDuration < 0 {
			return apperrors.ErrInvalidParams
		}
		if p.Activity.Intensity < 0 || p.Activity.Intensity > 100 {
			return apperrors.ErrInvalidParams
		}
	}
	return nil
}

// PokePayload 戳一下（双向复用：入站带 toUserId，出站补 fromUserId）
type PokePayload struct {
	FromUserID int64  `json:"fromUserId,omitempty"`
	ToUserID   int64  `json:"toUserId"`
	Message    string `json:"message,omitempty"`
}

// Validate 校验戳一下载荷
func (p *PokePayload) Validate() error {
	if p.ToUserID <= 0 {
		return apperrors.ErrInvalidParams
	}
	if len(p.Message) > 256 {
		return apperrors.ErrInvalidParams
	}
	return nil
}

// ConnectedPayload 连接建立确认
type ConnectedPayload struct {
	UserID      int64 `json:"userId"`
	FriendCount int   `json:"friendCount"`
}

// FriendStatusPayload 好友状态推送
type FriendStatusPayload struct {
	UserID    int64     `json:"userId"`
	Status    string    `json:"status"`
	Activity  *Activity `json:"activity,omitempty"`
	UpdatedAt int64     `json:"updatedAt"`
}

// PongPayload 心跳应答
type PongPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// ErrorPayload 错误应答，code 取自 apperrors 错误码
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// AchievementPayload 成就事件推送
type AchievementPayload struct {
	UserID int64  `json:"userId"`
	Kind   string `json:"kind"`
	Streak int64  `json:"streak"`
}
