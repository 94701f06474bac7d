package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenInvalid = errors.New("token is invalid")
	ErrTokenExpired = errors.New("token has expired")
)

// Platform 上报端平台类型
type Platform string

const (
	PlatformUnknown   Platform = "unknown"
	PlatformVSCode    Platform = "vscode"
	PlatformJetBrains Platform = "jetbrains"
	PlatformNeovim    Platform = "neovim"
	PlatformWeb       Platform = "web"
)

// Claims JWT 声明
type Claims struct {
	UserID   int64    `json:"user_id"`
	DeviceID string   `json:"device_id"`
	Platform Platform `json:"platform"`
	jwt.RegisteredClaims
}

// Service JWT 服务
type Service struct {
	secretKey []byte
	expire    time.Duration
}

// NewService 创建 JWT 服务
func NewService(secretKey string, expire time.Duration) *Service {
	return &Service{
		secretKey: []byte(secretKey),
		expire:    expire,
	}
}

// GenerateToken 签发接入令牌
func (s *Service) GenerateToken(userID int64, deviceID string, platform Platform) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   userID,
		DeviceID: deviceID,
		Platform: platform,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expire)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "devradar",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secretKey)
}

// ValidateToken 验证接入令牌
// 过期与无效区分开，网关据此选择关闭码
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return s.secretKey, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	if claims.UserID <= 0 {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}

// Expire 获取令牌有效期
func (s *Service) Expire() time.Duration {
	return s.expire
}
