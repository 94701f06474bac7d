package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/senutpal/devradar/internal/apperrors"
	"github.com/senutpal/devradar/internal/auth"
	"github.com/senutpal/devradar/pkg/response"
)

// TokenAuth 接入令牌认证中间件
func TokenAuth(authService *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c.GetHeader("Authorization"))
		if token == "" {
			response.Unauthorized(c, apperrors.CodeCredentialMissing, "credential missing")
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			if errors.Is(err, auth.ErrTokenExpired) {
				response.Unauthorized(c, apperrors.CodeCredentialExpired, "credential expired")
			} else {
				response.Unauthorized(c, apperrors.CodeCredentialInvalid, "credential invalid")
			}
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("device_id", claims.DeviceID)
		c.Next()
	}
}

// extractToken 从 Authorization header 提取 token
func extractToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return parts[1]
}

// GetUserID 从 context 获取 user_id
func GetUserID(c *gin.Context) int64 {
	userID, exists := c.Get("user_id")
	if !exists {
		return 0
	}
	return userID.(int64)
}

// GetDeviceID 从 context 获取 device_id
func GetDeviceID(c *gin.Context) string {
	deviceID, exists := c.Get("device_id")
	if !exists {
		return ""
	}
	return deviceID.(string)
}
