package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/senutpal/devradar/internal/apperrors"
	"github.com/senutpal/devradar/internal/middleware"
	"github.com/senutpal/devradar/internal/presence"
	"github.com/senutpal/devradar/pkg/response"
)

// FriendChecker 好友关系校验端
type FriendChecker interface {
	AreFriends(ctx context.Context, userID, otherID int64) (bool, error)
}

// PresenceHandler 在线状态处理器
// 只允许查询自己或好友，状态不对陌生人可见
type PresenceHandler struct {
	store   *presence.Store
	friends FriendChecker
}

// NewPresenceHandler 创建在线状态处理器
func NewPresenceHandler(store *presence.Store, friends FriendChecker) *PresenceHandler {
	return &PresenceHandler{store: store, friends: friends}
}

// GetPresence 查询用户在线状态
// GET /api/v1/presence/:id
func (h *PresenceHandler) GetPresence(c *gin.Context) {
	userID := middleware.GetUserID(c)

	targetID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || targetID <= 0 {
		response.ErrorWithMsg(c, apperrors.CodeInvalidParams, "invalid user id")
		return
	}

	if targetID != userID {
		ok, err := h.friends.AreFriends(c.Request.Context(), userID, targetID)
		if err != nil {
			response.Error(c, apperrors.ErrStoreError.Wrap(err))
			return
		}
		if !ok {
			response.Error(c, apperrors.ErrNotFriends)
			return
		}
	}

	rec, err := h.store.Get(c.Request.Context(), targetID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, rec)
}
