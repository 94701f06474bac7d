package friends

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository 好友关系数据访问
// 网关只在建连时读一次好友列表，连接期间不感知变化
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// GetFriendIDs 获取用户的好友 ID 列表
func (r *Repository) GetFriendIDs(ctx context.Context, userID int64) ([]int64, error) {
	query := `
		SELECT friend_id FROM friendships
		WHERE user_id = $1 AND deleted = 0
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AreFriends 判断双向好友关系（戳一下要求互为好友）
func (r *Repository) AreFriends(ctx context.Context, userID, otherID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM friendships a
			JOIN friendships b
			  ON a.user_id = b.friend_id AND a.friend_id = b.user_id
			WHERE a.user_id = $1 AND a.friend_id = $2
			  AND a.deleted = 0 AND b.deleted = 0
		)
	`
	var exists bool
	if err := r.db.QueryRow(ctx, query, userID, otherID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
