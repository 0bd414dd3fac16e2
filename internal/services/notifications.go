package services

import (
	"context"
	"fmt"

	"newsrank/internal/apperrors"
	"newsrank/internal/models"
)

const notificationPageSize = 50

// Nodes 全部分类节点
func (e *Engine) Nodes(ctx context.Context) ([]models.Node, error) {
	var nodes []models.Node
	if err := e.db.WithContext(ctx).Order("id ASC").Find(&nodes).Error; err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	return nodes, nil
}

// Notifications 最近的通知，新的在前；unread 为未读总数
func (e *Engine) Notifications(ctx context.Context, userID uint) (list []models.Notification, unread int64, err error) {
	db := e.db.WithContext(ctx)
	err = db.Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(notificationPageSize).
		Find(&list).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	err = db.Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&unread).Error
	if err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}
	return list, unread, nil
}

// MarkNotificationRead 只能标记自己的通知
func (e *Engine) MarkNotificationRead(ctx context.Context, userID, id uint) error {
	res := e.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("is_read", true)
	if res.Error != nil {
		return fmt.Errorf("mark notification: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.NotificationNotFound()
	}
	return nil
}

// MarkAllNotificationsRead 返回本次标记的条数
func (e *Engine) MarkAllNotificationsRead(ctx context.Context, userID uint) (int64, error) {
	res := e.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("mark notifications: %w", res.Error)
	}
	return res.RowsAffected, nil
}
