package repository

import (
	"context"

	notificationdomain "github.com/daddykev/stardust-dsp/internal/notification/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() notificationdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, n *notificationdomain.Notification) error {
	return db.WithContext(ctx).Create(n).Error
}

func (r *repo) ListByDistributor(ctx context.Context, db *gorm.DB, distributorID string, limit int) ([]notificationdomain.Notification, error) {
	var items []notificationdomain.Notification
	q := db.WithContext(ctx).
		Where("distributor_id = ?", distributorID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListByDelivery(ctx context.Context, db *gorm.DB, deliveryID string) ([]notificationdomain.Notification, error) {
	var items []notificationdomain.Notification
	err := db.WithContext(ctx).
		Where("delivery_id = ?", deliveryID).
		Order("created_at ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
