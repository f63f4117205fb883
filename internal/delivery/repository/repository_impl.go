package repository

import (
	"context"
	"errors"

	deliverydomain "github.com/daddykev/stardust-dsp/internal/delivery/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() deliverydomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, d *deliverydomain.Delivery) error {
	return db.WithContext(ctx).Create(d).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id string) (*deliverydomain.Delivery, error) {
	var d deliverydomain.Delivery
	err := db.WithContext(ctx).Where("id = ?", id).First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id string, from, to deliverydomain.Status, extra map[string]any) (bool, error) {
	fields := map[string]any{"processing_status": to}
	for k, v := range extra {
		fields[k] = v
	}
	res := db.WithContext(ctx).
		Model(&deliverydomain.Delivery{}).
		Where("id = ? AND processing_status = ?", id, from).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) UpdateFields(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	return db.WithContext(ctx).
		Model(&deliverydomain.Delivery{}).
		Where("id = ?", id).
		Updates(fields).Error
}
