package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	reportdomain "github.com/daddykev/stardust-dsp/internal/report/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() reportdomain.Repository {
	return &repo{}
}

func (r *repo) InsertReport(ctx context.Context, db *gorm.DB, rep *reportdomain.Report) error {
	return db.WithContext(ctx).Create(rep).Error
}

func (r *repo) FindReport(ctx context.Context, db *gorm.DB, id snowflake.ID) (*reportdomain.Report, error) {
	var rep reportdomain.Report
	err := db.WithContext(ctx).Where("id = ?", id).First(&rep).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rep, nil
}

func (r *repo) UpdateReportFields(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error {
	return db.WithContext(ctx).
		Model(&reportdomain.Report{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *repo) ListDue(ctx context.Context, db *gorm.DB, now time.Time) ([]reportdomain.Report, error) {
	var out []reportdomain.Report
	err := db.WithContext(ctx).
		Where("delivery_status = ? AND scheduled_at <= ?", reportdomain.DeliveryPending, now).
		Order("scheduled_at ASC").
		Find(&out).Error
	return out, err
}

func (r *repo) ListRetryable(ctx context.Context, db *gorm.DB, maxRetries int) ([]reportdomain.Report, error) {
	var out []reportdomain.Report
	err := db.WithContext(ctx).
		Where("delivery_status = ? AND retry_count < ?", reportdomain.DeliveryFailed, maxRetries).
		Order("updated_at ASC").
		Find(&out).Error
	return out, err
}

func (r *repo) InsertDelivery(ctx context.Context, db *gorm.DB, d *reportdomain.ReportDelivery) error {
	return db.WithContext(ctx).Create(d).Error
}

func (r *repo) ListDeliveries(ctx context.Context, db *gorm.DB, reportID snowflake.ID) ([]reportdomain.ReportDelivery, error) {
	var out []reportdomain.ReportDelivery
	err := db.WithContext(ctx).
		Where("report_id = ?", reportID).
		Order("attempted_at ASC").
		Find(&out).Error
	return out, err
}
