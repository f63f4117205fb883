package repository

import (
	"context"
	"time"

	usagedomain "github.com/daddykev/stardust-dsp/internal/usage/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

func (r *repo) InsertPlayEvent(ctx context.Context, db *gorm.DB, e *usagedomain.PlayEvent) error {
	return db.WithContext(ctx).Create(e).Error
}

func (r *repo) ListPlayEventsBetween(ctx context.Context, db *gorm.DB, from, to time.Time) ([]usagedomain.PlayEvent, error) {
	var out []usagedomain.PlayEvent
	err := db.WithContext(ctx).
		Where("played_at >= ? AND played_at < ?", from, to).
		Order("played_at ASC").
		Find(&out).Error
	return out, err
}

func (r *repo) FindAggregates(ctx context.Context, db *gorm.DB, ids []string) ([]usagedomain.DailyAggregate, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []usagedomain.DailyAggregate
	err := db.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&out).Error
	return out, err
}

func (r *repo) SaveAggregates(ctx context.Context, db *gorm.DB, aggs []usagedomain.DailyAggregate) error {
	if len(aggs) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&aggs).Error
}

func (r *repo) ListAggregatesBetween(ctx context.Context, db *gorm.DB, fromDate, toDate string) ([]usagedomain.DailyAggregate, error) {
	var out []usagedomain.DailyAggregate
	err := db.WithContext(ctx).
		Where("date >= ? AND date <= ?", fromDate, toDate).
		Order("date ASC").
		Find(&out).Error
	return out, err
}
