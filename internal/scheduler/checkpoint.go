package scheduler

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// JobCheckpoint persists a job's progress watermark so a restart never
// re-reads a window that was already folded.
type JobCheckpoint struct {
	JobName   string    `gorm:"primaryKey;column:job_name;type:text"`
	Watermark time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (JobCheckpoint) TableName() string { return "job_checkpoints" }

func (s *Scheduler) loadWatermark(ctx context.Context, job string) (time.Time, error) {
	var cp JobCheckpoint
	err := s.db.WithContext(ctx).First(&cp, "job_name = ?", job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return cp.Watermark, nil
}

func (s *Scheduler) saveWatermark(ctx context.Context, job string, at time.Time) error {
	cp := JobCheckpoint{JobName: job, Watermark: at, UpdatedAt: s.clock.Now()}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_name"}},
			UpdateAll: true,
		}).
		Create(&cp).Error
}
