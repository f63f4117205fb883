package repository

import (
	"context"
	"errors"

	catalogdomain "github.com/daddykev/stardust-dsp/internal/catalog/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() catalogdomain.Repository {
	return &repo{}
}

func (r *repo) UpsertRelease(ctx context.Context, db *gorm.DB, rec *catalogdomain.ReleaseRecord) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(rec).Error
}

func (r *repo) FindRelease(ctx context.Context, db *gorm.DB, id string) (*catalogdomain.ReleaseRecord, error) {
	var rec catalogdomain.ReleaseRecord
	err := db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (r *repo) UpdateReleaseFields(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	return db.WithContext(ctx).
		Model(&catalogdomain.ReleaseRecord{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *repo) UpsertTrack(ctx context.Context, db *gorm.DB, t *catalogdomain.TrackRecord) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(t).Error
}

func (r *repo) FindTrack(ctx context.Context, db *gorm.DB, id string) (*catalogdomain.TrackRecord, error) {
	var t catalogdomain.TrackRecord
	err := db.WithContext(ctx).Where("id = ?", id).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (r *repo) ListTracksByRelease(ctx context.Context, db *gorm.DB, releaseID string) ([]catalogdomain.TrackRecord, error) {
	var out []catalogdomain.TrackRecord
	err := db.WithContext(ctx).
		Where("release_id = ?", releaseID).
		Order("sequence_number ASC").
		Find(&out).Error
	return out, err
}

func (r *repo) ListActiveTracks(ctx context.Context, db *gorm.DB) ([]catalogdomain.TrackRecord, error) {
	var out []catalogdomain.TrackRecord
	err := db.WithContext(ctx).
		Where("status = ?", "active").
		Find(&out).Error
	return out, err
}

func (r *repo) ListTracksByIDs(ctx context.Context, db *gorm.DB, ids []string) ([]catalogdomain.TrackRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []catalogdomain.TrackRecord
	err := db.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&out).Error
	return out, err
}

func (r *repo) FindArtist(ctx context.Context, db *gorm.DB, id string) (*catalogdomain.ArtistRecord, error) {
	var a catalogdomain.ArtistRecord
	err := db.WithContext(ctx).Where("id = ?", id).First(&a).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (r *repo) SaveArtist(ctx context.Context, db *gorm.DB, a *catalogdomain.ArtistRecord) error {
	return db.WithContext(ctx).Save(a).Error
}
