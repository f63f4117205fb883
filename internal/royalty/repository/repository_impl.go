package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	royaltydomain "github.com/daddykev/stardust-dsp/internal/royalty/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() royaltydomain.Repository {
	return &repo{}
}

func (r *repo) InsertStatement(ctx context.Context, db *gorm.DB, s *royaltydomain.RoyaltyStatement) error {
	return db.WithContext(ctx).Create(s).Error
}

func (r *repo) FindStatement(ctx context.Context, db *gorm.DB, id snowflake.ID) (*royaltydomain.RoyaltyStatement, error) {
	var s royaltydomain.RoyaltyStatement
	err := db.WithContext(ctx).Where("id = ?", id).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *repo) ListStatementsByStatus(ctx context.Context, db *gorm.DB, status royaltydomain.StatementStatus) ([]royaltydomain.RoyaltyStatement, error) {
	var out []royaltydomain.RoyaltyStatement
	err := db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

func (r *repo) UpdateStatementFields(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error {
	return db.WithContext(ctx).
		Model(&royaltydomain.RoyaltyStatement{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *repo) InsertPayment(ctx context.Context, db *gorm.DB, p *royaltydomain.Payment) error {
	return db.WithContext(ctx).Create(p).Error
}

func (r *repo) ListPaymentsByStatement(ctx context.Context, db *gorm.DB, statementID snowflake.ID) ([]royaltydomain.Payment, error) {
	var out []royaltydomain.Payment
	err := db.WithContext(ctx).
		Where("statement_id = ?", statementID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

func (r *repo) InsertRevenue(ctx context.Context, db *gorm.DB, rec *royaltydomain.RevenueRecord) error {
	return db.WithContext(ctx).Create(rec).Error
}

func (r *repo) ListRevenueBetween(ctx context.Context, db *gorm.DB, fromDate, toDate string) ([]royaltydomain.RevenueRecord, error) {
	var out []royaltydomain.RevenueRecord
	err := db.WithContext(ctx).
		Where("date >= ? AND date <= ?", fromDate, toDate).
		Find(&out).Error
	return out, err
}
