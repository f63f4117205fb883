package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrInvalidPeriod     = errors.New("royalty_invalid_period")
	ErrUnknownMethod     = errors.New("royalty_unknown_method")
	ErrStatementNotFound = errors.New("royalty_statement_not_found")
)

type Method string

const (
	MethodProRata     Method = "pro-rata"
	MethodUserCentric Method = "user-centric"
	MethodHybrid      Method = "hybrid"
)

type StatementStatus string

const (
	StatementDraft    StatementStatus = "draft"
	StatementApproved StatementStatus = "approved"
	StatementPaid     StatementStatus = "paid"
)

type DistributionStatus string

const (
	DistributionPending DistributionStatus = "pending"
	DistributionHeld    DistributionStatus = "held"
	DistributionPaid    DistributionStatus = "paid"
)

// Distribution is one rights holder's slice of a statement. Once a holder
// falls under the minimum-payment threshold the payable amount is zeroed and
// parked in HeldAmount.
type Distribution struct {
	HolderID    string             `json:"holderId"`
	StreamShare float64            `json:"streamShare"` // weighted streams credited to the holder
	GrossAmount float64            `json:"grossAmount"`
	NetAmount   float64            `json:"netAmount"`
	HeldAmount  float64            `json:"heldAmount,omitempty"`
	Status      DistributionStatus `json:"status"`
}

// RoyaltyStatement is one engine run over a period. Statements are created
// as drafts and only advance to approved through an external decision; paid
// statements are immutable.
type RoyaltyStatement struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	Period      string       `json:"period" gorm:"type:text;not null"`
	PeriodStart time.Time    `json:"period_start" gorm:"not null"`
	PeriodEnd   time.Time    `json:"period_end" gorm:"not null"`
	Territory   string       `json:"territory" gorm:"type:text"`
	Method      Method       `json:"method" gorm:"type:text;not null"`
	Currency    string       `json:"currency" gorm:"type:text;not null"`

	TotalRevenue  float64 `json:"total_revenue"`
	PlatformFee   float64 `json:"platform_fee"`
	NetRevenue    float64 `json:"net_revenue"`
	TotalStreams  int64   `json:"total_streams"`
	EstimatedOnly bool    `json:"estimated_only"`

	Distributions datatypes.JSON  `json:"distributions"`
	Status        StatementStatus `json:"status" gorm:"type:text;not null;index"`

	CreatedAt time.Time  `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time  `json:"updated_at" gorm:"not null"`
	PaidAt    *time.Time `json:"paid_at"`
}

func (RoyaltyStatement) TableName() string { return "royalty_statements" }

// DistributionList decodes the persisted distributions.
func (s RoyaltyStatement) DistributionList() []Distribution {
	if len(s.Distributions) == 0 {
		return nil
	}
	var out []Distribution
	if err := json.Unmarshal(s.Distributions, &out); err != nil {
		return nil
	}
	return out
}

// Payment schedules one holder payout from an approved statement.
type Payment struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	StatementID snowflake.ID `json:"statement_id" gorm:"not null;index"`
	HolderID    string       `json:"holder_id" gorm:"type:text;not null;index"`
	Amount      float64      `json:"amount"`
	Currency    string       `json:"currency" gorm:"type:text;not null"`
	Status      string       `json:"status" gorm:"type:text;not null"`
	ScheduledAt time.Time    `json:"scheduled_at" gorm:"not null"`
	CreatedAt   time.Time    `json:"created_at" gorm:"not null"`
}

func (Payment) TableName() string { return "payments" }

// RevenueRecord is recorded DSP revenue for one day. When a period has no
// rows the engine estimates revenue from play counts instead.
type RevenueRecord struct {
	ID       snowflake.ID `json:"id" gorm:"primaryKey"`
	Source   string       `json:"source" gorm:"type:text;not null;index"` // DSP identifier
	Date     string       `json:"date" gorm:"type:text;not null;index"`   // YYYY-MM-DD
	Amount   float64      `json:"amount"`
	Currency string       `json:"currency" gorm:"type:text;not null"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
}

func (RevenueRecord) TableName() string { return "revenue_records" }

type Repository interface {
	InsertStatement(ctx context.Context, db *gorm.DB, s *RoyaltyStatement) error
	FindStatement(ctx context.Context, db *gorm.DB, id snowflake.ID) (*RoyaltyStatement, error)
	ListStatementsByStatus(ctx context.Context, db *gorm.DB, status StatementStatus) ([]RoyaltyStatement, error)
	UpdateStatementFields(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error

	InsertPayment(ctx context.Context, db *gorm.DB, p *Payment) error
	ListPaymentsByStatement(ctx context.Context, db *gorm.DB, statementID snowflake.ID) ([]Payment, error)

	InsertRevenue(ctx context.Context, db *gorm.DB, r *RevenueRecord) error
	ListRevenueBetween(ctx context.Context, db *gorm.DB, fromDate, toDate string) ([]RevenueRecord, error)
}
