package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Type string

const (
	TypeAcknowledgment  Type = "acknowledgment"
	TypeDeliveryError   Type = "delivery_error"
	TypeValidationError Type = "validation_error"
	TypeReportReady     Type = "report_ready"
)

// Notification is a distributor-visible record raised by the pipeline.
// Rows are append-only; only the Read flag changes after creation.
type Notification struct {
	ID            snowflake.ID   `json:"id" gorm:"primaryKey"`
	DistributorID string         `json:"distributor_id" gorm:"type:text;not null;index"`
	DeliveryID    string         `json:"delivery_id" gorm:"type:text;index"`
	Type          Type           `json:"type" gorm:"type:text;not null"`
	Title         string         `json:"title" gorm:"type:text;not null"`
	Body          string         `json:"body" gorm:"type:text"`
	Payload       datatypes.JSON `json:"payload"`
	Read          bool           `json:"read" gorm:"not null;default:false"`
	CreatedAt     time.Time      `json:"created_at" gorm:"not null"`
}

func (Notification) TableName() string { return "notifications" }

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, n *Notification) error
	ListByDistributor(ctx context.Context, db *gorm.DB, distributorID string, limit int) ([]Notification, error)
	ListByDelivery(ctx context.Context, db *gorm.DB, deliveryID string) ([]Notification, error)
}
