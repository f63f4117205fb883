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
	ErrReportNotFound   = errors.New("report_not_found")
	ErrUnknownTransport = errors.New("report_unknown_transport")
	ErrUnknownFormat    = errors.New("report_unknown_format")
)

type Format string

const (
	FormatDSR  Format = "dsr-xml"
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

// Destination tells the dispatcher how to hand the artifact over.
type Destination struct {
	Transport string            `json:"transport"`
	Settings  map[string]string `json:"settings,omitempty"`
}

// Statistics summarizes what the artifact contains; included verbatim in
// the webhook payload.
type Statistics struct {
	TotalQuantity int64   `json:"totalQuantity"`
	GrossAmount   float64 `json:"grossAmount"`
	NetAmount     float64 `json:"netAmount"`
	TrackCount    int     `json:"trackCount"`
}

// Report is one generated artifact and its delivery lifecycle. The artifact
// itself lives in object storage; rows are append-only once sent.
type Report struct {
	ID            snowflake.ID `json:"id" gorm:"primaryKey"`
	DistributorID string       `json:"distributor_id" gorm:"type:text;not null;index"`
	Type          string       `json:"type" gorm:"type:text;not null"`
	Format        Format       `json:"format" gorm:"type:text;not null"`
	Period        string       `json:"period" gorm:"type:text;not null"`
	Territory     string       `json:"territory" gorm:"type:text"`

	Bucket      string    `json:"bucket" gorm:"type:text;not null"`
	ObjectKey   string    `json:"object_key" gorm:"type:text;not null"`
	DownloadURL string    `json:"download_url" gorm:"type:text"`
	ExpiresAt   time.Time `json:"expires_at"`

	Statistics  datatypes.JSON `json:"statistics"`
	Destination datatypes.JSON `json:"destination"`

	DeliveryStatus DeliveryStatus `json:"delivery_status" gorm:"type:text;not null;index"`
	RetryCount     int            `json:"retry_count"`
	ScheduledAt    time.Time      `json:"scheduled_at" gorm:"not null"`
	DeliveredAt    *time.Time     `json:"delivered_at"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (Report) TableName() string { return "reports" }

// ReportDelivery is the per-attempt audit trail.
type ReportDelivery struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	ReportID    snowflake.ID `json:"report_id" gorm:"not null;index"`
	Transport   string       `json:"transport" gorm:"type:text;not null"`
	Attempt     int          `json:"attempt"`
	Success     bool         `json:"success"`
	Error       string       `json:"error" gorm:"type:text"`
	AttemptedAt time.Time    `json:"attempted_at" gorm:"not null"`
}

func (ReportDelivery) TableName() string { return "report_deliveries" }

type Repository interface {
	InsertReport(ctx context.Context, db *gorm.DB, r *Report) error
	FindReport(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Report, error)
	UpdateReportFields(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error
	// ListDue returns pending reports whose scheduled time has passed.
	ListDue(ctx context.Context, db *gorm.DB, now time.Time) ([]Report, error)
	// ListRetryable returns failed reports with fewer than maxRetries prior
	// attempts.
	ListRetryable(ctx context.Context, db *gorm.DB, maxRetries int) ([]Report, error)

	InsertDelivery(ctx context.Context, db *gorm.DB, d *ReportDelivery) error
	ListDeliveries(ctx context.Context, db *gorm.DB, reportID snowflake.ID) ([]ReportDelivery, error)
}

func (r Report) DestinationSpec() Destination {
	var out Destination
	if len(r.Destination) == 0 {
		return out
	}
	_ = json.Unmarshal(r.Destination, &out)
	return out
}

func (r Report) StatisticsData() Statistics {
	var out Statistics
	if len(r.Statistics) == 0 {
		return out
	}
	_ = json.Unmarshal(r.Statistics, &out)
	return out
}
