package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrNotFound           = errors.New("delivery_not_found")
	ErrInvalidTransition  = errors.New("delivery_invalid_status_transition")
	ErrNotTerminal        = errors.New("delivery_not_in_terminal_state")
	ErrIgnoredObject      = errors.New("delivery_object_ignored")
	ErrDuplicateDelivery  = errors.New("delivery_already_exists")
	ErrMissingDistributor = errors.New("delivery_missing_distributor")
)

// ProcessingState tracks the stage machine for one delivery. Status moves
// forward only; the explicit Reprocess operation is the sole sanctioned reset.
type ProcessingState struct {
	Status      Status     `json:"status" gorm:"column:status;type:text;not null"`
	Error       string     `json:"error" gorm:"column:error;type:text"`
	ErrorDetail string     `json:"error_detail" gorm:"column:error_detail;type:text"`
	ReceivedAt  *time.Time `json:"received_at"`
	ParsedAt    *time.Time `json:"parsed_at"`
	ValidatedAt *time.Time `json:"validated_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// ERNInfo is stamped by the parser once the manifest is decoded.
type ERNInfo struct {
	Version   string `json:"version" gorm:"column:version;type:text"`
	Profile   string `json:"profile" gorm:"column:profile;type:text"`
	MessageID string `json:"message_id" gorm:"column:message_id;type:text"`
	Sender    string `json:"sender" gorm:"column:sender;type:text"`
}

// ValidationState is stamped by the validator.
type ValidationState struct {
	Valid    bool           `json:"valid" gorm:"column:valid"`
	Errors   datatypes.JSON `json:"errors" gorm:"column:errors"`
	Warnings datatypes.JSON `json:"warnings" gorm:"column:warnings"`
}

// Delivery is the audit-trail record for one ERN package. Created by the
// receiver, mutated by every downstream stage, never deleted.
type Delivery struct {
	ID            string `json:"id" gorm:"primaryKey;type:text"` // {distributor}_{timestamp}
	DistributorID string `json:"distributor_id" gorm:"type:text;not null;index"`
	Sender        string `json:"sender" gorm:"type:text"`
	Bucket        string `json:"bucket" gorm:"type:text;not null"`
	PackagePath   string `json:"package_path" gorm:"type:text;not null"`
	PackageSize   int64  `json:"package_size"`
	ContentType   string `json:"content_type" gorm:"type:text"`

	Processing ProcessingState `json:"processing" gorm:"embedded;embeddedPrefix:processing_"`
	ERN        ERNInfo         `json:"ern" gorm:"embedded;embeddedPrefix:ern_"`
	Validation ValidationState `json:"validation" gorm:"embedded;embeddedPrefix:validation_"`

	AckMessageID string `json:"ack_message_id" gorm:"type:text"`
	ReleaseCount int    `json:"release_count"`
	TrackCount   int    `json:"track_count"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (Delivery) TableName() string { return "deliveries" }

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, d *Delivery) error
	FindByID(ctx context.Context, db *gorm.DB, id string) (*Delivery, error)
	// UpdateStatus transitions processing_status from one value to another,
	// merging extra column updates in the same write. It returns false when
	// the row was not in the expected from status (single-writer guard).
	UpdateStatus(ctx context.Context, db *gorm.DB, id string, from, to Status, extra map[string]any) (bool, error)
	UpdateFields(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error
}

// IssueStrings decodes the persisted error list.
func (v ValidationState) IssueStrings() []string {
	return decodeStrings(v.Errors)
}

func (v ValidationState) WarningStrings() []string {
	return decodeStrings(v.Warnings)
}

func decodeStrings(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := jsonUnmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
