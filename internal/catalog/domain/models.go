package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrReleaseNotFound = errors.New("catalog_release_not_found")
	ErrTrackNotFound   = errors.New("catalog_track_not_found")
)

type ReleaseStatus string

const (
	ReleaseStatusProcessing ReleaseStatus = "processing"
	ReleaseStatusActive     ReleaseStatus = "active"
)

// RightsType splits a track's allocated revenue between recording and
// composition sides.
type RightsType string

const (
	RightsMaster     RightsType = "master"
	RightsPublishing RightsType = "publishing"
)

// Share is one rights holder's fraction of a track on one side of the
// master/publishing split. Fractions on the same side sum to 1.
type Share struct {
	HolderID string     `json:"holderId"`
	Type     RightsType `json:"type"`
	Fraction float64    `json:"fraction"`
}

// ReleaseRecord is the durable catalog entity for one release, keyed by its
// GRid or a deterministic fallback id. Re-delivery upserts by id.
type ReleaseRecord struct {
	ID            string `json:"id" gorm:"primaryKey;type:text"`
	DeliveryID    string `json:"delivery_id" gorm:"type:text;index"`
	DistributorID string `json:"distributor_id" gorm:"type:text;index"`

	Title         string         `json:"title" gorm:"type:text;not null"`
	DisplayArtist string         `json:"display_artist" gorm:"type:text;not null"`
	LabelName     string         `json:"label_name" gorm:"type:text"`
	ReleaseDate   string         `json:"release_date" gorm:"type:text"`
	Genres        datatypes.JSON `json:"genres"`
	PLine         string         `json:"p_line" gorm:"type:text"`
	CLine         string         `json:"c_line" gorm:"type:text"`
	CatalogNumber string         `json:"catalog_number" gorm:"type:text"`
	ICPN          string         `json:"icpn" gorm:"type:text"`
	Territories   datatypes.JSON `json:"territories"`

	// CoverArt maps variant name (original, small, medium, large) to URL.
	CoverArt   datatypes.JSON `json:"cover_art"`
	TrackCount int            `json:"track_count"`
	Status     ReleaseStatus  `json:"status" gorm:"type:text;not null"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (ReleaseRecord) TableName() string { return "releases" }

// TrackRecord is keyed by ISRC when present, else a deterministic fallback
// derived from the release id and sequence.
type TrackRecord struct {
	ID        string `json:"id" gorm:"primaryKey;type:text"`
	ReleaseID string `json:"release_id" gorm:"type:text;not null;index"`
	ISRC      string `json:"isrc" gorm:"type:text;index"`

	Title           string         `json:"title" gorm:"type:text;not null"`
	DisplayArtist   string         `json:"display_artist" gorm:"type:text;not null"`
	DurationSeconds int            `json:"duration_seconds"`
	SequenceNumber  int            `json:"sequence_number"`
	SourcePath      string         `json:"source_path" gorm:"type:text"`
	StreamingURLs   datatypes.JSON `json:"streaming_urls"`
	Rights          datatypes.JSON `json:"rights"`
	Status          string         `json:"status" gorm:"type:text;not null"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (TrackRecord) TableName() string { return "tracks" }

// ArtistRecord accumulates across deliveries: the release-id set and the
// counters merge on upsert, never overwrite.
type ArtistRecord struct {
	ID           string         `json:"id" gorm:"primaryKey;type:text"` // slug
	Name         string         `json:"name" gorm:"type:text;not null"`
	ReleaseIDs   datatypes.JSON `json:"release_ids"`
	ReleaseCount int            `json:"release_count"`
	TrackCount   int            `json:"track_count"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (ArtistRecord) TableName() string { return "artists" }

type Repository interface {
	UpsertRelease(ctx context.Context, db *gorm.DB, r *ReleaseRecord) error
	FindRelease(ctx context.Context, db *gorm.DB, id string) (*ReleaseRecord, error)
	UpdateReleaseFields(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error

	UpsertTrack(ctx context.Context, db *gorm.DB, t *TrackRecord) error
	FindTrack(ctx context.Context, db *gorm.DB, id string) (*TrackRecord, error)
	ListTracksByRelease(ctx context.Context, db *gorm.DB, releaseID string) ([]TrackRecord, error)
	ListActiveTracks(ctx context.Context, db *gorm.DB) ([]TrackRecord, error)
	ListTracksByIDs(ctx context.Context, db *gorm.DB, ids []string) ([]TrackRecord, error)

	FindArtist(ctx context.Context, db *gorm.DB, id string) (*ArtistRecord, error)
	SaveArtist(ctx context.Context, db *gorm.DB, a *ArtistRecord) error
}

// ShareList decodes the persisted rights shares on a track.
func (t TrackRecord) ShareList() []Share {
	if len(t.Rights) == 0 {
		return nil
	}
	var out []Share
	if err := jsonUnmarshal(t.Rights, &out); err != nil {
		return nil
	}
	return out
}

// ReleaseIDSet decodes the artist's accumulated release ids.
func (a ArtistRecord) ReleaseIDSet() []string {
	if len(a.ReleaseIDs) == 0 {
		return nil
	}
	var out []string
	if err := jsonUnmarshal(a.ReleaseIDs, &out); err != nil {
		return nil
	}
	return out
}
