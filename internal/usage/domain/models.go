package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PlayEvent is one playback tick. Rows are append-only and immutable once
// the completed flag is set.
type PlayEvent struct {
	ID              snowflake.ID `json:"id" gorm:"primaryKey"`
	TrackID         string       `json:"track_id" gorm:"type:text;not null;index"`
	ListenerID      string       `json:"listener_id" gorm:"type:text;not null;index"`
	Source          string       `json:"source" gorm:"type:text"` // originating DSP
	Country         string       `json:"country" gorm:"type:text"`
	DurationSeconds int          `json:"duration_seconds"`
	Completed       bool         `json:"completed"`
	PlayedAt        time.Time    `json:"played_at" gorm:"not null;index"`
	CreatedAt       time.Time    `json:"created_at" gorm:"not null"`
}

func (PlayEvent) TableName() string { return "play_events" }

// DailyAggregate folds one day of plays for one track. Keyed by
// {date}_{trackId}; the aggregator merges into existing rows, never
// overwrites them.
type DailyAggregate struct {
	ID      string `json:"id" gorm:"primaryKey;type:text"`
	Date    string `json:"date" gorm:"type:text;not null;index"` // YYYY-MM-DD
	TrackID string `json:"track_id" gorm:"type:text;not null;index"`

	Plays           int64 `json:"plays"`
	Completions     int64 `json:"completions"`
	DurationSeconds int64 `json:"duration_seconds"`
	UniqueListeners int   `json:"unique_listeners"`

	// Listeners keeps the listener-id set so merges stay exact.
	Listeners     datatypes.JSON `json:"listeners"`
	CountryCounts datatypes.JSON `json:"country_counts"`
	SourceCounts  datatypes.JSON `json:"source_counts"`
	HourHistogram datatypes.JSON `json:"hour_histogram"`

	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

func (DailyAggregate) TableName() string { return "daily_aggregates" }

// AggregateID builds the {date}_{trackId} key.
func AggregateID(date, trackID string) string {
	return fmt.Sprintf("%s_%s", date, trackID)
}

type Repository interface {
	InsertPlayEvent(ctx context.Context, db *gorm.DB, e *PlayEvent) error
	ListPlayEventsBetween(ctx context.Context, db *gorm.DB, from, to time.Time) ([]PlayEvent, error)

	FindAggregates(ctx context.Context, db *gorm.DB, ids []string) ([]DailyAggregate, error)
	SaveAggregates(ctx context.Context, db *gorm.DB, aggs []DailyAggregate) error
	ListAggregatesBetween(ctx context.Context, db *gorm.DB, fromDate, toDate string) ([]DailyAggregate, error)
}

func (a DailyAggregate) ListenerSet() []string {
	return decodeStrings(a.Listeners)
}

func (a DailyAggregate) CountryCountMap() map[string]int64 {
	return decodeCounts(a.CountryCounts)
}

func (a DailyAggregate) SourceCountMap() map[string]int64 {
	return decodeCounts(a.SourceCounts)
}

func (a DailyAggregate) HourCounts() [24]int64 {
	var out [24]int64
	if len(a.HourHistogram) == 0 {
		return out
	}
	_ = json.Unmarshal(a.HourHistogram, &out)
	return out
}

func decodeStrings(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func decodeCounts(raw datatypes.JSON) map[string]int64 {
	if len(raw) == 0 {
		return map[string]int64{}
	}
	out := map[string]int64{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]int64{}
	}
	return out
}
