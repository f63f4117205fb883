package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/daddykev/stardust-dsp/internal/clock"
	usagedomain "github.com/daddykev/stardust-dsp/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// writeChunkSize caps how many aggregate rows go into one batched write.
const writeChunkSize = 500

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  usagedomain.Repository
}

// Aggregator folds raw play events into daily per-track aggregates. Counters
// sum on merge, so callers must hand it disjoint event windows; batches for
// the same day land in the same row without overwriting earlier ones.
type Aggregator struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  usagedomain.Repository
}

func NewAggregator(p Params) *Aggregator {
	return &Aggregator{
		db:    p.DB,
		log:   p.Log.Named("usage.aggregator"),
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// AggregateWindow folds every play event in [from, to) into daily
// aggregates and reports how many rows were written.
func (a *Aggregator) AggregateWindow(ctx context.Context, from, to time.Time) (int, error) {
	events, err := a.repo.ListPlayEventsBetween(ctx, a.db, from, to)
	if err != nil {
		return 0, fmt.Errorf("list play events: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	buckets := foldEvents(events)

	ids := make([]string, 0, len(buckets))
	for id := range buckets {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	existing, err := a.repo.FindAggregates(ctx, a.db, ids)
	if err != nil {
		return 0, fmt.Errorf("load existing aggregates: %w", err)
	}
	byID := make(map[string]usagedomain.DailyAggregate, len(existing))
	for _, agg := range existing {
		byID[agg.ID] = agg
	}

	now := a.clock.Now()
	merged := make([]usagedomain.DailyAggregate, 0, len(ids))
	for _, id := range ids {
		merged = append(merged, mergeAggregate(byID[id], buckets[id], now))
	}

	written := 0
	for start := 0; start < len(merged); start += writeChunkSize {
		end := start + writeChunkSize
		if end > len(merged) {
			end = len(merged)
		}
		if err := a.repo.SaveAggregates(ctx, a.db, merged[start:end]); err != nil {
			return written, fmt.Errorf("save aggregates chunk at %d: %w", start, err)
		}
		written += end - start
	}

	a.log.Info("usage aggregated",
		zap.Time("from", from),
		zap.Time("to", to),
		zap.Int("events", len(events)),
		zap.Int("aggregates", written),
	)
	return written, nil
}

// bucket is the in-memory accumulation for one {date, track} pair.
type bucket struct {
	date            string
	trackID         string
	plays           int64
	completions     int64
	durationSeconds int64
	listeners       map[string]bool
	countries       map[string]int64
	sources         map[string]int64
	hours           [24]int64
}

func foldEvents(events []usagedomain.PlayEvent) map[string]*bucket {
	out := map[string]*bucket{}
	for _, e := range events {
		date := e.PlayedAt.UTC().Format("2006-01-02")
		id := usagedomain.AggregateID(date, e.TrackID)
		b, ok := out[id]
		if !ok {
			b = &bucket{
				date:      date,
				trackID:   e.TrackID,
				listeners: map[string]bool{},
				countries: map[string]int64{},
				sources:   map[string]int64{},
			}
			out[id] = b
		}
		b.plays++
		if e.Completed {
			b.completions++
		}
		b.durationSeconds += int64(e.DurationSeconds)
		if e.ListenerID != "" {
			b.listeners[e.ListenerID] = true
		}
		if e.Country != "" {
			b.countries[e.Country]++
		}
		if e.Source != "" {
			b.sources[e.Source]++
		}
		b.hours[e.PlayedAt.UTC().Hour()]++
	}
	return out
}

// mergeAggregate adds a bucket into the stored row. Counters sum and the
// listener set unions; nothing is overwritten.
func mergeAggregate(existing usagedomain.DailyAggregate, b *bucket, now time.Time) usagedomain.DailyAggregate {
	listeners := map[string]bool{}
	for _, l := range existing.ListenerSet() {
		listeners[l] = true
	}
	for l := range b.listeners {
		listeners[l] = true
	}
	listenerList := make([]string, 0, len(listeners))
	for l := range listeners {
		listenerList = append(listenerList, l)
	}
	sort.Strings(listenerList)

	countries := existing.CountryCountMap()
	for c, n := range b.countries {
		countries[c] += n
	}
	sources := existing.SourceCountMap()
	for s, n := range b.sources {
		sources[s] += n
	}
	hours := existing.HourCounts()
	for h, n := range b.hours {
		hours[h] += n
	}

	return usagedomain.DailyAggregate{
		ID:              usagedomain.AggregateID(b.date, b.trackID),
		Date:            b.date,
		TrackID:         b.trackID,
		Plays:           existing.Plays + b.plays,
		Completions:     existing.Completions + b.completions,
		DurationSeconds: existing.DurationSeconds + b.durationSeconds,
		UniqueListeners: len(listenerList),
		Listeners:       mustJSON(listenerList),
		CountryCounts:   mustJSON(countries),
		SourceCounts:    mustJSON(sources),
		HourHistogram:   mustJSON(hours),
		UpdatedAt:       now,
	}
}

func mustJSON(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}
