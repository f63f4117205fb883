package service

import (
	"context"
	"fmt"
	"path"
	"strings"

	catalogdomain "github.com/daddykev/stardust-dsp/internal/catalog/domain"
	"github.com/daddykev/stardust-dsp/internal/clock"
	erndomain "github.com/daddykev/stardust-dsp/internal/ern/domain"
	"github.com/daddykev/stardust-dsp/internal/pipeline"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	unknownArtist = "Unknown Artist"
	defaultLabel  = "Independent"
)

// placeholderCoverArt is used when a release ships without front-cover art.
var placeholderCoverArt = map[string]string{
	"original": "assets/placeholders/cover.jpg",
	"small":    "assets/placeholders/cover_small.jpg",
	"medium":   "assets/placeholders/cover_medium.jpg",
	"large":    "assets/placeholders/cover_large.jpg",
}

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Repo      catalogdomain.Repository
	Publisher pipeline.Publisher
}

// Processor expands a validated canonical graph into catalog entities.
// Each release commits independently: a failure mid-message leaves the
// releases already written in place.
type Processor struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	repo      catalogdomain.Repository
	publisher pipeline.Publisher
}

func NewProcessor(p Params) *Processor {
	return &Processor{
		db:        p.DB,
		log:       p.Log.Named("catalog.processor"),
		clock:     p.Clock,
		repo:      p.Repo,
		publisher: p.Publisher,
	}
}

// ProcessMessage persists every release in the message and returns one
// summary per persisted release plus the total track count.
func (p *Processor) ProcessMessage(ctx context.Context, deliveryID, distributorID string, msg *erndomain.Message, deliveryPath, bucket string) ([]pipeline.ReleaseSummary, int, error) {
	baseDir := path.Dir(deliveryPath)

	var summaries []pipeline.ReleaseSummary
	totalTracks := 0

	for i, release := range msg.Releases {
		summary, trackCount, err := p.processRelease(ctx, deliveryID, distributorID, msg, release, i, baseDir, bucket)
		if err != nil {
			return summaries, totalTracks, fmt.Errorf("release %d of %d: %w", i+1, len(msg.Releases), err)
		}
		summaries = append(summaries, summary)
		totalTracks += trackCount
	}
	return summaries, totalTracks, nil
}

func (p *Processor) processRelease(ctx context.Context, deliveryID, distributorID string, msg *erndomain.Message, release erndomain.Release, index int, baseDir, bucket string) (pipeline.ReleaseSummary, int, error) {
	releaseID := deriveReleaseID(release, msg.Header.MessageID, deliveryID, index)
	now := p.clock.Now()

	displayArtist := release.DisplayArtist
	if displayArtist == "" {
		displayArtist = unknownArtist
	}
	labelName := release.LabelName
	if labelName == "" {
		labelName = defaultLabel
	}
	title := release.Title
	if title == "" {
		title = "Untitled Release"
	}

	rec := &catalogdomain.ReleaseRecord{
		ID:            releaseID,
		DeliveryID:    deliveryID,
		DistributorID: distributorID,
		Title:         title,
		DisplayArtist: displayArtist,
		LabelName:     labelName,
		ReleaseDate:   release.ReleaseDate,
		Genres:        catalogdomain.MarshalJSONField(release.Genres),
		PLine:         release.PLine,
		CLine:         release.CLine,
		CatalogNumber: release.CatalogNumber,
		ICPN:          release.ICPN,
		Territories:   catalogdomain.MarshalJSONField(release.Territories),
		CoverArt:      catalogdomain.MarshalJSONField(resolveCoverArt(release.Images, baseDir)),
		Status:        catalogdomain.ReleaseStatusProcessing,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := p.repo.UpsertRelease(ctx, p.db, rec); err != nil {
		return pipeline.ReleaseSummary{}, 0, fmt.Errorf("persist release %s: %w", releaseID, err)
	}

	trackArtists, trackCount, err := p.processTracks(ctx, releaseID, displayArtist, distributorID, release, baseDir, bucket, deliveryID)
	if err != nil {
		return pipeline.ReleaseSummary{}, 0, err
	}

	if err := p.upsertArtists(ctx, releaseID, displayArtist, trackArtists); err != nil {
		return pipeline.ReleaseSummary{}, 0, err
	}

	if err := p.repo.UpdateReleaseFields(ctx, p.db, releaseID, map[string]any{
		"track_count": trackCount,
		"status":      catalogdomain.ReleaseStatusActive,
		"updated_at":  p.clock.Now(),
	}); err != nil {
		return pipeline.ReleaseSummary{}, 0, fmt.Errorf("finalize release %s: %w", releaseID, err)
	}

	p.log.Info("release processed",
		zap.String("delivery_id", deliveryID),
		zap.String("release_id", releaseID),
		zap.String("title", title),
		zap.Int("tracks", trackCount),
	)

	return pipeline.ReleaseSummary{
		ReleaseID:  releaseID,
		Title:      title,
		Status:     "processed",
		TrackCount: trackCount,
	}, trackCount, nil
}

func (p *Processor) processTracks(ctx context.Context, releaseID, releaseArtist, distributorID string, release erndomain.Release, baseDir, bucket, deliveryID string) (map[string]int, int, error) {
	trackArtists := map[string]int{}

	for i, rec := range release.SoundRecordings {
		trackID := deriveTrackID(rec, releaseID, i)

		duration, ok := parseDuration(rec.Duration)
		if !ok {
			p.log.Warn("unrecognized duration format",
				zap.String("track_id", trackID),
				zap.String("duration", rec.Duration),
			)
		}

		artist := rec.DisplayArtist
		if artist == "" {
			artist = releaseArtist
		}
		trackArtists[artist]++

		sourcePath := ""
		if rec.FilePath != "" {
			sourcePath = path.Join(baseDir, rec.FilePath)
		}

		now := p.clock.Now()
		track := &catalogdomain.TrackRecord{
			ID:              trackID,
			ReleaseID:       releaseID,
			ISRC:            rec.ISRC,
			Title:           rec.Title,
			DisplayArtist:   artist,
			DurationSeconds: duration,
			SequenceNumber:  i + 1,
			SourcePath:      sourcePath,
			StreamingURLs:   catalogdomain.MarshalJSONField(streamingURLs(trackID, sourcePath)),
			Rights:          catalogdomain.MarshalJSONField(defaultRights(distributorID, artist)),
			Status:          "active",
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := p.repo.UpsertTrack(ctx, p.db, track); err != nil {
			return nil, 0, fmt.Errorf("persist track %s: %w", trackID, err)
		}

		if sourcePath != "" {
			job := pipeline.TranscodeJob{
				DeliveryID: deliveryID,
				ReleaseID:  releaseID,
				TrackID:    trackID,
				SourcePath: sourcePath,
				Bucket:     bucket,
			}
			if err := p.publisher.Publish(ctx, pipeline.TopicTranscode, job); err != nil {
				return nil, 0, fmt.Errorf("enqueue transcode for %s: %w", trackID, err)
			}
		}
	}
	return trackArtists, len(release.SoundRecordings), nil
}

// upsertArtists merges each distinct display artist. The release-id set and
// the counters only grow when this release is new for the artist, keeping
// redelivery idempotent.
func (p *Processor) upsertArtists(ctx context.Context, releaseID, releaseArtist string, trackArtists map[string]int) error {
	names := map[string]int{}
	for name, tracks := range trackArtists {
		names[name] += tracks
	}
	if _, ok := names[releaseArtist]; !ok {
		names[releaseArtist] = 0
	}

	for name, tracks := range names {
		artistID := slug.Make(name)
		if artistID == "" {
			continue
		}

		existing, err := p.repo.FindArtist(ctx, p.db, artistID)
		if err != nil {
			return fmt.Errorf("find artist %s: %w", artistID, err)
		}

		now := p.clock.Now()
		if existing == nil {
			a := &catalogdomain.ArtistRecord{
				ID:           artistID,
				Name:         name,
				ReleaseIDs:   catalogdomain.MarshalJSONField([]string{releaseID}),
				ReleaseCount: 1,
				TrackCount:   tracks,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := p.repo.SaveArtist(ctx, p.db, a); err != nil {
				return fmt.Errorf("create artist %s: %w", artistID, err)
			}
			continue
		}

		ids := existing.ReleaseIDSet()
		if containsString(ids, releaseID) {
			continue
		}
		ids = append(ids, releaseID)
		existing.ReleaseIDs = catalogdomain.MarshalJSONField(ids)
		existing.ReleaseCount++
		existing.TrackCount += tracks
		existing.UpdatedAt = now
		if err := p.repo.SaveArtist(ctx, p.db, existing); err != nil {
			return fmt.Errorf("update artist %s: %w", artistID, err)
		}
	}
	return nil
}

func deriveReleaseID(release erndomain.Release, messageID, deliveryID string, index int) string {
	if release.GRid != "" {
		return release.GRid
	}
	base := messageID
	if base == "" {
		base = deliveryID
	}
	return fmt.Sprintf("REL-%s-%d", base, index+1)
}

func deriveTrackID(rec erndomain.SoundRecording, releaseID string, index int) string {
	if rec.ISRC != "" {
		return rec.ISRC
	}
	return fmt.Sprintf("TRK-%s-%d", releaseID, index+1)
}

// resolveCoverArt picks the front cover and synthesizes sized variants from
// its path; with no cover present the placeholder set is used.
func resolveCoverArt(images []erndomain.Image, baseDir string) map[string]string {
	for _, img := range images {
		if !img.IsFrontCover() || img.FilePath == "" {
			continue
		}
		original := path.Join(baseDir, img.FilePath)
		return map[string]string{
			"original": original,
			"small":    sizedVariant(original, "small"),
			"medium":   sizedVariant(original, "medium"),
			"large":    sizedVariant(original, "large"),
		}
	}
	return placeholderCoverArt
}

func sizedVariant(p, size string) string {
	ext := path.Ext(p)
	return strings.TrimSuffix(p, ext) + "_" + size + ext
}

func streamingURLs(trackID, sourcePath string) map[string]string {
	return map[string]string{
		"original": sourcePath,
		"hls":      fmt.Sprintf("streams/%s/master.m3u8", trackID),
		"dash":     fmt.Sprintf("streams/%s/manifest.mpd", trackID),
	}
}

// defaultRights is applied when the manifest carries no explicit share
// table: master side to the distributor, publishing side to the display
// artist.
func defaultRights(distributorID, artist string) []catalogdomain.Share {
	return []catalogdomain.Share{
		{HolderID: distributorID, Type: catalogdomain.RightsMaster, Fraction: 1},
		{HolderID: slug.Make(artist), Type: catalogdomain.RightsPublishing, Fraction: 1},
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
