package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/daddykev/stardust-dsp/internal/clock"
	deliverydomain "github.com/daddykev/stardust-dsp/internal/delivery/domain"
	deliveryrepo "github.com/daddykev/stardust-dsp/internal/delivery/repository"
	notificationdomain "github.com/daddykev/stardust-dsp/internal/notification/domain"
	notificationrepo "github.com/daddykev/stardust-dsp/internal/notification/repository"
	"github.com/daddykev/stardust-dsp/internal/pipeline"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type published struct {
	topic   string
	payload any
}

type capturePublisher struct {
	events []published
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, topic string, payload any) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, published{topic: topic, payload: payload})
	return nil
}

func newTestService(t *testing.T) (*Service, *gorm.DB, *capturePublisher, *clock.FakeClock) {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&deliverydomain.Delivery{}, &notificationdomain.Notification{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	pub := &capturePublisher{}
	clk := clock.NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

	svc := New(Params{
		DB:               gdb,
		Log:              zap.NewNop(),
		GenID:            node,
		Clock:            clk,
		Repo:             deliveryrepo.Provide(),
		NotificationRepo: notificationrepo.Provide(),
		Publisher:        pub,
	}).(*Service)
	return svc, gdb, pub, clk
}

func receiveDelivery(t *testing.T, svc *Service) *deliverydomain.Delivery {
	t.Helper()
	d, err := svc.HandleObjectFinalized(context.Background(), "stardust-deliveries",
		"deliveries/dist-001/1709294400/manifest.xml", 2048, "application/xml")
	require.NoError(t, err)
	return d
}

func TestHandleObjectFinalizedIgnoresNonManifest(t *testing.T) {
	svc, _, pub, _ := newTestService(t)

	for _, path := range []string{
		"deliveries/dist-001/1709294400/audio/track.wav",
		"deliveries/dist-001/manifest.xml",
		"uploads/manifest.xml",
		"deliveries/dist-001/1709294400/MANIFEST.XML",
	} {
		_, err := svc.HandleObjectFinalized(context.Background(), "b", path, 10, "")
		assert.ErrorIs(t, err, deliverydomain.ErrIgnoredObject, path)
	}
	assert.Empty(t, pub.events)
}

func TestHandleObjectFinalizedCreatesAndEnqueues(t *testing.T) {
	svc, _, pub, clk := newTestService(t)

	d := receiveDelivery(t, svc)
	assert.Equal(t, "dist-001_1709294400", d.ID)
	assert.Equal(t, "dist-001", d.DistributorID)
	assert.Equal(t, deliverydomain.StatusPending, d.Processing.Status)
	require.NotNil(t, d.Processing.ReceivedAt)
	assert.Equal(t, clk.Now(), *d.Processing.ReceivedAt)

	require.Len(t, pub.events, 1)
	assert.Equal(t, pipeline.TopicParse, pub.events[0].topic)
	job := pub.events[0].payload.(pipeline.ParseJob)
	assert.Equal(t, d.ID, job.DeliveryID)
	assert.Equal(t, "deliveries/dist-001/1709294400/manifest.xml", job.ManifestPath)
	assert.Equal(t, "stardust-deliveries", job.Bucket)
}

func TestHandleObjectFinalizedDuplicateReturnsExisting(t *testing.T) {
	svc, _, pub, _ := newTestService(t)

	first := receiveDelivery(t, svc)
	second := receiveDelivery(t, svc)

	assert.Equal(t, first.ID, second.ID)
	// No second parse job for the same delivery.
	assert.Len(t, pub.events, 1)
}

func TestAdvanceFollowsStageChain(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	d := receiveDelivery(t, svc)
	ctx := context.Background()

	require.NoError(t, svc.Advance(ctx, d.ID, deliverydomain.StatusParsing))
	require.NoError(t, svc.Advance(ctx, d.ID, deliverydomain.StatusAwaitingValidation))

	// Re-asserting the current stage is a no-op, not an error.
	require.NoError(t, svc.Advance(ctx, d.ID, deliverydomain.StatusAwaitingValidation))

	// Skipping ahead is rejected.
	err := svc.Advance(ctx, d.ID, deliverydomain.StatusCompleted)
	assert.ErrorIs(t, err, deliverydomain.ErrInvalidTransition)

	got, err := svc.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, deliverydomain.StatusAwaitingValidation, got.Processing.Status)
}

func TestMarkTerminalRecordsErrorAndNotifies(t *testing.T) {
	svc, gdb, pub, _ := newTestService(t)
	d := receiveDelivery(t, svc)
	ctx := context.Background()

	require.NoError(t, svc.Advance(ctx, d.ID, deliverydomain.StatusParsing))
	require.NoError(t, svc.MarkTerminal(ctx, d.ID, deliverydomain.StatusParseFailed, "parser",
		[]string{"unparseable XML"}, "unexpected EOF at byte 512"))

	got, err := svc.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, deliverydomain.StatusParseFailed, got.Processing.Status)
	assert.Equal(t, "unparseable XML", got.Processing.Error)
	assert.Equal(t, "unexpected EOF at byte 512", got.Processing.ErrorDetail)

	notifs, err := notificationrepo.Provide().ListByDelivery(ctx, gdb, d.ID)
	require.NoError(t, err)
	require.Len(t, notifs, 1)
	assert.Equal(t, notificationdomain.TypeDeliveryError, notifs[0].Type)
	assert.Equal(t, "dist-001", notifs[0].DistributorID)

	last := pub.events[len(pub.events)-1]
	assert.Equal(t, pipeline.TopicError, last.topic)
	event := last.payload.(pipeline.ErrorEvent)
	assert.Equal(t, "parser", event.Stage)
	assert.Equal(t, []string{"unparseable XML"}, event.Errors)
}

func TestMarkTerminalValidationFailureNotificationType(t *testing.T) {
	svc, gdb, pub, _ := newTestService(t)
	d := receiveDelivery(t, svc)
	ctx := context.Background()

	require.NoError(t, svc.Advance(ctx, d.ID, deliverydomain.StatusParsing))
	require.NoError(t, svc.Advance(ctx, d.ID, deliverydomain.StatusAwaitingValidation))
	require.NoError(t, svc.Advance(ctx, d.ID, deliverydomain.StatusValidating))
	require.NoError(t, svc.StampValidation(ctx, d.ID, false,
		[]string{"missing ISRC on A1"}, []string{"deprecated territory code"}))
	require.NoError(t, svc.MarkTerminal(ctx, d.ID, deliverydomain.StatusValidationFailed, "validator",
		[]string{"missing ISRC on A1"}, ""))

	notifs, err := notificationrepo.Provide().ListByDelivery(ctx, gdb, d.ID)
	require.NoError(t, err)
	require.Len(t, notifs, 1)
	assert.Equal(t, notificationdomain.TypeValidationError, notifs[0].Type)
	assert.Contains(t, string(notifs[0].Payload), "deprecated territory code")

	// Stamped warnings ride along on the error event.
	last := pub.events[len(pub.events)-1]
	require.Equal(t, pipeline.TopicError, last.topic)
	event := last.payload.(pipeline.ErrorEvent)
	assert.Equal(t, []string{"missing ISRC on A1"}, event.Errors)
	assert.Equal(t, []string{"deprecated territory code"}, event.Warnings)
}

func TestStampsAndComplete(t *testing.T) {
	svc, _, _, clk := newTestService(t)
	d := receiveDelivery(t, svc)
	ctx := context.Background()

	require.NoError(t, svc.Advance(ctx, d.ID, deliverydomain.StatusParsing))
	require.NoError(t, svc.StampERN(ctx, d.ID, deliverydomain.ERNInfo{
		Version:   "ERN-4.3",
		Profile:   "AudioAlbumMusicOnly",
		MessageID: "MSG-123",
		Sender:    "Acme Records",
	}))
	require.NoError(t, svc.Advance(ctx, d.ID, deliverydomain.StatusAwaitingValidation))
	require.NoError(t, svc.Advance(ctx, d.ID, deliverydomain.StatusValidating))
	require.NoError(t, svc.StampValidation(ctx, d.ID, true, nil, []string{"deprecated territory code"}))
	require.NoError(t, svc.Advance(ctx, d.ID, deliverydomain.StatusProcessingReleases))

	clk.Advance(5 * time.Minute)
	require.NoError(t, svc.Complete(ctx, d.ID, 1, 12))

	got, err := svc.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, deliverydomain.StatusCompleted, got.Processing.Status)
	assert.Equal(t, "ERN-4.3", got.ERN.Version)
	assert.Equal(t, "MSG-123", got.ERN.MessageID)
	assert.Equal(t, "Acme Records", got.Sender)
	assert.True(t, got.Validation.Valid)
	assert.Empty(t, got.Validation.IssueStrings())
	assert.Equal(t, []string{"deprecated territory code"}, got.Validation.WarningStrings())
	assert.Equal(t, 1, got.ReleaseCount)
	assert.Equal(t, 12, got.TrackCount)
	require.NotNil(t, got.Processing.CompletedAt)

	// Completing twice stays idempotent.
	require.NoError(t, svc.Complete(ctx, d.ID, 1, 12))
}

func TestReprocessResetsTerminalDelivery(t *testing.T) {
	svc, _, pub, _ := newTestService(t)
	d := receiveDelivery(t, svc)
	ctx := context.Background()

	// Not terminal yet.
	assert.ErrorIs(t, svc.Reprocess(ctx, d.ID), deliverydomain.ErrNotTerminal)

	require.NoError(t, svc.Advance(ctx, d.ID, deliverydomain.StatusParsing))
	require.NoError(t, svc.MarkTerminal(ctx, d.ID, deliverydomain.StatusParseFailed, "parser",
		[]string{"unparseable XML"}, ""))

	require.NoError(t, svc.Reprocess(ctx, d.ID))

	got, err := svc.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, deliverydomain.StatusPending, got.Processing.Status)
	assert.Empty(t, got.Processing.Error)

	last := pub.events[len(pub.events)-1]
	assert.Equal(t, pipeline.TopicParse, last.topic)
	job := last.payload.(pipeline.ParseJob)
	assert.Equal(t, d.ID, job.DeliveryID)
	assert.Equal(t, d.PackagePath, job.ManifestPath)
}

func TestReprocessRejectsCompleted(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	d := receiveDelivery(t, svc)
	ctx := context.Background()

	require.NoError(t, svc.Advance(ctx, d.ID, deliverydomain.StatusParsing))
	require.NoError(t, svc.Advance(ctx, d.ID, deliverydomain.StatusAwaitingValidation))
	require.NoError(t, svc.Advance(ctx, d.ID, deliverydomain.StatusValidating))
	require.NoError(t, svc.Advance(ctx, d.ID, deliverydomain.StatusProcessingReleases))
	require.NoError(t, svc.Complete(ctx, d.ID, 0, 0))

	assert.ErrorIs(t, svc.Reprocess(ctx, d.ID), deliverydomain.ErrNotTerminal)
}
