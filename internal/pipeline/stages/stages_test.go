package stages

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	ackservice "github.com/daddykev/stardust-dsp/internal/acknowledgment/service"
	catalogdomain "github.com/daddykev/stardust-dsp/internal/catalog/domain"
	catalogrepo "github.com/daddykev/stardust-dsp/internal/catalog/repository"
	catalogservice "github.com/daddykev/stardust-dsp/internal/catalog/service"
	"github.com/daddykev/stardust-dsp/internal/clock"
	"github.com/daddykev/stardust-dsp/internal/config"
	deliverydomain "github.com/daddykev/stardust-dsp/internal/delivery/domain"
	deliveryrepo "github.com/daddykev/stardust-dsp/internal/delivery/repository"
	deliveryservice "github.com/daddykev/stardust-dsp/internal/delivery/service"
	ernparser "github.com/daddykev/stardust-dsp/internal/ern/parser"
	ernvalidator "github.com/daddykev/stardust-dsp/internal/ern/validator"
	notificationdomain "github.com/daddykev/stardust-dsp/internal/notification/domain"
	notificationrepo "github.com/daddykev/stardust-dsp/internal/notification/repository"
	"github.com/daddykev/stardust-dsp/internal/pipeline"
	"github.com/daddykev/stardust-dsp/internal/storage"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const testManifest = `<?xml version="1.0" encoding="UTF-8"?>
<ern:NewReleaseMessage xmlns:ern="http://ddex.net/xml/ern/43"
    MessageSchemaVersionId="ern/43"
    ReleaseProfileVersionId="AudioSingle">
  <MessageHeader>
    <MessageId>MSG-E2E-1</MessageId>
    <MessageSender><PartyName><FullName>Acme Records</FullName></PartyName></MessageSender>
    <MessageCreatedDateTime>2024-03-01T12:00:00Z</MessageCreatedDateTime>
  </MessageHeader>
  <ResourceList>
    <SoundRecording>
      <ResourceReference>A1</ResourceReference>
      <SoundRecordingId><ISRC>USRC12400001</ISRC></SoundRecordingId>
      <ReferenceTitle><TitleText>Midnight Drive</TitleText></ReferenceTitle>
      <DisplayArtist><PartyName><FullName>The Gliders</FullName></PartyName></DisplayArtist>
      <Duration>PT3M45S</Duration>
      <TechnicalDetails><File><URI>audio/midnight_drive.wav</URI></File></TechnicalDetails>
    </SoundRecording>
    <Image>
      <ResourceReference>I1</ResourceReference>
      <ImageType>FrontCoverImage</ImageType>
      <TechnicalDetails><File><URI>images/cover.jpg</URI></File></TechnicalDetails>
    </Image>
  </ResourceList>
  <ReleaseList>
    <Release>
      <ReleaseId><GRid>A10301A00001234567X</GRid></ReleaseId>
      <ReferenceTitle><TitleText>Midnight Drive - Single</TitleText></ReferenceTitle>
      <DisplayArtist><PartyName><FullName>The Gliders</FullName></PartyName></DisplayArtist>
      <LabelName>Acme Records</LabelName>
      <ReleaseResourceReferenceList>
        <ReleaseResourceReference>A1</ReleaseResourceReference>
        <ReleaseResourceReference>I1</ReleaseResourceReference>
      </ReleaseResourceReferenceList>
    </Release>
  </ReleaseList>
</ern:NewReleaseMessage>`

type harness struct {
	db         *gorm.DB
	store      *storage.MemoryStore
	deliveries deliverydomain.Service
}

// flakyPublisher fails a configured number of publishes per topic before
// delegating, mimicking a briefly unavailable fabric.
type flakyPublisher struct {
	inner pipeline.Publisher
	mu    sync.Mutex
	fails map[string]int
}

func (p *flakyPublisher) Publish(ctx context.Context, topic string, payload any) error {
	p.mu.Lock()
	if p.fails[topic] > 0 {
		p.fails[topic]--
		p.mu.Unlock()
		return errors.New("fabric unavailable")
	}
	p.mu.Unlock()
	return p.inner.Publish(ctx, topic, payload)
}

// newHarness builds the full ingestion chain on the in-process fabric with
// the given validation endpoint and starts the router.
func newHarness(t *testing.T, validatorURL string) *harness {
	return newHarnessWith(t, validatorURL, nil)
}

func newHarnessWith(t *testing.T, validatorURL string, wrapPublisher func(pipeline.Publisher) pipeline.Publisher) *harness {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(
		&deliverydomain.Delivery{},
		&notificationdomain.Notification{},
		&catalogdomain.ReleaseRecord{},
		&catalogdomain.TrackRecord{},
		&catalogdomain.ArtistRecord{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	cfg := config.Config{AppName: "stardust-dsp"}
	cfg.Validation.URL = validatorURL
	cfg.Validation.Timeout = 2 * time.Second

	ps := pipeline.NewPubSub(log)
	pub := pipeline.NewPublisher(ps)
	if wrapPublisher != nil {
		pub = wrapPublisher(pub)
	}
	store := storage.NewMemory()

	deliveries := deliveryservice.New(deliveryservice.Params{
		DB: gdb, Log: log, GenID: node, Clock: clk,
		Repo:             deliveryrepo.Provide(),
		NotificationRepo: notificationrepo.Provide(),
		Publisher:        pub,
	})
	processor := catalogservice.NewProcessor(catalogservice.Params{
		DB: gdb, Log: log, Clock: clk,
		Repo:      catalogrepo.Provide(),
		Publisher: pub,
	})
	notifier := ackservice.New(ackservice.Params{
		DB: gdb, Log: log, Cfg: cfg, GenID: node, Clock: clk,
		Deliveries:       deliveries,
		NotificationRepo: notificationrepo.Provide(),
	})

	stages := New(Params{
		Log: log, Cfg: cfg,
		Deliveries: deliveries,
		Parser:     ernparser.New(log),
		Validator:  ernvalidator.New(cfg, log),
		Processor:  processor,
		Notifier:   notifier,
		Store:      store,
		Publisher:  pub,
	})

	router, err := NewRouter(ps, stages)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		_ = router.Run(ctx)
	}()
	select {
	case <-router.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("router did not start")
	}
	t.Cleanup(func() { _ = router.Close() })

	return &harness{db: gdb, store: store, deliveries: deliveries}
}

func (h *harness) uploadManifest(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, h.store.Upload(context.Background(), "stardust-deliveries", path,
		strings.NewReader(testManifest), int64(len(testManifest)), "application/xml"))
}

func (h *harness) waitForStatus(t *testing.T, deliveryID string, want deliverydomain.Status) *deliverydomain.Delivery {
	t.Helper()
	var got *deliverydomain.Delivery
	require.Eventually(t, func() bool {
		d, err := h.deliveries.Get(context.Background(), deliveryID)
		if err != nil {
			return false
		}
		got = d
		return d.Processing.Status == want
	}, 10*time.Second, 20*time.Millisecond, "delivery never reached %s (last: %v)", want, got)
	return got
}

func validValidator() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ernvalidator.Result{Valid: true})
	}))
}

func TestEndToEndSingleTrackDelivery(t *testing.T) {
	srv := validValidator()
	defer srv.Close()
	h := newHarness(t, srv.URL)
	ctx := context.Background()

	manifestPath := "deliveries/dist-001/1709294400/manifest.xml"
	h.uploadManifest(t, manifestPath)

	d, err := h.deliveries.HandleObjectFinalized(ctx, "stardust-deliveries", manifestPath,
		int64(len(testManifest)), "application/xml")
	require.NoError(t, err)

	got := h.waitForStatus(t, d.ID, deliverydomain.StatusCompleted)
	assert.Equal(t, "ERN-4.3", got.ERN.Version)
	assert.Equal(t, "MSG-E2E-1", got.ERN.MessageID)
	assert.Equal(t, "Acme Records", got.Sender)
	assert.True(t, got.Validation.Valid)
	assert.Equal(t, 1, got.ReleaseCount)
	assert.Equal(t, 1, got.TrackCount)

	// Exactly one release, one track, one artist.
	repo := catalogrepo.Provide()
	release, err := repo.FindRelease(ctx, h.db, "A10301A00001234567X")
	require.NoError(t, err)
	require.NotNil(t, release)
	assert.Equal(t, catalogdomain.ReleaseStatusActive, release.Status)

	track, err := repo.FindTrack(ctx, h.db, "USRC12400001")
	require.NoError(t, err)
	require.NotNil(t, track)
	assert.Equal(t, 225, track.DurationSeconds)

	artist, err := repo.FindArtist(ctx, h.db, "the-gliders")
	require.NoError(t, err)
	require.NotNil(t, artist)

	// One acknowledgment notification, and the delivery carries its id.
	require.Eventually(t, func() bool {
		d, err := h.deliveries.Get(ctx, d.ID)
		return err == nil && d.AckMessageID != ""
	}, 10*time.Second, 20*time.Millisecond)

	notifs, err := notificationrepo.Provide().ListByDelivery(ctx, h.db, d.ID)
	require.NoError(t, err)
	require.Len(t, notifs, 1)
	assert.Equal(t, notificationdomain.TypeAcknowledgment, notifs[0].Type)

	var payload struct {
		AckMessageID string `json:"ackMessageId"`
	}
	require.NoError(t, json.Unmarshal(notifs[0].Payload, &payload))
	assert.True(t, strings.HasPrefix(payload.AckMessageID, "ACK-MSG-E2E-1-"))
}

func TestEndToEndValidationFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ernvalidator.Result{
			Valid:    false,
			Errors:   []string{"missing ISRC on A1", "territory code invalid"},
			Warnings: []string{"deprecated territory code"},
		})
	}))
	defer srv.Close()
	h := newHarness(t, srv.URL)
	ctx := context.Background()

	manifestPath := "deliveries/dist-002/1709294401/manifest.xml"
	h.uploadManifest(t, manifestPath)

	d, err := h.deliveries.HandleObjectFinalized(ctx, "stardust-deliveries", manifestPath,
		int64(len(testManifest)), "application/xml")
	require.NoError(t, err)

	got := h.waitForStatus(t, d.ID, deliverydomain.StatusValidationFailed)
	assert.False(t, got.Validation.Valid)
	assert.Equal(t, []string{"missing ISRC on A1", "territory code invalid"}, got.Validation.IssueStrings())
	assert.Equal(t, []string{"deprecated territory code"}, got.Validation.WarningStrings())

	// No catalog entities created.
	var releases int64
	require.NoError(t, h.db.Model(&catalogdomain.ReleaseRecord{}).Count(&releases).Error)
	assert.Zero(t, releases)

	// One error notification carrying both errors.
	require.Eventually(t, func() bool {
		notifs, err := notificationrepo.Provide().ListByDelivery(ctx, h.db, d.ID)
		return err == nil && len(notifs) == 1
	}, 10*time.Second, 20*time.Millisecond)
	notifs, err := notificationrepo.Provide().ListByDelivery(ctx, h.db, d.ID)
	require.NoError(t, err)
	assert.Equal(t, notificationdomain.TypeValidationError, notifs[0].Type)
	assert.Contains(t, string(notifs[0].Payload), "missing ISRC on A1")
	assert.Contains(t, string(notifs[0].Payload), "territory code invalid")
	assert.Contains(t, string(notifs[0].Payload), "deprecated territory code")
}

func TestEndToEndParseFailure(t *testing.T) {
	srv := validValidator()
	defer srv.Close()
	h := newHarness(t, srv.URL)
	ctx := context.Background()

	manifestPath := "deliveries/dist-003/1709294402/manifest.xml"
	require.NoError(t, h.store.Upload(ctx, "stardust-deliveries", manifestPath,
		strings.NewReader("<NewReleaseMessage><Unclosed>"), 28, "application/xml"))

	d, err := h.deliveries.HandleObjectFinalized(ctx, "stardust-deliveries", manifestPath, 28, "application/xml")
	require.NoError(t, err)

	got := h.waitForStatus(t, d.ID, deliverydomain.StatusParseFailed)
	assert.Equal(t, "failed to parse manifest", got.Processing.Error)
}

func TestPublishFailuresRecoverOnRedelivery(t *testing.T) {
	srv := validValidator()
	defer srv.Close()

	// The first publish of every downstream topic fails, so each stage is
	// redelivered once after its delivery record already advanced.
	flaky := &flakyPublisher{fails: map[string]int{
		pipeline.TopicValidate:    1,
		pipeline.TopicProcess:     1,
		pipeline.TopicAcknowledge: 1,
	}}
	h := newHarnessWith(t, srv.URL, func(inner pipeline.Publisher) pipeline.Publisher {
		flaky.inner = inner
		return flaky
	})
	ctx := context.Background()

	manifestPath := "deliveries/dist-005/1709294404/manifest.xml"
	h.uploadManifest(t, manifestPath)

	d, err := h.deliveries.HandleObjectFinalized(ctx, "stardust-deliveries", manifestPath,
		int64(len(testManifest)), "application/xml")
	require.NoError(t, err)

	got := h.waitForStatus(t, d.ID, deliverydomain.StatusCompleted)
	assert.Empty(t, got.Processing.Error)
	assert.Equal(t, 1, got.ReleaseCount)

	require.Eventually(t, func() bool {
		d, err := h.deliveries.Get(ctx, d.ID)
		return err == nil && d.AckMessageID != ""
	}, 10*time.Second, 20*time.Millisecond)

	// Exactly one acknowledgment despite the redeliveries.
	notifs, err := notificationrepo.Provide().ListByDelivery(ctx, h.db, d.ID)
	require.NoError(t, err)
	require.Len(t, notifs, 1)
	assert.Equal(t, notificationdomain.TypeAcknowledgment, notifs[0].Type)
}

func TestEndToEndValidatorOutageParksDelivery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()
	h := newHarness(t, srv.URL)
	ctx := context.Background()

	manifestPath := "deliveries/dist-004/1709294403/manifest.xml"
	h.uploadManifest(t, manifestPath)

	d, err := h.deliveries.HandleObjectFinalized(ctx, "stardust-deliveries", manifestPath,
		int64(len(testManifest)), "application/xml")
	require.NoError(t, err)

	// After the retry budget the delivery parks at validation_error.
	got := h.waitForStatus(t, d.ID, deliverydomain.StatusValidationError)
	assert.Equal(t, "retry budget exhausted", got.Processing.Error)
}
