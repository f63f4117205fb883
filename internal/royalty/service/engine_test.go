package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/daddykev/stardust-dsp/internal/catalog/domain"
	catalogrepo "github.com/daddykev/stardust-dsp/internal/catalog/repository"
	"github.com/daddykev/stardust-dsp/internal/clock"
	"github.com/daddykev/stardust-dsp/internal/config"
	royaltydomain "github.com/daddykev/stardust-dsp/internal/royalty/domain"
	royaltyrepo "github.com/daddykev/stardust-dsp/internal/royalty/repository"
	usagedomain "github.com/daddykev/stardust-dsp/internal/usage/domain"
	usagerepo "github.com/daddykev/stardust-dsp/internal/usage/repository"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func testRoyaltyConfig() config.Config {
	cfg := config.Config{}
	cfg.Royalty = config.RoyaltyConfig{
		Currency:        "USD",
		MinimumPayout:   10.0,
		PlatformFeeRate: 0.15,
		DefaultRate:     0.003,
		PerStreamRates:  map[string]float64{"spotify": 0.0032, "tidal": 0.0125},
		PaymentLeadDays: 30,
	}
	return cfg
}

type engineFixture struct {
	engine *Engine
	db     *gorm.DB
	node   *snowflake.Node
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(
		&catalogdomain.TrackRecord{},
		&usagedomain.PlayEvent{},
		&usagedomain.DailyAggregate{},
		&royaltydomain.RoyaltyStatement{},
		&royaltydomain.Payment{},
		&royaltydomain.RevenueRecord{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	engine := NewEngine(EngineParams{
		DB:          gdb,
		Log:         zap.NewNop(),
		Cfg:         testRoyaltyConfig(),
		GenID:       node,
		Clock:       clock.NewFakeClock(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)),
		Repo:        royaltyrepo.Provide(),
		UsageRepo:   usagerepo.Provide(),
		CatalogRepo: catalogrepo.Provide(),
	})
	return &engineFixture{engine: engine, db: gdb, node: node}
}

func (f *engineFixture) seedTrack(t *testing.T, id string, shares []catalogdomain.Share) {
	t.Helper()
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, catalogrepo.Provide().UpsertTrack(context.Background(), f.db, &catalogdomain.TrackRecord{
		ID:            id,
		ReleaseID:     "REL-1",
		Title:         id,
		DisplayArtist: "Artist " + id,
		Rights:        catalogdomain.MarshalJSONField(shares),
		Status:        "active",
		CreatedAt:     now,
		UpdatedAt:     now,
	}))
}

func (f *engineFixture) seedAggregate(t *testing.T, date, trackID string, plays int64, sources map[string]int64, countries map[string]int64) {
	t.Helper()
	require.NoError(t, usagerepo.Provide().SaveAggregates(context.Background(), f.db, []usagedomain.DailyAggregate{{
		ID:            usagedomain.AggregateID(date, trackID),
		Date:          date,
		TrackID:       trackID,
		Plays:         plays,
		SourceCounts:  mustJSON(sources),
		CountryCounts: mustJSON(countries),
		UpdatedAt:     time.Now(),
	}}))
}

func (f *engineFixture) seedRevenue(t *testing.T, source, date string, amount float64) {
	t.Helper()
	require.NoError(t, royaltyrepo.Provide().InsertRevenue(context.Background(), f.db, &royaltydomain.RevenueRecord{
		ID:        f.node.Generate(),
		Source:    source,
		Date:      date,
		Amount:    amount,
		Currency:  "USD",
		CreatedAt: time.Now(),
	}))
}

func (f *engineFixture) seedPlay(t *testing.T, trackID, listener, country string, playedAt time.Time) {
	t.Helper()
	require.NoError(t, usagerepo.Provide().InsertPlayEvent(context.Background(), f.db, &usagedomain.PlayEvent{
		ID:         f.node.Generate(),
		TrackID:    trackID,
		ListenerID: listener,
		Source:     "spotify",
		Country:    country,
		Completed:  true,
		PlayedAt:   playedAt,
		CreatedAt:  playedAt,
	}))
}

func (f *engineFixture) seedStandardCatalog(t *testing.T) {
	f.seedTrack(t, "T1", []catalogdomain.Share{
		{HolderID: "dist-001", Type: catalogdomain.RightsMaster, Fraction: 1},
		{HolderID: "artist-a", Type: catalogdomain.RightsPublishing, Fraction: 1},
	})
	f.seedTrack(t, "T2", []catalogdomain.Share{
		{HolderID: "dist-002", Type: catalogdomain.RightsMaster, Fraction: 1},
		{HolderID: "artist-b", Type: catalogdomain.RightsPublishing, Fraction: 1},
	})
}

func distByHolder(dists []royaltydomain.Distribution) map[string]royaltydomain.Distribution {
	out := map[string]royaltydomain.Distribution{}
	for _, d := range dists {
		out[d.HolderID] = d
	}
	return out
}

func assertPayableInvariant(t *testing.T, s *royaltydomain.RoyaltyStatement) {
	t.Helper()
	sum := 0.0
	for _, d := range s.DistributionList() {
		if d.Status != royaltydomain.DistributionHeld {
			sum += d.NetAmount
		}
	}
	assert.LessOrEqual(t, sum, s.NetRevenue+0.01)
}

func TestCalculateProRata(t *testing.T) {
	f := newEngineFixture(t)
	f.seedStandardCatalog(t)
	f.seedAggregate(t, "2024-03-05", "T1", 800, map[string]int64{"spotify": 800}, map[string]int64{"US": 800})
	f.seedAggregate(t, "2024-03-06", "T2", 200, map[string]int64{"spotify": 200}, map[string]int64{"US": 200})
	f.seedRevenue(t, "spotify", "2024-03-05", 1000)

	s, err := f.engine.Calculate(context.Background(), CalculationRequest{
		Period: "2024-03",
		Method: royaltydomain.MethodProRata,
	})
	require.NoError(t, err)

	assert.Equal(t, royaltydomain.StatementDraft, s.Status)
	assert.False(t, s.EstimatedOnly)
	assert.InDelta(t, 1000.0, s.TotalRevenue, 0.001)
	assert.InDelta(t, 150.0, s.PlatformFee, 0.001)
	assert.InDelta(t, 850.0, s.NetRevenue, 0.001)
	assert.EqualValues(t, 1000, s.TotalStreams)

	dists := s.DistributionList()
	require.Len(t, dists, 4)

	// Sorted descending by net amount.
	assert.Equal(t, "dist-001", dists[0].HolderID)
	assert.InDelta(t, 544.0, dists[0].NetAmount, 0.01)

	by := distByHolder(dists)
	assert.InDelta(t, 136.0, by["artist-a"].NetAmount, 0.01)
	assert.InDelta(t, 136.0, by["dist-002"].NetAmount, 0.01)
	assert.InDelta(t, 34.0, by["artist-b"].NetAmount, 0.01)
	for _, d := range dists {
		assert.Equal(t, royaltydomain.DistributionPending, d.Status)
	}
	assertPayableInvariant(t, s)
}

func TestCalculateAppliesMinimumThreshold(t *testing.T) {
	f := newEngineFixture(t)
	f.seedStandardCatalog(t)
	f.seedAggregate(t, "2024-03-05", "T1", 800, map[string]int64{"spotify": 800}, nil)
	f.seedAggregate(t, "2024-03-06", "T2", 200, map[string]int64{"spotify": 200}, nil)
	f.seedRevenue(t, "spotify", "2024-03-05", 100)

	s, err := f.engine.Calculate(context.Background(), CalculationRequest{
		Period: "2024-03",
		Method: royaltydomain.MethodProRata,
	})
	require.NoError(t, err)

	by := distByHolder(s.DistributionList())

	// 85 net: artist-b lands at 3.40, under the 10.00 floor.
	held := by["artist-b"]
	assert.Equal(t, royaltydomain.DistributionHeld, held.Status)
	assert.Zero(t, held.NetAmount)
	assert.InDelta(t, 3.40, held.HeldAmount, 0.01)

	// Held funds are not redistributed.
	assert.InDelta(t, 54.4, by["dist-001"].NetAmount, 0.01)
	assertPayableInvariant(t, s)
}

func TestCalculateEstimatesRevenueFromRateTable(t *testing.T) {
	f := newEngineFixture(t)
	f.seedStandardCatalog(t)
	f.seedAggregate(t, "2024-03-05", "T1", 1000, map[string]int64{"spotify": 600, "unknown-dsp": 400}, nil)

	s, err := f.engine.Calculate(context.Background(), CalculationRequest{
		Period: "2024-03",
		Method: royaltydomain.MethodProRata,
	})
	require.NoError(t, err)

	assert.True(t, s.EstimatedOnly)
	// 600 x 0.0032 + 400 x 0.003 (default rate for unknown DSP).
	assert.InDelta(t, 3.12, s.TotalRevenue, 0.001)
	assertPayableInvariant(t, s)
}

func TestCalculateUserCentric(t *testing.T) {
	f := newEngineFixture(t)
	f.seedStandardCatalog(t)
	f.seedAggregate(t, "2024-03-05", "T1", 4, map[string]int64{"spotify": 4}, nil)
	f.seedAggregate(t, "2024-03-05", "T2", 1, map[string]int64{"spotify": 1}, nil)
	f.seedRevenue(t, "spotify", "2024-03-05", 100)

	at := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	// alice: 3 plays, all T1. bob: one T1, one T2.
	f.seedPlay(t, "T1", "alice", "US", at)
	f.seedPlay(t, "T1", "alice", "US", at.Add(time.Minute))
	f.seedPlay(t, "T1", "alice", "US", at.Add(2*time.Minute))
	f.seedPlay(t, "T1", "bob", "US", at)
	f.seedPlay(t, "T2", "bob", "US", at.Add(time.Minute))

	s, err := f.engine.Calculate(context.Background(), CalculationRequest{
		Period: "2024-03",
		Method: royaltydomain.MethodUserCentric,
	})
	require.NoError(t, err)

	// Net 85: 42.50 per listener. T1 carries 42.50 + 21.25, T2 carries 21.25.
	by := distByHolder(s.DistributionList())
	assert.InDelta(t, 51.0, by["dist-001"].NetAmount, 0.01)
	assert.InDelta(t, 12.75, by["artist-a"].NetAmount, 0.01)
	assert.InDelta(t, 17.0, by["dist-002"].NetAmount, 0.01)

	// artist-b gets 4.25, under threshold.
	assert.Equal(t, royaltydomain.DistributionHeld, by["artist-b"].Status)
	assert.InDelta(t, 4.25, by["artist-b"].HeldAmount, 0.01)
	assertPayableInvariant(t, s)
}

func TestCalculateHybridSplitsEvenly(t *testing.T) {
	f := newEngineFixture(t)
	f.seedStandardCatalog(t)
	f.seedAggregate(t, "2024-03-05", "T1", 2, map[string]int64{"spotify": 2}, nil)
	f.seedRevenue(t, "spotify", "2024-03-05", 100)

	at := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	f.seedPlay(t, "T1", "alice", "US", at)
	f.seedPlay(t, "T1", "alice", "US", at.Add(time.Minute))

	s, err := f.engine.Calculate(context.Background(), CalculationRequest{
		Period: "2024-03",
		Method: royaltydomain.MethodHybrid,
	})
	require.NoError(t, err)

	// Single track, single listener: both halves land identically, so the
	// hybrid totals match a full-net single-method run.
	by := distByHolder(s.DistributionList())
	assert.InDelta(t, 68.0, by["dist-001"].NetAmount, 0.01)
	assert.InDelta(t, 17.0, by["artist-a"].NetAmount, 0.01)
	assertPayableInvariant(t, s)
}

func TestCalculateTerritoryFilter(t *testing.T) {
	f := newEngineFixture(t)
	f.seedStandardCatalog(t)
	f.seedAggregate(t, "2024-03-05", "T1", 100,
		map[string]int64{"spotify": 100},
		map[string]int64{"US": 80, "DE": 20})
	f.seedAggregate(t, "2024-03-05", "T2", 50,
		map[string]int64{"spotify": 50},
		map[string]int64{"DE": 50})
	f.seedRevenue(t, "spotify", "2024-03-05", 100)

	s, err := f.engine.Calculate(context.Background(), CalculationRequest{
		Period:    "2024-03",
		Territory: "US",
		Method:    royaltydomain.MethodProRata,
	})
	require.NoError(t, err)

	// Only T1's 80 US plays count; T2 drops out entirely.
	assert.EqualValues(t, 80, s.TotalStreams)
	by := distByHolder(s.DistributionList())
	assert.NotContains(t, by, "dist-002")
	assert.NotContains(t, by, "artist-b")
}

func TestCalculateRejectsBadInput(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.Calculate(context.Background(), CalculationRequest{
		Period: "not-a-period",
		Method: royaltydomain.MethodProRata,
	})
	assert.ErrorIs(t, err, royaltydomain.ErrInvalidPeriod)

	_, err = f.engine.Calculate(context.Background(), CalculationRequest{
		Period: "2024-03",
		Method: "napster-style",
	})
	assert.ErrorIs(t, err, royaltydomain.ErrUnknownMethod)
}
