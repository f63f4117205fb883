package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/daddykev/stardust-dsp/internal/catalog/domain"
	"github.com/daddykev/stardust-dsp/internal/clock"
	"github.com/daddykev/stardust-dsp/internal/config"
	royaltydomain "github.com/daddykev/stardust-dsp/internal/royalty/domain"
	usagedomain "github.com/daddykev/stardust-dsp/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	masterWeight     = 0.8
	publishingWeight = 0.2
)

// CalculationRequest selects what one engine run covers.
type CalculationRequest struct {
	Period    string
	Territory string
	Method    royaltydomain.Method
}

type EngineParams struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Cfg         config.Config
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        royaltydomain.Repository
	UsageRepo   usagedomain.Repository
	CatalogRepo catalogdomain.Repository
}

// Engine computes per-rights-holder distributions for a period and persists
// the result as a draft statement. Statements never auto-advance past draft.
type Engine struct {
	db          *gorm.DB
	log         *zap.Logger
	cfg         config.RoyaltyConfig
	genID       *snowflake.Node
	clock       clock.Clock
	repo        royaltydomain.Repository
	usageRepo   usagedomain.Repository
	catalogRepo catalogdomain.Repository
}

func NewEngine(p EngineParams) *Engine {
	return &Engine{
		db:          p.DB,
		log:         p.Log.Named("royalty.engine"),
		cfg:         p.Cfg.Royalty,
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		usageRepo:   p.UsageRepo,
		catalogRepo: p.CatalogRepo,
	}
}

func (e *Engine) Calculate(ctx context.Context, req CalculationRequest) (*royaltydomain.RoyaltyStatement, error) {
	period, err := royaltydomain.ResolvePeriod(req.Period)
	if err != nil {
		return nil, err
	}
	switch req.Method {
	case royaltydomain.MethodProRata, royaltydomain.MethodUserCentric, royaltydomain.MethodHybrid:
	default:
		return nil, fmt.Errorf("%w: %q", royaltydomain.ErrUnknownMethod, req.Method)
	}

	aggs, err := e.usageRepo.ListAggregatesBetween(ctx, e.db, period.StartDate(), period.EndDate())
	if err != nil {
		return nil, fmt.Errorf("load aggregates: %w", err)
	}

	trackStreams, sourceStreams, totalStreams := foldStreams(aggs, req.Territory)

	totalRevenue, estimated, err := e.resolveRevenue(ctx, period, sourceStreams, totalStreams)
	if err != nil {
		return nil, err
	}
	platformFee := round2(totalRevenue * e.cfg.PlatformFeeRate)
	netRevenue := round2(totalRevenue - platformFee)

	shares, err := e.loadShares(ctx, trackStreams)
	if err != nil {
		return nil, err
	}

	allocs := map[string]*allocation{}
	switch req.Method {
	case royaltydomain.MethodProRata:
		e.allocateProRata(allocs, netRevenue, totalRevenue, trackStreams, totalStreams, shares)
	case royaltydomain.MethodUserCentric:
		if err := e.allocateUserCentric(ctx, allocs, netRevenue, totalRevenue, period, req.Territory, shares); err != nil {
			return nil, err
		}
	case royaltydomain.MethodHybrid:
		e.allocateProRata(allocs, netRevenue/2, totalRevenue/2, trackStreams, totalStreams, shares)
		if err := e.allocateUserCentric(ctx, allocs, netRevenue/2, totalRevenue/2, period, req.Territory, shares); err != nil {
			return nil, err
		}
	}

	distributions := e.finalizeDistributions(allocs)

	now := e.clock.Now()
	statement := &royaltydomain.RoyaltyStatement{
		ID:            e.genID.Generate(),
		Period:        period.Label,
		PeriodStart:   period.Start,
		PeriodEnd:     period.End,
		Territory:     req.Territory,
		Method:        req.Method,
		Currency:      e.cfg.Currency,
		TotalRevenue:  round2(totalRevenue),
		PlatformFee:   platformFee,
		NetRevenue:    netRevenue,
		TotalStreams:  totalStreams,
		EstimatedOnly: estimated,
		Distributions: mustJSON(distributions),
		Status:        royaltydomain.StatementDraft,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.repo.InsertStatement(ctx, e.db, statement); err != nil {
		return nil, fmt.Errorf("persist statement: %w", err)
	}

	e.log.Info("statement generated",
		zap.String("period", period.Label),
		zap.String("method", string(req.Method)),
		zap.Float64("net_revenue", netRevenue),
		zap.Int64("streams", totalStreams),
		zap.Int("distributions", len(distributions)),
		zap.Bool("estimated", estimated),
	)
	return statement, nil
}

// allocation accumulates one holder's share across methods.
type allocation struct {
	weight float64
	net    float64
	gross  float64
}

// foldStreams sums per-track and per-source streams over the period. With a
// territory filter only that territory's plays count.
func foldStreams(aggs []usagedomain.DailyAggregate, territory string) (map[string]int64, map[string]int64, int64) {
	trackStreams := map[string]int64{}
	sourceStreams := map[string]int64{}
	var total int64

	for _, agg := range aggs {
		plays := agg.Plays
		if territory != "" {
			plays = agg.CountryCountMap()[territory]
		}
		if plays == 0 {
			continue
		}
		trackStreams[agg.TrackID] += plays
		total += plays
		for source, n := range agg.SourceCountMap() {
			sourceStreams[source] += n
		}
	}
	return trackStreams, sourceStreams, total
}

// resolveRevenue sums recorded revenue for the period; with no recorded rows
// it estimates from play counts and the per-DSP rate table.
func (e *Engine) resolveRevenue(ctx context.Context, period royaltydomain.Period, sourceStreams map[string]int64, totalStreams int64) (float64, bool, error) {
	rows, err := e.repo.ListRevenueBetween(ctx, e.db, period.StartDate(), period.EndDate())
	if err != nil {
		return 0, false, fmt.Errorf("load revenue: %w", err)
	}
	if len(rows) > 0 {
		total := 0.0
		for _, r := range rows {
			total += r.Amount
		}
		return total, false, nil
	}

	if len(sourceStreams) == 0 {
		return float64(totalStreams) * e.cfg.DefaultRate, true, nil
	}
	total := 0.0
	for source, n := range sourceStreams {
		rate, ok := e.cfg.PerStreamRates[source]
		if !ok {
			rate = e.cfg.DefaultRate
		}
		total += float64(n) * rate
	}
	return total, true, nil
}

func (e *Engine) loadShares(ctx context.Context, trackStreams map[string]int64) (map[string][]catalogdomain.Share, error) {
	ids := make([]string, 0, len(trackStreams))
	for id := range trackStreams {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tracks, err := e.catalogRepo.ListTracksByIDs(ctx, e.db, ids)
	if err != nil {
		return nil, fmt.Errorf("load track shares: %w", err)
	}
	out := make(map[string][]catalogdomain.Share, len(tracks))
	for _, t := range tracks {
		out[t.ID] = t.ShareList()
	}
	return out, nil
}

// allocateProRata credits each holder with its weighted share of total
// streams: trackStreams x shareFraction x the master/publishing weight.
func (e *Engine) allocateProRata(allocs map[string]*allocation, net, gross float64, trackStreams map[string]int64, totalStreams int64, shares map[string][]catalogdomain.Share) {
	if totalStreams == 0 {
		return
	}
	for trackID, streams := range trackStreams {
		for _, share := range shares[trackID] {
			w := float64(streams) * share.Fraction * rightsWeight(share.Type)
			a := getAlloc(allocs, share.HolderID)
			a.weight += w
			a.net += net * w / float64(totalStreams)
			a.gross += gross * w / float64(totalStreams)
		}
	}
}

// allocateUserCentric divides net revenue equally per listener, then splits
// each listener's share across the tracks that listener played.
func (e *Engine) allocateUserCentric(ctx context.Context, allocs map[string]*allocation, net, gross float64, period royaltydomain.Period, territory string, shares map[string][]catalogdomain.Share) error {
	events, err := e.usageRepo.ListPlayEventsBetween(ctx, e.db, period.Start, period.End)
	if err != nil {
		return fmt.Errorf("load play events: %w", err)
	}

	listeners := map[string]map[string]int64{}
	for _, ev := range events {
		if ev.ListenerID == "" {
			continue
		}
		if territory != "" && ev.Country != territory {
			continue
		}
		byTrack, ok := listeners[ev.ListenerID]
		if !ok {
			byTrack = map[string]int64{}
			listeners[ev.ListenerID] = byTrack
		}
		byTrack[ev.TrackID]++
	}
	if len(listeners) == 0 {
		return nil
	}

	perListenerNet := net / float64(len(listeners))
	perListenerGross := gross / float64(len(listeners))

	for _, byTrack := range listeners {
		var totalPlays int64
		for _, n := range byTrack {
			totalPlays += n
		}
		if totalPlays == 0 {
			continue
		}
		for trackID, plays := range byTrack {
			frac := float64(plays) / float64(totalPlays)
			for _, share := range shares[trackID] {
				w := share.Fraction * rightsWeight(share.Type)
				a := getAlloc(allocs, share.HolderID)
				a.weight += float64(plays) * w
				a.net += perListenerNet * frac * w
				a.gross += perListenerGross * frac * w
			}
		}
	}
	return nil
}

// finalizeDistributions rounds, sorts descending by net amount and applies
// the minimum-payment threshold. Held funds stay with their holder; they are
// never redistributed within the run.
func (e *Engine) finalizeDistributions(allocs map[string]*allocation) []royaltydomain.Distribution {
	out := make([]royaltydomain.Distribution, 0, len(allocs))
	for holderID, a := range allocs {
		net := round2(a.net)
		if net <= 0 {
			continue
		}
		d := royaltydomain.Distribution{
			HolderID:    holderID,
			StreamShare: a.weight,
			GrossAmount: round2(a.gross),
			NetAmount:   net,
			Status:      royaltydomain.DistributionPending,
		}
		if net < e.cfg.MinimumPayout {
			d.Status = royaltydomain.DistributionHeld
			d.HeldAmount = net
			d.NetAmount = 0
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		ni, nj := out[i].NetAmount, out[j].NetAmount
		if ni != nj {
			return ni > nj
		}
		hi, hj := out[i].HeldAmount, out[j].HeldAmount
		if hi != hj {
			return hi > hj
		}
		return out[i].HolderID < out[j].HolderID
	})
	return out
}

func getAlloc(allocs map[string]*allocation, holderID string) *allocation {
	a, ok := allocs[holderID]
	if !ok {
		a = &allocation{}
		allocs[holderID] = a
	}
	return a
}

func rightsWeight(t catalogdomain.RightsType) float64 {
	if t == catalogdomain.RightsPublishing {
		return publishingWeight
	}
	return masterWeight
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func mustJSON(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}
