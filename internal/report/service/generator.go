package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/daddykev/stardust-dsp/internal/catalog/domain"
	"github.com/daddykev/stardust-dsp/internal/clock"
	"github.com/daddykev/stardust-dsp/internal/config"
	reportdomain "github.com/daddykev/stardust-dsp/internal/report/domain"
	royaltydomain "github.com/daddykev/stardust-dsp/internal/royalty/domain"
	"github.com/daddykev/stardust-dsp/internal/storage"
	usagedomain "github.com/daddykev/stardust-dsp/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const useTypeStream = "OnDemandStream"

var csvHeader = []string{
	"transactionId", "releaseId", "trackId", "isrc", "title", "artist",
	"usageDate", "territory", "useType", "quantity", "unitPrice",
	"lineAmount", "payableAmount",
}

type GeneratorParams struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Cfg     config.Config
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    reportdomain.Repository
	Usage   usagedomain.Repository
	Catalog catalogdomain.Repository
	Store   storage.ObjectStore
}

// Generator renders usage + catalog data into a sales artifact, stores it in
// the report bucket and records the Report row awaiting dispatch.
type Generator struct {
	db      *gorm.DB
	log     *zap.Logger
	cfg     config.Config
	genID   *snowflake.Node
	clock   clock.Clock
	repo    reportdomain.Repository
	usage   usagedomain.Repository
	catalog catalogdomain.Repository
	store   storage.ObjectStore
}

func NewGenerator(p GeneratorParams) *Generator {
	return &Generator{
		db:      p.DB,
		log:     p.Log.Named("report.generator"),
		cfg:     p.Cfg,
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		usage:   p.Usage,
		catalog: p.Catalog,
		store:   p.Store,
	}
}

type GenerateRequest struct {
	DistributorID string
	Type          string
	Format        reportdomain.Format
	Period        string
	Territory     string
	Destination   reportdomain.Destination
	// ScheduledAt defers dispatch; zero means due immediately.
	ScheduledAt time.Time
}

// transaction is one track's usage for one day, priced.
type transaction struct {
	TransactionID string  `json:"transactionId"`
	ReleaseID     string  `json:"releaseId"`
	TrackID       string  `json:"trackId"`
	ISRC          string  `json:"isrc,omitempty"`
	Title         string  `json:"title"`
	Artist        string  `json:"artist"`
	UsageDate     string  `json:"usageDate"`
	Territory     string  `json:"territory"`
	UseType       string  `json:"useType"`
	Quantity      int64   `json:"quantity"`
	UnitPrice     float64 `json:"unitPrice"`
	LineAmount    float64 `json:"lineAmount"`
	PayableAmount float64 `json:"payableAmount"`
}

func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (*reportdomain.Report, error) {
	period, err := royaltydomain.ResolvePeriod(req.Period)
	if err != nil {
		return nil, err
	}
	switch req.Format {
	case reportdomain.FormatDSR, reportdomain.FormatCSV, reportdomain.FormatJSON:
	default:
		return nil, fmt.Errorf("%w: %q", reportdomain.ErrUnknownFormat, req.Format)
	}

	aggs, err := g.usage.ListAggregatesBetween(ctx, g.db, period.StartDate(), period.EndDate())
	if err != nil {
		return nil, fmt.Errorf("list aggregates: %w", err)
	}

	txs, stats, err := g.buildTransactions(ctx, aggs, req.Territory)
	if err != nil {
		return nil, err
	}

	id := g.genID.Generate()
	now := g.clock.Now()

	body, contentType, ext, err := g.render(id, period, req, txs, stats, now)
	if err != nil {
		return nil, err
	}

	bucket := g.cfg.Storage.ReportBucket
	key := fmt.Sprintf("reports/%s/%s/%d.%s", req.DistributorID, period.Label, id, ext)
	if err := g.store.Upload(ctx, bucket, key, bytes.NewReader(body), int64(len(body)), contentType); err != nil {
		return nil, fmt.Errorf("upload report artifact: %w", err)
	}
	url, err := g.store.SignedURL(ctx, bucket, key, g.cfg.Storage.SignedURLExpiry)
	if err != nil {
		return nil, fmt.Errorf("sign report url: %w", err)
	}

	scheduledAt := req.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = now
	}

	statsRaw, _ := json.Marshal(stats)
	destRaw, _ := json.Marshal(req.Destination)
	report := &reportdomain.Report{
		ID:             id,
		DistributorID:  req.DistributorID,
		Type:           req.Type,
		Format:         req.Format,
		Period:         period.Label,
		Territory:      req.Territory,
		Bucket:         bucket,
		ObjectKey:      key,
		DownloadURL:    url,
		ExpiresAt:      now.Add(g.cfg.Storage.SignedURLExpiry),
		Statistics:     statsRaw,
		Destination:    destRaw,
		DeliveryStatus: reportdomain.DeliveryPending,
		ScheduledAt:    scheduledAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := g.repo.InsertReport(ctx, g.db, report); err != nil {
		return nil, fmt.Errorf("insert report: %w", err)
	}

	g.log.Info("report generated",
		zap.Int64("report_id", int64(id)),
		zap.String("distributor_id", req.DistributorID),
		zap.String("period", period.Label),
		zap.String("format", string(req.Format)),
		zap.Int("transactions", len(txs)),
	)
	return report, nil
}

func (g *Generator) buildTransactions(ctx context.Context, aggs []usagedomain.DailyAggregate, territory string) ([]transaction, reportdomain.Statistics, error) {
	feeRate := g.cfg.Royalty.PlatformFeeRate

	idSet := map[string]struct{}{}
	for _, a := range aggs {
		idSet[a.TrackID] = struct{}{}
	}
	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tracks := map[string]catalogdomain.TrackRecord{}
	if len(ids) > 0 {
		records, err := g.catalog.ListTracksByIDs(ctx, g.db, ids)
		if err != nil {
			return nil, reportdomain.Statistics{}, fmt.Errorf("load tracks: %w", err)
		}
		for _, t := range records {
			tracks[t.ID] = t
		}
	}

	sort.Slice(aggs, func(i, j int) bool {
		if aggs[i].Date != aggs[j].Date {
			return aggs[i].Date < aggs[j].Date
		}
		return aggs[i].TrackID < aggs[j].TrackID
	})

	var txs []transaction
	var stats reportdomain.Statistics
	seenTracks := map[string]struct{}{}

	for _, agg := range aggs {
		quantity := agg.Plays
		txTerritory := "Worldwide"
		if territory != "" {
			quantity = agg.CountryCountMap()[territory]
			txTerritory = territory
		}
		if quantity <= 0 {
			continue
		}

		rate := g.blendedRate(agg)
		line := round2(float64(quantity) * rate)
		payable := round2(line * (1 - feeRate))

		track, ok := tracks[agg.TrackID]
		if !ok {
			// Usage for a track the catalog never ingested; report it anyway
			// so the totals reconcile against the aggregates.
			track = catalogdomain.TrackRecord{ID: agg.TrackID, Title: agg.TrackID, DisplayArtist: "Unknown Artist"}
		}

		txs = append(txs, transaction{
			TransactionID: fmt.Sprintf("TR-%s-%s", agg.Date, agg.TrackID),
			ReleaseID:     track.ReleaseID,
			TrackID:       track.ID,
			ISRC:          track.ISRC,
			Title:         track.Title,
			Artist:        track.DisplayArtist,
			UsageDate:     agg.Date,
			Territory:     txTerritory,
			UseType:       useTypeStream,
			Quantity:      quantity,
			UnitPrice:     round4(rate),
			LineAmount:    line,
			PayableAmount: payable,
		})

		stats.TotalQuantity += quantity
		stats.GrossAmount = round2(stats.GrossAmount + line)
		stats.NetAmount = round2(stats.NetAmount + payable)
		if _, seen := seenTracks[agg.TrackID]; !seen {
			seenTracks[agg.TrackID] = struct{}{}
			stats.TrackCount++
		}
	}
	return txs, stats, nil
}

// blendedRate averages the per-DSP stream rates weighted by the row's source
// counts; sources without a configured rate fall back to the default.
func (g *Generator) blendedRate(agg usagedomain.DailyAggregate) float64 {
	sources := agg.SourceCountMap()
	var amount float64
	var total int64
	for source, count := range sources {
		rate, ok := g.cfg.Royalty.PerStreamRates[source]
		if !ok {
			rate = g.cfg.Royalty.DefaultRate
		}
		amount += float64(count) * rate
		total += count
	}
	if total == 0 {
		return g.cfg.Royalty.DefaultRate
	}
	return amount / float64(total)
}

func (g *Generator) render(id snowflake.ID, period royaltydomain.Period, req GenerateRequest, txs []transaction, stats reportdomain.Statistics, now time.Time) ([]byte, string, string, error) {
	switch req.Format {
	case reportdomain.FormatDSR:
		body, err := g.renderDSR(id, period, req, txs, stats, now)
		return body, "application/xml", "xml", err
	case reportdomain.FormatCSV:
		body, err := renderCSV(txs)
		return body, "text/csv", "csv", err
	case reportdomain.FormatJSON:
		body, err := g.renderJSON(id, period, req, txs, stats, now)
		return body, "application/json", "json", err
	}
	return nil, "", "", fmt.Errorf("%w: %q", reportdomain.ErrUnknownFormat, req.Format)
}

func (g *Generator) renderDSR(id snowflake.ID, period royaltydomain.Period, req GenerateRequest, txs []transaction, stats reportdomain.Statistics, now time.Time) ([]byte, error) {
	msg := dsrMessage{
		Header: dsrHeader{
			MessageID:              fmt.Sprintf("DSR-%d", id),
			MessageCreatedDateTime: now.UTC().Format(time.RFC3339),
			Sender:                 g.cfg.AppName,
			Recipient:              req.DistributorID,
		},
		ReportHeader: dsrReportHeader{
			Period:     period.Label,
			ReportType: "SalesReport",
			Status:     "Final",
			Currency:   g.cfg.Royalty.Currency,
		},
		Summary: dsrSummary{
			TotalQuantity: stats.TotalQuantity,
			GrossAmount:   stats.GrossAmount,
			NetAmount:     stats.NetAmount,
		},
	}
	for _, tx := range txs {
		msg.Body.Transactions = append(msg.Body.Transactions, dsrTransaction{
			TransactionID:     tx.TransactionID,
			ReleaseReference:  tx.ReleaseID,
			ResourceReference: tx.TrackID,
			ISRC:              tx.ISRC,
			Title:             tx.Title,
			Artist:            tx.Artist,
			UsageDate:         tx.UsageDate,
			Territory:         tx.Territory,
			UseType:           tx.UseType,
			Quantity:          tx.Quantity,
			UnitPrice:         tx.UnitPrice,
			LineAmount:        tx.LineAmount,
			PayableAmount:     tx.PayableAmount,
		})
	}

	body, err := xml.MarshalIndent(msg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal dsr: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

func renderCSV(txs []transaction) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, tx := range txs {
		row := []string{
			tx.TransactionID, tx.ReleaseID, tx.TrackID, tx.ISRC, tx.Title,
			tx.Artist, tx.UsageDate, tx.Territory, tx.UseType,
			strconv.FormatInt(tx.Quantity, 10),
			strconv.FormatFloat(tx.UnitPrice, 'f', 4, 64),
			strconv.FormatFloat(tx.LineAmount, 'f', 2, 64),
			strconv.FormatFloat(tx.PayableAmount, 'f', 2, 64),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g *Generator) renderJSON(id snowflake.ID, period royaltydomain.Period, req GenerateRequest, txs []transaction, stats reportdomain.Statistics, now time.Time) ([]byte, error) {
	doc := struct {
		ReportID     string                  `json:"reportId"`
		Type         string                  `json:"type"`
		Period       string                  `json:"period"`
		Territory    string                  `json:"territory,omitempty"`
		Currency     string                  `json:"currency"`
		GeneratedAt  string                  `json:"generatedAt"`
		Transactions []transaction           `json:"transactions"`
		Summary      reportdomain.Statistics `json:"summary"`
	}{
		ReportID:     strconv.FormatInt(int64(id), 10),
		Type:         req.Type,
		Period:       period.Label,
		Territory:    req.Territory,
		Currency:     g.cfg.Royalty.Currency,
		GeneratedAt:  now.UTC().Format(time.RFC3339),
		Transactions: txs,
		Summary:      stats,
	}
	return json.MarshalIndent(doc, "", "  ")
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
