package service

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/daddykev/stardust-dsp/internal/clock"
	"github.com/daddykev/stardust-dsp/internal/config"
	deliverydomain "github.com/daddykev/stardust-dsp/internal/delivery/domain"
	notificationdomain "github.com/daddykev/stardust-dsp/internal/notification/domain"
	"github.com/daddykev/stardust-dsp/internal/pipeline"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Document is the DDEX acknowledgment sent back to the distributor after a
// delivery completes processing.
type Document struct {
	XMLName              xml.Name           `xml:"AcknowledgementMessage"`
	MessageHeader        Header             `xml:"MessageHeader"`
	AcknowledgmentStatus string             `xml:"AcknowledgmentStatus"`
	ProcessedReleases    []ProcessedRelease `xml:"ProcessedReleases>ProcessedRelease"`
}

type Header struct {
	MessageID              string `xml:"MessageId"`
	MessageCreatedDateTime string `xml:"MessageCreatedDateTime"`
	MessageSender          Party  `xml:"MessageSender"`
	MessageRecipient       Party  `xml:"MessageRecipient"`
}

type Party struct {
	PartyName string `xml:"PartyName>FullName"`
}

type ProcessedRelease struct {
	ReleaseID   string `xml:"ReleaseId"`
	Title       string `xml:"Title"`
	Status      string `xml:"Status"`
	TrackCount  int    `xml:"TrackCount"`
	ProcessedAt string `xml:"ProcessedDateTime"`
}

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	Cfg              config.Config
	GenID            *snowflake.Node
	Clock            clock.Clock
	Deliveries       deliverydomain.Service
	NotificationRepo notificationdomain.Repository
}

// Notifier builds and records acknowledgments. This is the terminal success
// stage of the ingestion chain.
type Notifier struct {
	db         *gorm.DB
	log        *zap.Logger
	appName    string
	genID      *snowflake.Node
	clock      clock.Clock
	deliveries deliverydomain.Service
	notifRepo  notificationdomain.Repository
}

func New(p Params) *Notifier {
	return &Notifier{
		db:         p.DB,
		log:        p.Log.Named("acknowledgment"),
		appName:    p.Cfg.AppName,
		genID:      p.GenID,
		clock:      p.Clock,
		deliveries: p.Deliveries,
		notifRepo:  p.NotificationRepo,
	}
}

// Acknowledge builds the DDEX acknowledgment for a completed delivery,
// persists it as a distributor-visible notification and stamps the delivery
// with the acknowledgment's message id.
func (n *Notifier) Acknowledge(ctx context.Context, deliveryID string, releases []pipeline.ReleaseSummary) (string, error) {
	d, err := n.deliveries.Get(ctx, deliveryID)
	if err != nil {
		return "", err
	}

	now := n.clock.Now()
	originalMessageID := d.ERN.MessageID
	if originalMessageID == "" {
		originalMessageID = deliveryID
	}
	ackID := fmt.Sprintf("ACK-%s-%d", originalMessageID, now.Unix())

	doc := Document{
		MessageHeader: Header{
			MessageID:              ackID,
			MessageCreatedDateTime: now.UTC().Format("2006-01-02T15:04:05Z"),
			MessageSender:          Party{PartyName: n.appName},
			MessageRecipient:       Party{PartyName: senderName(d)},
		},
		AcknowledgmentStatus: "Acknowledged",
	}
	for _, r := range releases {
		doc.ProcessedReleases = append(doc.ProcessedReleases, ProcessedRelease{
			ReleaseID:   r.ReleaseID,
			Title:       r.Title,
			Status:      r.Status,
			TrackCount:  r.TrackCount,
			ProcessedAt: now.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}

	xmlDoc, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode acknowledgment %s: %w", ackID, err)
	}

	payload, err := json.Marshal(map[string]any{
		"ackMessageId": ackID,
		"document":     xml.Header + string(xmlDoc),
		"releases":     releases,
	})
	if err != nil {
		return "", err
	}

	if err := n.notifRepo.Insert(ctx, n.db, &notificationdomain.Notification{
		ID:            n.genID.Generate(),
		DistributorID: d.DistributorID,
		DeliveryID:    deliveryID,
		Type:          notificationdomain.TypeAcknowledgment,
		Title:         fmt.Sprintf("Delivery %s acknowledged", deliveryID),
		Body:          fmt.Sprintf("%d release(s) processed", len(releases)),
		Payload:       payload,
		CreatedAt:     now,
	}); err != nil {
		return "", fmt.Errorf("persist acknowledgment notification: %w", err)
	}

	if err := n.deliveries.StampAcknowledgment(ctx, deliveryID, ackID); err != nil {
		return "", err
	}

	n.log.Info("delivery acknowledged",
		zap.String("delivery_id", deliveryID),
		zap.String("ack_message_id", ackID),
		zap.Int("releases", len(releases)),
	)
	return ackID, nil
}

func senderName(d *deliverydomain.Delivery) string {
	if d.Sender != "" {
		return d.Sender
	}
	return d.DistributorID
}
