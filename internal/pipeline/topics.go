package pipeline

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
)

// Topic names for the staged ingestion chain. Each stage consumes one topic
// and publishes the next on success; the Delivery record is the source of
// truth for the current stage.
const (
	TopicParse       = "delivery.parse"
	TopicValidate    = "delivery.validate"
	TopicProcess     = "delivery.process"
	TopicAcknowledge = "delivery.acknowledge"
	TopicError       = "notification.error"
	TopicTranscode   = "transcode.request"
	TopicPoison      = "delivery.poison"
)

// ParseJob asks the parser to fetch and parse a landed manifest.
type ParseJob struct {
	DeliveryID   string `json:"deliveryId"`
	ManifestPath string `json:"manifestPath"`
	Bucket       string `json:"bucket"`
}

// ValidateJob carries the canonical graph to the validator.
type ValidateJob struct {
	DeliveryID   string          `json:"deliveryId"`
	ERNData      json.RawMessage `json:"ernData"`
	ERNVersion   string          `json:"ernVersion"`
	ManifestPath string          `json:"manifestPath"`
}

// ProcessJob carries validated release data to the catalog processor.
type ProcessJob struct {
	DeliveryID   string          `json:"deliveryId"`
	ReleaseData  json.RawMessage `json:"releaseData"`
	DeliveryPath string          `json:"deliveryPath"`
	ERNVersion   string          `json:"ernVersion"`
}

// AcknowledgeJob asks the notifier to build the DDEX acknowledgment.
type AcknowledgeJob struct {
	DeliveryID string           `json:"deliveryId"`
	Releases   []ReleaseSummary `json:"releases"`
}

// ReleaseSummary is the per-release slice of an acknowledgment.
type ReleaseSummary struct {
	ReleaseID  string `json:"releaseId"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	TrackCount int    `json:"trackCount"`
}

// TranscodeJob enqueues one track for transcoding. Transcoding itself is
// handled by an external worker; only the enqueue is in scope here.
type TranscodeJob struct {
	DeliveryID string `json:"deliveryId"`
	ReleaseID  string `json:"releaseId"`
	TrackID    string `json:"trackId"`
	SourcePath string `json:"sourcePath"`
	Bucket     string `json:"bucket"`
}

// ErrorEvent is raised whenever a delivery reaches a terminal failure.
type ErrorEvent struct {
	DeliveryID    string   `json:"deliveryId"`
	DistributorID string   `json:"distributorId"`
	Stage         string   `json:"stage"`
	Errors        []string `json:"errors"`
	Warnings      []string `json:"warnings,omitempty"`
}

// Marshal builds a watermill message from any job payload.
func Marshal(payload any) (*message.Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return message.NewMessage(uuid.NewString(), data), nil
}

// Unmarshal decodes a watermill message payload into out.
func Unmarshal(msg *message.Message, out any) error {
	return json.Unmarshal(msg.Payload, out)
}
