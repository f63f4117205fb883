package domain

import "context"

// Service is the delivery lifecycle API used by the receiver and by every
// downstream stage. All mutations are idempotent with respect to message
// redelivery.
type Service interface {
	// HandleObjectFinalized reacts to a newly landed object. Objects that do
	// not match deliveries/{distributorId}/{timestamp}/manifest.xml return
	// ErrIgnoredObject.
	HandleObjectFinalized(ctx context.Context, bucket, objectPath string, size int64, contentType string) (*Delivery, error)

	Get(ctx context.Context, id string) (*Delivery, error)

	// Advance moves the delivery forward along the stage chain.
	Advance(ctx context.Context, id string, to Status) error

	// MarkTerminal records a terminal failure status with its error text,
	// raises a distributor-visible notification and publishes an error event.
	// Validation warnings stamped on the delivery ride along on both.
	MarkTerminal(ctx context.Context, id string, to Status, stage string, errs []string, detail string) error

	StampERN(ctx context.Context, id string, ern ERNInfo) error
	StampValidation(ctx context.Context, id string, valid bool, errs, warnings []string) error
	StampAcknowledgment(ctx context.Context, id, ackMessageID string) error
	Complete(ctx context.Context, id string, releaseCount, trackCount int) error

	// Reprocess resets a terminal delivery to pending and re-publishes its
	// parse job. The only sanctioned backward transition.
	Reprocess(ctx context.Context, id string) error
}
