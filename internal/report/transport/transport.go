package transport

import (
	"context"
	"fmt"
	"time"

	reportdomain "github.com/daddykev/stardust-dsp/internal/report/domain"
	"go.uber.org/fx"
)

// dialTimeout bounds every outbound transport call.
const dialTimeout = 30 * time.Second

// Artifact is a report plus its rendered payload, handed to a transport.
type Artifact struct {
	Report      *reportdomain.Report
	Payload     []byte
	ContentType string
}

// Transport delivers one artifact to a distributor-configured destination.
// Implementations must be safe for concurrent use.
type Transport interface {
	Name() string
	Send(ctx context.Context, a Artifact) error
}

// Registry resolves a destination's transport name to an implementation.
type Registry struct {
	transports map[string]Transport
}

type RegistryParams struct {
	fx.In

	Email   *Email
	FTP     *FTP
	S3      *S3
	API     *API
	Webhook *Webhook
}

func NewRegistry(p RegistryParams) *Registry {
	r := &Registry{transports: map[string]Transport{}}
	for _, t := range []Transport{p.Email, p.FTP, p.S3, p.API, p.Webhook} {
		r.transports[t.Name()] = t
	}
	return r
}

func (r *Registry) Get(name string) (Transport, error) {
	t, ok := r.transports[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", reportdomain.ErrUnknownTransport, name)
	}
	return t, nil
}

// Register replaces a transport; used by tests to install fakes.
func (r *Registry) Register(t Transport) {
	r.transports[t.Name()] = t
}

var Module = fx.Module("report.transport",
	fx.Provide(
		NewEmail,
		NewFTP,
		NewS3,
		NewAPI,
		NewWebhook,
		NewRegistry,
	),
)
