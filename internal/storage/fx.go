package storage

import (
	"go.uber.org/fx"
)

// Module wires the MinIO-backed object store.
var Module = fx.Module("storage",
	fx.Provide(
		NewMinio,
		func(s *MinioStore) ObjectStore { return s },
	),
)
