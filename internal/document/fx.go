package document

import (
	"context"

	"github.com/smallbiznis/siteledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("document",
	fx.Provide(NewRenderer),
	fx.Provide(provideBlobStore),
	fx.Provide(NewPublisher),
)

func provideBlobStore(cfg config.Config, log *zap.Logger) (BlobStore, error) {
	if !cfg.Storage.Enabled {
		log.Info("document storage disabled")
		return DisabledStore{}, nil
	}
	return NewS3Store(context.Background(), cfg.Storage, nil)
}
