package takeoff

import (
	"context"
	"fmt"
	"path"

	"github.com/feichai0017/plan-takeoff/internal/models"
	"github.com/feichai0017/plan-takeoff/pkg/converters"
	"github.com/feichai0017/plan-takeoff/pkg/logger"
)

// Uploader is the part of storage.Storage the sink needs.
type Uploader interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)
}

// StorageSink writes the export document to object storage under
// <prefix>/<planID>/<runID>.json.
type StorageSink struct {
	store     Uploader
	converter *converters.JSONConverter
	prefix    string
	currency  string
	logger    logger.Logger
}

func NewStorageSink(store Uploader, prefix, currency string, log logger.Logger) *StorageSink {
	if prefix == "" {
		prefix = "takeoff-results"
	}
	return &StorageSink{
		store:     store,
		converter: converters.NewJSONConverter(),
		prefix:    prefix,
		currency:  currency,
		logger:    log.Named("sink"),
	}
}

func (s *StorageSink) SaveTakeoff(ctx context.Context, req Request, result *models.TakeoffResult) (string, error) {
	currency := req.Build.Currency
	if currency == "" {
		currency = s.currency
	}

	doc, err := s.converter.Convert(converters.ExportMeta{
		RunID:    req.RunID,
		PlanID:   req.PlanID,
		Currency: currency,
	}, result)
	if err != nil {
		return "", err
	}
	data, err := s.converter.Marshal(doc)
	if err != nil {
		return "", err
	}

	key := path.Join(s.prefix, req.PlanID, req.RunID+".json")
	url, err := s.store.Upload(ctx, key, data, "application/json")
	if err != nil {
		return "", fmt.Errorf("failed to upload takeoff export: %w", err)
	}

	s.logger.Info("Stored takeoff export",
		logger.String("runId", req.RunID),
		logger.String("path", key),
		logger.Int("bytes", len(data)),
	)
	return url, nil
}
