package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/intake/internal/finalize"
	"github.com/raphaelgruber/intake/internal/metrics"
	"github.com/raphaelgruber/intake/internal/models"
)

var errFallback = errors.New("processed folder unreachable, item moved to failed")

// Classifier decides an item's content kind from its bytes.
type Classifier interface {
	Classify(path string) (models.ContentKind, error)
}

// Normalizer converts a source archive into a canonical payload. cleanup
// removes the working tree and is always safe to call.
type Normalizer interface {
	Normalize(ctx context.Context, src string) (models.Payload, func() error, error)
}

// Uploader sends a payload to the endpoint.
type Uploader interface {
	Upload(ctx context.Context, p models.Payload) error
}

// Finalizer moves an item into its resting folder.
type Finalizer interface {
	Finalize(path string, target models.Location) (finalize.Outcome, error)
}

// IngestOptions configures the per-item pipeline.
type IngestOptions struct {
	// OpaqueContentType is sent with raw payloads (default application/dicom).
	OpaqueContentType string
	// Metrics receives stage timings and outcome counts (optional).
	Metrics *metrics.Collector
	// Logger is the base logger; each item adds its own attributes.
	Logger *slog.Logger
	// OnResult is called once per item after finalization (optional).
	OnResult func(item models.Item)
}

// IngestService drives one item at a time through classify, normalize,
// upload and finalize. It holds no per-item state between calls.
type IngestService struct {
	classifier Classifier
	normalizer Normalizer
	uploader   Uploader
	finalizer  Finalizer

	opaqueContentType string
	metrics           *metrics.Collector
	logger            *slog.Logger
	onResult          func(models.Item)
}

// NewIngestService creates a new ingest service.
func NewIngestService(c Classifier, n Normalizer, u Uploader, f Finalizer, opts IngestOptions) *IngestService {
	if opts.OpaqueContentType == "" {
		opts.OpaqueContentType = models.ContentTypeDICOM
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewCollector()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &IngestService{
		classifier:        c,
		normalizer:        n,
		uploader:          u,
		finalizer:         f,
		opaqueContentType: opts.OpaqueContentType,
		metrics:           opts.Metrics,
		logger:            opts.Logger,
		onResult:          opts.OnResult,
	}
}

// Metrics returns the collector the service records into.
func (s *IngestService) Metrics() *metrics.Collector {
	return s.metrics
}

// Process runs the pipeline for the file at path. Per-item failures route
// the file to Failed and are returned as the item's stage error; only a
// *FinalizationError means the file is still in Inbound.
func (s *IngestService) Process(ctx context.Context, path string) error {
	item := models.NewItem(path)
	log := s.logger.With("item", item.ID, "path", path)

	target := s.run(ctx, item, log)

	var out finalize.Outcome
	err := s.metrics.Time(metrics.OpFinalize, func() error {
		var err error
		out, err = s.finalizer.Finalize(path, target)
		return err
	})
	if errors.Is(err, finalize.ErrVanished) {
		log.Warn("item vanished before finalization", "stage", item.Stage)
		return nil
	}
	if err != nil {
		s.metrics.Inc(metrics.CountStuck)
		log.Error("item stuck in inbound", "target", target, "error", err, "cause", item.Err)
		return &FinalizationError{Path: path, Err: err}
	}

	if out.Fallback {
		s.metrics.Inc(metrics.CountFallback)
		item.Fail(errFallback)
	}
	if out.Replaced {
		s.metrics.Inc(metrics.CountReplaced)
	}
	if err := item.Finalized(out.Location, out.Path); err != nil {
		log.Error("invalid stage transition", "error", err)
	}

	if item.Succeeded() {
		s.metrics.Inc(metrics.CountProcessed)
		log.Info("item processed", "kind", item.Kind, "destination", out.Path, "duration", item.FinalizedAt.Sub(item.ReceivedAt))
	} else {
		s.metrics.Inc(metrics.CountFailed)
		log.Warn("item failed", "kind", item.Kind, "stage", failedStage(item.Err), "destination", out.Path, "error", item.Err)
	}

	if s.onResult != nil {
		s.onResult(*item)
	}
	return item.Err
}

// run executes every stage before finalization and returns where the item
// should go. The first failure is recorded on the item.
func (s *IngestService) run(ctx context.Context, item *models.Item, log *slog.Logger) models.Location {
	var kind models.ContentKind
	err := s.metrics.Time(metrics.OpClassify, func() error {
		var err error
		kind, err = s.classifier.Classify(item.Path)
		return err
	})
	if err != nil {
		item.Fail(&ClassificationError{Path: item.Path, Err: err})
		return models.LocationFailed
	}
	s.advance(item, log, func() error { return item.Classified(kind) })

	var payload models.Payload
	switch kind {
	case models.KindSourceArchive:
		var (
			p       models.Payload
			cleanup func() error
		)
		err := s.metrics.Time(metrics.OpNormalize, func() error {
			var err error
			p, cleanup, err = s.normalizer.Normalize(ctx, item.Path)
			return err
		})
		if err != nil {
			item.Fail(&NormalizationError{Path: item.Path, Err: err})
			return models.LocationFailed
		}
		defer func() {
			if err := cleanup(); err != nil {
				log.Warn("failed to remove working tree", "error", err)
			}
		}()
		s.advance(item, log, func() error { return item.Advance(models.StageNormalized) })
		payload = p

	case models.KindCanonicalArchive:
		payload = models.Payload{Path: item.Path, ContentType: models.ContentTypeZip}

	case models.KindOpaqueBinary:
		payload = models.Payload{Path: item.Path, ContentType: s.opaqueContentType}

	case models.KindUnsupported:
		item.Fail(&UnsupportedError{Path: item.Path})
		return models.LocationFailed

	default:
		item.Fail(&ClassificationError{Path: item.Path, Err: fmt.Errorf("unhandled content kind %s", kind)})
		return models.LocationFailed
	}

	err = s.metrics.Time(metrics.OpUpload, func() error {
		return s.uploader.Upload(ctx, payload)
	})
	if err != nil {
		item.Fail(&UploadError{Path: item.Path, Err: err})
		return models.LocationFailed
	}
	s.advance(item, log, func() error { return item.Advance(models.StageUploaded) })
	return models.LocationProcessed
}

func (s *IngestService) advance(item *models.Item, log *slog.Logger, step func() error) {
	if err := step(); err != nil {
		log.Error("invalid stage transition", "stage", item.Stage, "error", err)
	}
}

// failedStage names the stage an item error came from, for logs.
func failedStage(err error) string {
	var (
		ce *ClassificationError
		ue *UnsupportedError
		ne *NormalizationError
		up *UploadError
	)
	switch {
	case errors.As(err, &ce):
		return "classify"
	case errors.As(err, &ue):
		return "classify"
	case errors.As(err, &ne):
		return "normalize"
	case errors.As(err, &up):
		return "upload"
	default:
		return "finalize"
	}
}
