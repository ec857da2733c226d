package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/formreader/internal/extraction"
	"github.com/example/formreader/internal/formimage"
	"github.com/example/formreader/internal/interpret"
	"github.com/example/formreader/internal/logging"
)

// Extractor returns the model's raw answer for one image.
type Extractor interface {
	Extract(ctx context.Context, requestID string, img *formimage.Image) (string, error)
}

// FormExtractionUseCase runs decode, extract and interpret for one upload.
// It holds no per-request state and is safe for concurrent use.
type FormExtractionUseCase struct {
	extractor Extractor
	maxPixels int64
	logger    *zap.Logger
	newID     func() string
}

// NewFormExtractionUseCase constructs a new use case instance. Uploads larger
// than maxPixels once decoded fail as decode errors.
func NewFormExtractionUseCase(extractor Extractor, maxPixels int64, logger *zap.Logger) *FormExtractionUseCase {
	return &FormExtractionUseCase{
		extractor: extractor,
		maxPixels: maxPixels,
		logger:    logger.Named("form_extraction_usecase"),
		newID:     uuid.NewString,
	}
}

// Process never returns an error: every failure, including a panic, becomes a
// Failed result.
func (uc *FormExtractionUseCase) Process(ctx context.Context, imageBytes []byte) (requestID string, result interpret.Result) {
	requestID = uc.newID()
	opLogger := logging.WithOperation(uc.logger, "usecase.process_form", requestID)
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			opLogger.Error("panic while processing form", zap.Any("panic", r), zap.Stack("stack"))
			result = interpret.Failed(interpret.ErrorUnexpected, fmt.Sprint(r))
		}
		fields := []zap.Field{
			zap.Stringer("kind", result.Kind),
			zap.Int("upload_bytes", len(imageBytes)),
			zap.Duration("latency", time.Since(started)),
		}
		if result.Kind == interpret.KindFailed {
			fields = append(fields, zap.String("error_kind", string(result.ErrorKind)))
		}
		opLogger.Info("form processed", fields...)
	}()

	img, err := formimage.Decode(imageBytes, uc.maxPixels)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.decode_image", requestID, err)
		opLogger.Warn("upload is not a valid image", zap.Error(wrapped))
		return requestID, interpret.Failed(interpret.ErrorDecode, logging.UserMessage(wrapped))
	}

	raw, err := uc.extractor.Extract(ctx, requestID, img)
	if err != nil {
		return requestID, interpret.Failed(classify(err), logging.UserMessage(err))
	}

	result = interpret.Interpret(raw)
	if result.Kind == interpret.KindFailed {
		opLogger.Warn("model response is not valid JSON", zap.String("reason", result.Message), zap.Int("response_len", len(raw)))
	}
	return requestID, result
}

func classify(err error) interpret.ErrorKind {
	switch {
	case errors.Is(err, formimage.ErrDecode):
		return interpret.ErrorDecode
	case errors.Is(err, extraction.ErrAuth):
		return interpret.ErrorAuth
	case errors.Is(err, extraction.ErrQuota):
		return interpret.ErrorQuota
	case errors.Is(err, extraction.ErrEmptyResponse):
		return interpret.ErrorUnexpected
	default:
		// Anything else failed on the way to or from the hosted model.
		return interpret.ErrorNetwork
	}
}
