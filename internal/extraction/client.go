package extraction

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/example/formreader/internal/config"
	"github.com/example/formreader/internal/formimage"
	"github.com/example/formreader/internal/logging"
)

// Prompt asks for text fields, checkbox and radio states, and signatures or
// stamps, formatted as one JSON object.
const Prompt = `لطفاً این تصویر فرم را تحلیل کنید و اطلاعات زیر را در قالب JSON استخراج کنید:
1. تمام فیلدهای متنی و مقادیر آنها
2. چک باکس‌ها یا دکمه‌های رادیویی و وضعیت آنها
3. امضاها یا مهرها در صورت وجود

لطفاً پاسخ را به صورت یک شیء JSON با نام فیلدها و مقادیر مناسب فرمت کنید.`

// Failure classes a Model reports by wrapping its errors.
var (
	ErrAuth          = errors.New("authentication failed")
	ErrQuota         = errors.New("quota exceeded")
	ErrEmptyResponse = errors.New("model returned an empty response")
)

// Model is a hosted multimodal model answering one prompt about one image.
type Model interface {
	Generate(ctx context.Context, prompt string, img *formimage.Image) (string, error)
}

// ModelFactory opens a model handle from the process configuration.
type ModelFactory func(ctx context.Context, cfg config.Config) (Model, error)

// Client sends the fixed prompt and an image to the model, once per call.
type Client struct {
	cfg      config.Config
	newModel ModelFactory
	logger   *zap.Logger
}

// NewClient constructs a client. The model handle is opened on every call so
// a bad credential fails the request rather than startup.
func NewClient(cfg config.Config, newModel ModelFactory, logger *zap.Logger) *Client {
	return &Client{cfg: cfg, newModel: newModel, logger: logger.Named("extraction_client")}
}

// Extract returns the model's raw text for img, which may be empty. There is
// no retry.
func (c *Client) Extract(ctx context.Context, requestID string, img *formimage.Image) (string, error) {
	if img == nil {
		return "", logging.NewOperationError("extraction.extract", requestID, formimage.ErrDecode)
	}
	opLogger := logging.WithOperation(c.logger, "extraction.extract", requestID)

	model, err := c.newModel(ctx, c.cfg)
	if err != nil {
		wrapped := logging.NewOperationError("extraction.open_model", requestID, err)
		opLogger.Error("failed to open model", zap.Error(wrapped), zap.String("model", c.cfg.Model))
		return "", wrapped
	}

	opLogger.Debug("sending form image",
		zap.String("model", c.cfg.Model),
		zap.String("mime_type", img.MIMEType),
		zap.Int("bytes", len(img.Data)),
	)
	text, err := model.Generate(ctx, Prompt, img)
	if err != nil {
		wrapped := logging.NewOperationError("extraction.generate", requestID, err)
		opLogger.Error("model call failed", zap.Error(wrapped))
		return "", wrapped
	}
	if text == "" {
		opLogger.Warn("model answered with empty text")
	}
	return text, nil
}

