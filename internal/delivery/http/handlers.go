package http

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/smartcity/hardbruecke/internal/domain"
	"github.com/smartcity/hardbruecke/pkg/logger"
	"github.com/smartcity/hardbruecke/pkg/utils"
)

// Predictor serves day predictions and the pipeline itself
type Predictor interface {
	PredictDay(ctx context.Context, day time.Time, location string) (domain.DayPrediction, error)
	Featurize(records []domain.RawRecord) ([]domain.FeaturizedObservation, error)
	DefaultDay() time.Time
	Locations() []string
	Years() []string
	FeatureOrder() []string
	DatasetDays() []string
}

// HistoryProvider serves the yearly aggregations
type HistoryProvider interface {
	Summary(ctx context.Context, year string, frequency domain.Frequency, aggregation domain.Aggregation) (domain.HistorySummary, error)
}

// HealthChecker is a dependency reported by /health
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Handler contains all HTTP handlers
type Handler struct {
	predictor Predictor
	history   HistoryProvider
	checks    map[string]HealthChecker
	log       logger.Logger
}

// NewHandler creates a new handler. checks are reported by name on /health.
func NewHandler(predictor Predictor, history HistoryProvider, checks map[string]HealthChecker) *Handler {
	return &Handler{
		predictor: predictor,
		history:   history,
		checks:    checks,
		log:       logger.Named("http"),
	}
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	deps := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if check == nil {
			continue
		}
		if err := check.Health(ctx); err != nil {
			deps[name] = err.Error()
			status = "degraded"
			continue
		}
		deps[name] = "ok"
	}

	return c.JSON(fiber.Map{
		"status":       status,
		"service":      "hardbruecke-backend",
		"version":      "1.0.0",
		"dependencies": deps,
	})
}

// GetOptions returns the selectable values of the dashboard
func (h *Handler) GetOptions(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"locations":     h.predictor.Locations(),
			"years":         h.predictor.Years(),
			"frequencies":   domain.FrequencyOptions,
			"aggregations":  domain.AggregationOptions,
			"default_date":  utils.FormatDay(h.predictor.DefaultDay()),
			"feature_order": h.predictor.FeatureOrder(),
			"dataset_days":  h.predictor.DatasetDays(),
		},
	})
}

// GetPrediction compares the counts of one day and location with the model
func (h *Handler) GetPrediction(c *fiber.Ctx) error {
	day := h.predictor.DefaultDay()
	if raw := c.Query("date"); raw != "" {
		parsed, err := utils.ParseDay(raw)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		day = parsed
	}

	location := c.Query("location")
	if location == "" {
		locations := h.predictor.Locations()
		if len(locations) == 0 {
			return fiber.NewError(fiber.StatusBadRequest, "location is required")
		}
		location = locations[0]
	}

	result, err := h.predictor.PredictDay(c.Context(), day, location)
	if err != nil {
		return h.fail(c, "prediction failed", err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    result,
	})
}

// GetHistory returns the yearly aggregations
func (h *Handler) GetHistory(c *fiber.Ctx) error {
	years := h.predictor.Years()
	year := c.Query("year")
	if year == "" && len(years) > 0 {
		year = years[0]
	}

	frequency, err := domain.ParseFrequency(c.Query("frequency", string(domain.FrequencyWeek)))
	if err != nil {
		return h.fail(c, "invalid history query", err)
	}
	aggregation, err := domain.ParseAggregation(c.Query("aggregation", string(domain.AggregationAvg)))
	if err != nil {
		return h.fail(c, "invalid history query", err)
	}

	summary, err := h.history.Summary(c.Context(), year, frequency, aggregation)
	if err != nil {
		return h.fail(c, "history failed", err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    summary,
	})
}

// Featurize runs the encoding pipeline on posted wide records
func (h *Handler) Featurize(c *fiber.Ctx) error {
	var records []domain.RawRecord
	if err := c.BodyParser(&records); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	rows, err := h.predictor.Featurize(records)
	if err != nil {
		return h.fail(c, "featurize failed", err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    rows,
		"count":   len(rows),
	})
}

// fail logs err and converts it to a fiber error with the matching status
func (h *Handler) fail(c *fiber.Ctx, msg string, err error) error {
	fe := toFiberError(err)
	if fe.Code >= fiber.StatusInternalServerError {
		h.log.Error(c.Context(), msg, logger.String("path", c.Path()), logger.Error(err))
	} else {
		h.log.Debug(c.Context(), msg, logger.String("path", c.Path()), logger.Error(err))
	}
	return fe
}

func toFiberError(err error) *fiber.Error {
	var (
		unknown  *domain.UnknownLocationError
		mismatch *domain.FeatureVectorMismatchError
	)
	switch {
	case errors.As(err, &unknown):
		return fiber.NewError(fiber.StatusUnprocessableEntity, unknown.Error())
	case errors.As(err, &mismatch):
		return fiber.NewError(fiber.StatusInternalServerError, mismatch.Error())
	case errors.Is(err, domain.ErrInvalidQuery):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnknownResource):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, "Internal Server Error")
	}
}

// ErrorHandler renders every error as the JSON error envelope
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}
