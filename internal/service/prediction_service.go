package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smartcity/hardbruecke/internal/dataset"
	"github.com/smartcity/hardbruecke/internal/domain"
	"github.com/smartcity/hardbruecke/internal/pipeline"
	"github.com/smartcity/hardbruecke/pkg/logger"
	"github.com/smartcity/hardbruecke/pkg/metrics"
	"github.com/smartcity/hardbruecke/pkg/utils"
)

// Data sources of a day prediction
const (
	SourceDataset  = "dataset"
	SourceCache    = "cache"
	SourceAPI      = "api"
	SourceSkeleton = "skeleton"
)

const backgroundTimeout = 5 * time.Second

// PredictionService compares the measured counts of a day with the model
type PredictionService struct {
	locations    *pipeline.LocationTable
	regressor    domain.Regressor
	fetcher      DayFetcher
	repo         DataRepository
	dataset      *dataset.Dataset
	resources    Resources
	featureOrder []string
	log          logger.Logger
	metrics      *metrics.Manager
	now          func() time.Time

	wgBg sync.WaitGroup // tracks background goroutines for graceful shutdown
}

// PredictionOption configures a PredictionService
type PredictionOption func(*PredictionService)

// WithDataset makes a local dataset the first source of observations
func WithDataset(d *dataset.Dataset) PredictionOption {
	return func(s *PredictionService) { s.dataset = d }
}

// WithFeatureOrder sets the regressor input order
func WithFeatureOrder(order []string) PredictionOption {
	return func(s *PredictionService) {
		if len(order) > 0 {
			s.featureOrder = append([]string(nil), order...)
		}
	}
}

// WithResources replaces the year to resource table
func WithResources(r Resources) PredictionOption {
	return func(s *PredictionService) {
		if len(r) > 0 {
			s.resources = r
		}
	}
}

// WithLogger sets the service logger
func WithLogger(l logger.Logger) PredictionOption {
	return func(s *PredictionService) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics sets the metrics manager
func WithMetrics(m *metrics.Manager) PredictionOption {
	return func(s *PredictionService) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock overrides time.Now, used for the default date
func WithClock(now func() time.Time) PredictionOption {
	return func(s *PredictionService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewPredictionService creates a new prediction service
func NewPredictionService(
	locations *pipeline.LocationTable,
	regressor domain.Regressor,
	fetcher DayFetcher,
	repo DataRepository,
	opts ...PredictionOption,
) *PredictionService {
	s := &PredictionService{
		locations:    locations,
		regressor:    regressor,
		fetcher:      fetcher,
		repo:         repo,
		resources:    DefaultResources(),
		featureOrder: pipeline.DefaultFeatureOrder,
		log:          logger.Named("prediction"),
		metrics:      metrics.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WaitBackground blocks until all background save goroutines complete.
// Call during graceful shutdown to avoid dropped writes.
func (s *PredictionService) WaitBackground() {
	s.wgBg.Wait()
}

// DefaultDay is the day shown when none is requested: yesterday
func (s *PredictionService) DefaultDay() time.Time {
	return utils.Yesterday(s.now())
}

// Locations lists the selectable location names
func (s *PredictionService) Locations() []string {
	return s.locations.DisplayNames()
}

// Years lists the years with published data
func (s *PredictionService) Years() []string {
	return s.resources.Years()
}

// FeatureOrder returns the regressor input order
func (s *PredictionService) FeatureOrder() []string {
	return append([]string(nil), s.featureOrder...)
}

// DatasetDays lists the days held by the local dataset, empty without one
func (s *PredictionService) DatasetDays() []string {
	if s.dataset == nil {
		return []string{}
	}
	return s.dataset.Days()
}

// Featurize runs the encoding pipeline on caller-supplied records
func (s *PredictionService) Featurize(records []domain.RawRecord) ([]domain.FeaturizedObservation, error) {
	return pipeline.Featurize(records, s.locations)
}

// PredictDay returns the measured and predicted counts of one location on
// one day. Days without measurements are predicted on an empty skeleton.
func (s *PredictionService) PredictDay(ctx context.Context, day time.Time, location string) (domain.DayPrediction, error) {
	name, err := s.locations.DisplayName(location)
	if err != nil {
		return domain.DayPrediction{}, err
	}
	day = utils.TruncateDay(day)

	result := domain.DayPrediction{
		RequestID: uuid.New(),
		Day:       utils.FormatDay(day),
		Location:  name,
		State:     domain.StateNoDataRequested,
	}
	if result.State, err = result.State.Advance(domain.StateDataFetchPending); err != nil {
		return domain.DayPrediction{}, err
	}

	records, source := s.loadDay(ctx, day, name)
	next := domain.StateDataUnavailable
	if len(records) > 0 {
		next = domain.StateDataAvailable
	}
	if result.State, err = result.State.Advance(next); err != nil {
		return domain.DayPrediction{}, err
	}

	var observations []domain.FeaturizedObservation
	if result.State == domain.StateDataAvailable {
		observations, err = pipeline.Featurize(records, s.locations)
	} else {
		source = SourceSkeleton
		observations, err = pipeline.Featurize(pipeline.BuildFutureSkeleton(name, day), s.locations)
		observations = pipeline.MarkUnmeasured(observations)
	}
	if err != nil {
		return domain.DayPrediction{}, fmt.Errorf("prediction: failed to featurize %s: %w", result.Day, err)
	}
	if result.State, err = result.State.Advance(domain.StateFeaturized); err != nil {
		return domain.DayPrediction{}, err
	}
	s.metrics.ObservePipelineRows(len(observations))

	start := time.Now()
	rows, err := pipeline.PredictDay(ctx, observations, day, name, s.regressor, s.featureOrder)
	s.metrics.ObserveRegressorLatency(time.Since(start))
	if err != nil {
		return domain.DayPrediction{}, fmt.Errorf("prediction: failed to predict %s at %s: %w", result.Day, name, err)
	}
	if result.State, err = result.State.Advance(domain.StatePredictionReady); err != nil {
		return domain.DayPrediction{}, err
	}

	result.Available = source != SourceSkeleton
	result.Source = source
	result.Rows = rows
	result.Series = pipeline.Melt(rows)

	s.metrics.RecordPrediction(result.State.String(), source)
	s.saveLog(result, day)
	return result, nil
}

// loadDay returns the records of location on day, trying the local dataset,
// stored copies and the open data API in that order. Only settled days are
// stored, so a stored copy is never partial.
func (s *PredictionService) loadDay(ctx context.Context, day time.Time, name string) ([]domain.RawRecord, string) {
	if s.dataset != nil {
		if records := s.filterLocation(s.dataset.Day(day), name); len(records) > 0 {
			return records, SourceDataset
		}
	}

	resource, err := s.resources.ForDay(day)
	if err != nil {
		s.log.Debug(ctx, "no resource for day", logger.String("day", utils.FormatDay(day)))
		return nil, ""
	}

	if s.repo != nil {
		stored, err := s.repo.GetDayRecords(ctx, resource, day)
		if err != nil {
			s.log.Warn(ctx, "failed to read stored day", logger.String("day", utils.FormatDay(day)), logger.Error(err))
		} else if records := s.filterLocation(stored, name); len(records) > 0 {
			return records, SourceCache
		}
	}

	if s.fetcher == nil {
		return nil, ""
	}
	fetched, err := s.fetcher.FetchDay(ctx, resource, day)
	if err != nil {
		if !errors.Is(err, domain.ErrNoDataAvailable) {
			s.log.Warn(ctx, "day fetch failed", logger.String("day", utils.FormatDay(day)), logger.Error(err))
		}
		return nil, ""
	}
	if s.settled(day, fetched) {
		s.saveDay(resource, day, fetched)
	}
	return s.filterLocation(fetched, name), SourceAPI
}

// settled reports whether a fetched day is final and may be stored: it lies
// before yesterday and every line in it has a full day of ticks. Recent days
// are still being published and are always fetched live.
func (s *PredictionService) settled(day time.Time, records []domain.RawRecord) bool {
	now := s.now()
	if !day.Before(utils.Yesterday(now)) {
		return false
	}
	want := expectedTicks(day, now.Location())
	ticks := make(map[string]int)
	for _, rec := range records {
		ticks[s.locations.Normalize(rec.Name)]++
	}
	for _, n := range ticks {
		if n < want {
			return false
		}
	}
	return len(ticks) > 0
}

// expectedTicks is the number of wall-clock ticks of day in loc, which is
// short on the day clocks spring forward.
func expectedTicks(day time.Time, loc *time.Location) int {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	n := int(start.AddDate(0, 0, 1).Sub(start) / pipeline.TickInterval)
	return min(n, pipeline.TicksPerDay)
}

// filterLocation keeps the records of one location, whatever spelling the
// source uses, and renames them to name. Lines the model does not know must
// not fail a request for another line.
func (s *PredictionService) filterLocation(records []domain.RawRecord, name string) []domain.RawRecord {
	want := s.locations.Normalize(name)
	var out []domain.RawRecord
	for _, rec := range records {
		if s.locations.Normalize(rec.Name) == want {
			rec.Name = name
			out = append(out, rec)
		}
	}
	return out
}

func (s *PredictionService) saveDay(resource string, day time.Time, records []domain.RawRecord) {
	if s.repo == nil {
		return
	}
	s.wgBg.Add(1)
	go func() {
		defer s.wgBg.Done()
		bgCtx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		err := s.repo.SaveDayRecords(bgCtx, resource, day, records)
		s.metrics.RecordBackgroundSave("day_records", err)
		if err != nil {
			s.log.Warn(bgCtx, "failed to store fetched day", logger.String("day", utils.FormatDay(day)), logger.Error(err))
		}
	}()
}

func (s *PredictionService) saveLog(result domain.DayPrediction, day time.Time) {
	if s.repo == nil {
		return
	}
	entry := domain.PredictionLog{
		RequestID: result.RequestID,
		Day:       day,
		Location:  result.Location,
		State:     result.State,
		Source:    result.Source,
		Rows:      len(result.Rows),
		CreatedAt: s.now().UTC(),
	}
	for _, row := range result.Rows {
		if row.Measured() {
			entry.Measured++
		}
	}

	s.wgBg.Add(1)
	go func() {
		defer s.wgBg.Done()
		bgCtx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		err := s.repo.SavePredictionLog(bgCtx, entry)
		s.metrics.RecordBackgroundSave("prediction_log", err)
		if err != nil {
			s.log.Warn(bgCtx, "failed to save prediction log", logger.String("request_id", entry.RequestID.String()), logger.Error(err))
		}
	}()
}
