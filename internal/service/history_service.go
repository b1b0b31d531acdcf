package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/smartcity/hardbruecke/internal/domain"
	"github.com/smartcity/hardbruecke/pkg/logger"
)

// HistoryService aggregates a whole year of counts
type HistoryService struct {
	client    AggregateFetcher
	resources Resources
	log       logger.Logger
	now       func() time.Time
}

// NewHistoryService creates a new history service
func NewHistoryService(client AggregateFetcher, resources Resources, log logger.Logger) *HistoryService {
	if len(resources) == 0 {
		resources = DefaultResources()
	}
	if log == nil {
		log = logger.Named("history")
	}
	return &HistoryService{
		client:    client,
		resources: resources,
		log:       log,
		now:       time.Now,
	}
}

// Summary runs the time and location aggregations of one year concurrently.
// A query without data yields an empty series, not an error.
func (s *HistoryService) Summary(ctx context.Context, year string, frequency domain.Frequency, aggregation domain.Aggregation) (domain.HistorySummary, error) {
	resource, err := s.resources.Lookup(year)
	if err != nil {
		return domain.HistorySummary{}, err
	}
	if frequency, err = domain.ParseFrequency(string(frequency)); err != nil {
		return domain.HistorySummary{}, err
	}
	if aggregation, err = domain.ParseAggregation(string(aggregation)); err != nil {
		return domain.HistorySummary{}, err
	}

	var (
		timeSeries, nameSeries []domain.AggregatePoint
		timeErr, nameErr       error
		wg                     sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		timeSeries, timeErr = s.client.FetchTimeGroup(ctx, resource, frequency, aggregation)
	}()
	go func() {
		defer wg.Done()
		nameSeries, nameErr = s.client.FetchNameGroup(ctx, resource, aggregation)
	}()
	wg.Wait()

	summary := domain.HistorySummary{
		Year:        year,
		Frequency:   frequency,
		Aggregation: aggregation,
		TimeSeries:  []domain.AggregatePoint{},
		NameSeries:  []domain.AggregatePoint{},
		Timestamp:   s.now().UTC(),
	}
	for _, err := range []error{timeErr, nameErr} {
		if err != nil && !errors.Is(err, domain.ErrNoDataAvailable) {
			return domain.HistorySummary{}, err
		}
	}
	if timeErr == nil && len(timeSeries) > 0 {
		summary.TimeAvailable = true
		summary.TimeSeries = timeSeries
	}
	if nameErr == nil && len(nameSeries) > 0 {
		summary.NameAvailable = true
		summary.NameSeries = nameSeries
	}
	if !summary.TimeAvailable || !summary.NameAvailable {
		s.log.Info(ctx, "history incomplete",
			logger.String("year", year),
			logger.Bool("time_available", summary.TimeAvailable),
			logger.Bool("name_available", summary.NameAvailable))
	}
	return summary, nil
}
