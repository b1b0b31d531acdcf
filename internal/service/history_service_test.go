package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smartcity/hardbruecke/internal/domain"
	"github.com/smartcity/hardbruecke/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

type stubAggregates struct {
	timeErr, nameErr error
	resources        chan string
}

func (s *stubAggregates) FetchTimeGroup(_ context.Context, resource string, f domain.Frequency, a domain.Aggregation) ([]domain.AggregatePoint, error) {
	s.resources <- resource
	if s.timeErr != nil {
		return nil, s.timeErr
	}
	ts := time.Date(2021, 1, 4, 0, 0, 0, 0, time.UTC)
	return []domain.AggregatePoint{
		{Timestamp: &ts, Direction: "in", Value: 10},
		{Timestamp: &ts, Direction: "out", Value: 8},
	}, nil
}

func (s *stubAggregates) FetchNameGroup(_ context.Context, resource string, a domain.Aggregation) ([]domain.AggregatePoint, error) {
	s.resources <- resource
	if s.nameErr != nil {
		return nil, s.nameErr
	}
	return []domain.AggregatePoint{{Name: "Ost-Nord total", Direction: "in", Value: 3}}, nil
}

func TestHistoryService(t *testing.T) {
	ctx := context.Background()

	Convey("Given both aggregations succeed", t, func() {
		stub := &stubAggregates{resources: make(chan string, 2)}
		svc := NewHistoryService(stub, nil, logger.Nop())

		Convey("When a summary is requested with dashboard labels", func() {
			sum, err := svc.Summary(ctx, "2021", "Woche", "Mittelwert")

			Convey("Then both series are returned for that year's resource", func() {
				So(err, ShouldBeNil)
				So(sum.Frequency, ShouldEqual, domain.FrequencyWeek)
				So(sum.Aggregation, ShouldEqual, domain.AggregationAvg)
				So(sum.TimeAvailable, ShouldBeTrue)
				So(sum.TimeSeries, ShouldHaveLength, 2)
				So(sum.NameAvailable, ShouldBeTrue)
				So(<-stub.resources, ShouldEqual, resource2021)
				So(<-stub.resources, ShouldEqual, resource2021)
			})
		})
	})

	Convey("Given one aggregation has no data", t, func() {
		stub := &stubAggregates{resources: make(chan string, 2), nameErr: domain.ErrNoDataAvailable}
		svc := NewHistoryService(stub, nil, logger.Nop())

		Convey("Then the other is still returned", func() {
			sum, err := svc.Summary(ctx, "2021", domain.FrequencyMonth, domain.AggregationMax)
			So(err, ShouldBeNil)
			So(sum.TimeAvailable, ShouldBeTrue)
			So(sum.NameAvailable, ShouldBeFalse)
			So(sum.NameSeries, ShouldBeEmpty)
			So(sum.NameSeries, ShouldNotBeNil)
		})
	})

	Convey("Given invalid selections", t, func() {
		stub := &stubAggregates{resources: make(chan string, 2)}
		svc := NewHistoryService(stub, nil, logger.Nop())

		Convey("Then an unknown year is rejected", func() {
			_, err := svc.Summary(ctx, "1999", domain.FrequencyWeek, domain.AggregationAvg)
			So(errors.Is(err, domain.ErrUnknownResource), ShouldBeTrue)
		})

		Convey("And an unknown aggregation is rejected before querying", func() {
			_, err := svc.Summary(ctx, "2021", domain.FrequencyWeek, "MEDIAN")
			So(errors.Is(err, domain.ErrInvalidQuery), ShouldBeTrue)
			So(len(stub.resources), ShouldEqual, 0)
		})
	})
}
