package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/smartcity/hardbruecke/internal/dataset"
	"github.com/smartcity/hardbruecke/internal/domain"
	"github.com/smartcity/hardbruecke/internal/pipeline"
	"github.com/smartcity/hardbruecke/pkg/logger"
	"github.com/smartcity/hardbruecke/pkg/metrics"
	. "github.com/smartystreets/goconvey/convey"
)

type stubRegressor struct {
	mu    sync.Mutex
	calls int
}

func (r *stubRegressor) Predict(_ context.Context, features [][]float64) ([]float64, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	out := make([]float64, len(features))
	for i, f := range features {
		// hour + 10 * direction_code
		out[i] = f[1] + 10*f[5]
	}
	return out, nil
}

type stubFetcher struct {
	records []domain.RawRecord
	err     error
	calls   int
}

func (f *stubFetcher) FetchDay(context.Context, string, time.Time) ([]domain.RawRecord, error) {
	f.calls++
	return f.records, f.err
}

type memoryRepo struct {
	mu    sync.Mutex
	days  map[string][]domain.RawRecord
	logs  []domain.PredictionLog
	fails bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{days: make(map[string][]domain.RawRecord)}
}

func (m *memoryRepo) key(resource string, day time.Time) string {
	return resource + "/" + day.Format("2006-01-02")
}

func (m *memoryRepo) SaveDayRecords(_ context.Context, resource string, day time.Time, records []domain.RawRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fails {
		return errors.New("storage offline")
	}
	m.days[m.key(resource, day)] = records
	return nil
}

func (m *memoryRepo) GetDayRecords(_ context.Context, resource string, day time.Time) ([]domain.RawRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fails {
		return nil, errors.New("storage offline")
	}
	return m.days[m.key(resource, day)], nil
}

func (m *memoryRepo) SavePredictionLog(_ context.Context, entry domain.PredictionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fails {
		return errors.New("storage offline")
	}
	m.logs = append(m.logs, entry)
	return nil
}

func (m *memoryRepo) Health(context.Context) error { return nil }

func dayRecords(day time.Time, names ...string) []domain.RawRecord {
	var records []domain.RawRecord
	for _, name := range names {
		for i, r := range pipeline.BuildFutureSkeleton(name, day) {
			r.In = i % 7
			r.Out = i % 3
			records = append(records, r)
		}
	}
	return records
}

func newTestPredictionService(fetcher DayFetcher, repo DataRepository, opts ...PredictionOption) (*PredictionService, *stubRegressor) {
	reg := &stubRegressor{}
	opts = append([]PredictionOption{
		WithLogger(logger.Nop()),
		WithMetrics(metrics.NewManager(metrics.WithPrometheusRegistry(prometheus.NewRegistry()))),
		WithClock(func() time.Time { return time.Date(2021, 6, 2, 9, 30, 0, 0, time.UTC) }),
	}, opts...)
	return NewPredictionService(pipeline.DefaultLocations(), reg, fetcher, repo, opts...), reg
}

func TestPredictionService(t *testing.T) {
	day := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	Convey("Given the API has the requested day", t, func() {
		fetcher := &stubFetcher{records: dayRecords(day, "Ost-Nord total", "Ost-Sd total", "Brand-new total")}
		repo := newMemoryRepo()
		svc, reg := newTestPredictionService(fetcher, repo)

		Convey("When a location is predicted", func() {
			res, err := svc.PredictDay(ctx, day, "Ost-Nord total")
			svc.WaitBackground()

			Convey("Then the measured day is compared with the model", func() {
				So(err, ShouldBeNil)
				So(res.State, ShouldEqual, domain.StatePredictionReady)
				So(res.Available, ShouldBeTrue)
				So(res.Source, ShouldEqual, SourceAPI)
				So(res.Rows, ShouldHaveLength, 2*pipeline.TicksPerDay)
				So(reg.calls, ShouldEqual, 1)

				last := res.Rows[len(res.Rows)-1]
				So(last.Direction, ShouldEqual, domain.DirectionOut)
				So(last.Hour, ShouldEqual, 23)
				So(last.Prediction, ShouldEqual, 33)
				So(*last.Count, ShouldEqual, 287%3)
			})

			Convey("And the series holds counts then predictions", func() {
				So(res.Series, ShouldHaveLength, 4*pipeline.TicksPerDay)
				So(res.Series[0].Variable, ShouldEqual, domain.VariableCount)
				So(res.Series[2*pipeline.TicksPerDay].Variable, ShouldEqual, domain.VariablePrediction)
			})

			Convey("And the fetched day and a log entry are stored", func() {
				stored, _ := repo.GetDayRecords(ctx, resource2021, day)
				So(stored, ShouldHaveLength, 3*pipeline.TicksPerDay)
				So(repo.logs, ShouldHaveLength, 1)
				So(repo.logs[0].RequestID, ShouldEqual, res.RequestID)
				So(repo.logs[0].Measured, ShouldEqual, 2*pipeline.TicksPerDay)
			})
		})

		Convey("When the requested name uses another Süd spelling", func() {
			res, err := svc.PredictDay(ctx, day, "Ost-Süd total")
			svc.WaitBackground()

			Convey("Then the API spelling is matched", func() {
				So(err, ShouldBeNil)
				So(res.Location, ShouldEqual, "Ost-Sd total")
				So(res.Available, ShouldBeTrue)
				So(res.Rows[0].LocationCode, ShouldEqual, 0)
			})
		})

		Convey("When the location is unknown", func() {
			_, err := svc.PredictDay(ctx, day, "Nonexistent total")

			Convey("Then an UnknownLocationError is returned", func() {
				var unknown *domain.UnknownLocationError
				So(errors.As(err, &unknown), ShouldBeTrue)
				So(fetcher.calls, ShouldEqual, 0)
			})
		})
	})

	Convey("Given a day the portal is still publishing", t, func() {
		full := dayRecords(day, "Ost-Nord total")
		fetcher := &stubFetcher{records: full[:60]}
		repo := newMemoryRepo()
		svc, _ := newTestPredictionService(fetcher, repo)

		Convey("When it is requested before and after publication completes", func() {
			first, err := svc.PredictDay(ctx, day, "Ost-Nord total")
			svc.WaitBackground()
			So(err, ShouldBeNil)
			So(first.Source, ShouldEqual, SourceAPI)
			So(first.Rows, ShouldHaveLength, 120)

			stored, _ := repo.GetDayRecords(ctx, resource2021, day)
			So(stored, ShouldBeEmpty)

			fetcher.records = full
			second, err := svc.PredictDay(ctx, day, "Ost-Nord total")
			svc.WaitBackground()

			Convey("Then the partial day is not kept and the full day is served", func() {
				So(err, ShouldBeNil)
				So(second.Source, ShouldEqual, SourceAPI)
				So(second.Rows, ShouldHaveLength, 2*pipeline.TicksPerDay)
				So(fetcher.calls, ShouldEqual, 2)
			})

			Convey("And the complete day is stored for later requests", func() {
				third, err := svc.PredictDay(ctx, day, "Ost-Nord total")
				svc.WaitBackground()
				So(err, ShouldBeNil)
				So(third.Source, ShouldEqual, SourceCache)
				So(third.Rows, ShouldHaveLength, 2*pipeline.TicksPerDay)
				So(fetcher.calls, ShouldEqual, 2)
			})
		})
	})

	Convey("Given a complete but recent day", t, func() {
		yesterday := time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC)
		fetcher := &stubFetcher{records: dayRecords(yesterday, "Ost-Nord total")}
		repo := newMemoryRepo()
		svc, _ := newTestPredictionService(fetcher, repo)

		Convey("Then it is fetched live on every request", func() {
			for i := 0; i < 2; i++ {
				res, err := svc.PredictDay(ctx, yesterday, "Ost-Nord total")
				svc.WaitBackground()
				So(err, ShouldBeNil)
				So(res.Source, ShouldEqual, SourceAPI)
			}
			So(fetcher.calls, ShouldEqual, 2)
			stored, _ := repo.GetDayRecords(ctx, resource2021, yesterday)
			So(stored, ShouldBeEmpty)
		})
	})

	Convey("Given a stored copy of the day", t, func() {
		fetcher := &stubFetcher{err: domain.ErrNoDataAvailable}
		repo := newMemoryRepo()
		So(repo.SaveDayRecords(ctx, resource2021, day, dayRecords(day, "West-SBB total")), ShouldBeNil)
		svc, _ := newTestPredictionService(fetcher, repo)

		Convey("Then it is used without calling the API", func() {
			res, err := svc.PredictDay(ctx, day, "West-SBB total")
			svc.WaitBackground()
			So(err, ShouldBeNil)
			So(res.Source, ShouldEqual, SourceCache)
			So(fetcher.calls, ShouldEqual, 0)
		})
	})

	Convey("Given a local dataset", t, func() {
		fetcher := &stubFetcher{err: domain.ErrNoDataAvailable}
		ds := dataset.New(dayRecords(day, "Ost-Süd total"))
		svc, _ := newTestPredictionService(fetcher, nil, WithDataset(ds))

		Convey("Then it is consulted first and spellings are reconciled", func() {
			res, err := svc.PredictDay(ctx, day, "Ost-Sd total")
			So(err, ShouldBeNil)
			So(res.Source, ShouldEqual, SourceDataset)
			So(res.Rows, ShouldHaveLength, 2*pipeline.TicksPerDay)
			So(res.Rows[0].Name, ShouldEqual, "Ost-Sd total")
			So(fetcher.calls, ShouldEqual, 0)
		})

		Convey("And its days are listed", func() {
			So(svc.DatasetDays(), ShouldResemble, []string{"2021-01-01"})
		})
	})

	Convey("Given no data for the day", t, func() {
		fetcher := &stubFetcher{err: domain.ErrNoDataAvailable}
		svc, reg := newTestPredictionService(fetcher, newMemoryRepo())

		Convey("When a location is predicted", func() {
			res, err := svc.PredictDay(ctx, day, "Ost-Nord total")
			svc.WaitBackground()

			Convey("Then a skeleton day is predicted with missing counts", func() {
				So(err, ShouldBeNil)
				So(res.State, ShouldEqual, domain.StatePredictionReady)
				So(res.Available, ShouldBeFalse)
				So(res.Source, ShouldEqual, SourceSkeleton)
				So(res.Rows, ShouldHaveLength, 2*pipeline.TicksPerDay)
				So(reg.calls, ShouldEqual, 1)
				for _, row := range res.Rows {
					So(row.Count, ShouldBeNil)
				}
				So(res.Series[0].Value, ShouldBeNil)
			})
		})

		Convey("When the year has no published resource", func() {
			res, err := svc.PredictDay(ctx, time.Date(2030, 5, 1, 0, 0, 0, 0, time.UTC), "Ost-Nord total")

			Convey("Then the API is not asked", func() {
				So(err, ShouldBeNil)
				So(res.Source, ShouldEqual, SourceSkeleton)
				So(fetcher.calls, ShouldEqual, 0)
			})
		})
	})

	Convey("Given a failing repository", t, func() {
		repo := newMemoryRepo()
		repo.fails = true
		fetcher := &stubFetcher{records: dayRecords(day, "Ost-Nord total")}
		svc, _ := newTestPredictionService(fetcher, repo)

		Convey("Then requests still succeed", func() {
			res, err := svc.PredictDay(ctx, day, "Ost-Nord total")
			svc.WaitBackground()
			So(err, ShouldBeNil)
			So(res.Source, ShouldEqual, SourceAPI)
		})
	})

	Convey("Given the service defaults", t, func() {
		svc, _ := newTestPredictionService(nil, nil)

		Convey("Then the default day is yesterday", func() {
			So(svc.DefaultDay(), ShouldEqual, time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC))
		})

		Convey("And the options come from the tables", func() {
			So(svc.Years(), ShouldResemble, []string{"2020", "2021", "2022"})
			So(svc.Locations(), ShouldHaveLength, 8)
			So(svc.FeatureOrder(), ShouldResemble, pipeline.DefaultFeatureOrder)
			So(svc.DatasetDays(), ShouldBeEmpty)
		})
	})
}

func TestExpectedTicks(t *testing.T) {
	zurich, err := time.LoadLocation("Europe/Zurich")
	if err != nil {
		t.Fatalf("load zone: %v", err)
	}
	tests := []struct {
		name string
		day  time.Time
		loc  *time.Location
		want int
	}{
		{"regular day", time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), zurich, pipeline.TicksPerDay},
		{"spring forward", time.Date(2021, 3, 28, 0, 0, 0, 0, time.UTC), zurich, pipeline.TicksPerDay - 12},
		{"fall back", time.Date(2021, 10, 31, 0, 0, 0, 0, time.UTC), zurich, pipeline.TicksPerDay},
		{"utc", time.Date(2021, 3, 28, 0, 0, 0, 0, time.UTC), time.UTC, pipeline.TicksPerDay},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := expectedTicks(tt.day, tt.loc); got != tt.want {
				t.Errorf("expectedTicks() = %d, want %d", got, tt.want)
			}
		})
	}
}
