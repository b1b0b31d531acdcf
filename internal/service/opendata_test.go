package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/smartcity/hardbruecke/internal/domain"
	"github.com/smartcity/hardbruecke/pkg/logger"
	"github.com/smartcity/hardbruecke/pkg/metrics"
	. "github.com/smartystreets/goconvey/convey"
)

const resource2021 = "2f27e464-4910-46bf-817b-a9bac19f86f3"

func newTestClient(handler http.HandlerFunc) (*OpenDataClient, *httptest.Server) {
	srv := httptest.NewServer(handler)
	c := NewOpenDataClient(srv.URL, time.Second,
		WithOpenDataLogger(logger.Nop()),
		WithOpenDataMetrics(metrics.NewManager(metrics.WithPrometheusRegistry(prometheus.NewRegistry()))),
	)
	return c, srv
}

func TestOpenDataFetchDay(t *testing.T) {
	day := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)

	Convey("Given a portal returning records with mixed count types", t, func() {
		var gotSQL string
		c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
			gotSQL = r.URL.Query().Get("sql")
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"success":true,"result":{"records":[
				{"Timestamp":"2021-01-01T23:50:00","Name":"Ost-Nord total","In":"3","Out":4},
				{"Timestamp":"2021-01-01T23:55:00","Name":"Ost-Sd total","In":1,"Out":"0"}
			]}}`))
		})
		defer srv.Close()

		Convey("When a day is fetched", func() {
			records, err := c.FetchDay(context.Background(), resource2021, day)

			Convey("Then the records are decoded in order", func() {
				So(err, ShouldBeNil)
				So(records, ShouldHaveLength, 2)
				So(records[0].In, ShouldEqual, 3)
				So(records[0].Out, ShouldEqual, 4)
				So(records[1].Name, ShouldEqual, "Ost-Sd total")
				So(records[1].Timestamp, ShouldEqual, time.Date(2021, 1, 1, 23, 55, 0, 0, time.UTC))
			})

			Convey("And the query filters the resource by date", func() {
				So(gotSQL, ShouldContainSubstring, `FROM "`+resource2021+`"`)
				So(gotSQL, ShouldContainSubstring, `"Timestamp"::TIMESTAMP::DATE='2021-01-01'`)
			})
		})
	})

	Convey("Given a day with some undecodable rows", t, func() {
		c, srv := newTestClient(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"success":true,"result":{"records":[
				{"Timestamp":"2021-01-01T00:00:00","Name":"Ost-Nord total","In":5,"Out":6},
				{"Timestamp":"2021-01-01T00:00:00","Name":"West-SBB total","In":null,"Out":2},
				{"Timestamp":"2021-01-01T00:00:00","Name":"West-VBZ total","In":1,"Out":"n/a"},
				{"Timestamp":"yesterday","Name":"Ost-SBB total","In":1,"Out":1},
				{"Timestamp":"2021-01-01T00:05:00","Name":"Ost-Nord total","In":"7","Out":"8"}
			]}}`))
		})
		defer srv.Close()

		Convey("When the day is fetched", func() {
			records, err := c.FetchDay(context.Background(), resource2021, day)

			Convey("Then the bad rows are skipped and the rest is kept", func() {
				So(err, ShouldBeNil)
				So(records, ShouldHaveLength, 2)
				So(records[0].In, ShouldEqual, 5)
				So(records[1].Out, ShouldEqual, 8)
				for _, rec := range records {
					So(rec.Name, ShouldEqual, "Ost-Nord total")
				}
			})
		})
	})

	Convey("Given failing portals", t, func() {
		handlers := map[string]http.HandlerFunc{
			"server error": func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			"rejected query": func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"success":false,"error":{"message":"bad sql"}}`))
			},
			"no records": func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"success":true,"result":{"records":[]}}`))
			},
			"broken json": func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"success":`))
			},
			"negative count": func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"success":true,"result":{"records":[{"Timestamp":"2021-01-01T00:00:00","Name":"x","In":-1,"Out":0}]}}`))
			},
		}

		Convey("Then every failure is reported as no data", func() {
			for name, h := range handlers {
				c, srv := newTestClient(h)
				_, err := c.FetchDay(context.Background(), resource2021, day)
				srv.Close()
				So(errors.Is(err, domain.ErrNoDataAvailable), ShouldBeTrue)
				So(name, ShouldNotBeEmpty)
			}
		})

		Convey("And an unreachable portal too", func() {
			c, srv := newTestClient(func(http.ResponseWriter, *http.Request) {})
			srv.Close()
			_, err := c.FetchDay(context.Background(), resource2021, day)
			So(errors.Is(err, domain.ErrNoDataAvailable), ShouldBeTrue)
		})

		Convey("And a resource id that is not a UUID is never queried", func() {
			called := false
			c, srv := newTestClient(func(http.ResponseWriter, *http.Request) { called = true })
			defer srv.Close()
			_, err := c.FetchDay(context.Background(), `x" ; DROP TABLE`, day)
			So(errors.Is(err, domain.ErrNoDataAvailable), ShouldBeTrue)
			So(called, ShouldBeFalse)
		})
	})
}

func TestOpenDataGroups(t *testing.T) {
	Convey("Given a portal with grouped results", t, func() {
		var gotSQL string
		c, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
			gotSQL = r.URL.Query().Get("sql")
			if strings.Contains(gotSQL, "DATE_TRUNC") {
				_, _ = w.Write([]byte(`{"success":true,"result":{"records":[
					{"timestamp":"2021-01-04T00:00:00","in":"12.5","out":"10"},
					{"timestamp":"2021-01-11T00:00:00","in":null,"out":"8"}
				]}}`))
				return
			}
			_, _ = w.Write([]byte(`{"success":true,"result":{"records":[
				{"Name":"Ost-Nord total","in":100,"out":90}
			]}}`))
		})
		defer srv.Close()

		Convey("When the time group is fetched", func() {
			points, err := c.FetchTimeGroup(context.Background(), resource2021, domain.FrequencyWeek, domain.AggregationAvg)

			Convey("Then in and out are stacked per bucket, skipping gaps", func() {
				So(err, ShouldBeNil)
				So(points, ShouldHaveLength, 3)
				So(points[0].Direction, ShouldEqual, "in")
				So(points[0].Value, ShouldEqual, 12.5)
				So(points[1].Direction, ShouldEqual, "out")
				So(*points[2].Timestamp, ShouldEqual, time.Date(2021, 1, 11, 0, 0, 0, 0, time.UTC))
				So(gotSQL, ShouldContainSubstring, `DATE_TRUNC('WEEK',"Timestamp"::TIMESTAMP)`)
				So(gotSQL, ShouldContainSubstring, `AVG("In"::INT) AS in`)
			})
		})

		Convey("When the name group is fetched", func() {
			points, err := c.FetchNameGroup(context.Background(), resource2021, domain.AggregationSum)

			Convey("Then each location has an in and an out point", func() {
				So(err, ShouldBeNil)
				So(points, ShouldHaveLength, 2)
				So(points[0].Name, ShouldEqual, "Ost-Nord total")
				So(points[0].Timestamp, ShouldBeNil)
				So(points[1].Value, ShouldEqual, 90)
				So(gotSQL, ShouldContainSubstring, `SUM("Out"::INT) AS out`)
			})
		})

		Convey("When the parameters are not supported", func() {
			gotSQL = ""
			_, err := c.FetchTimeGroup(context.Background(), resource2021, "YEAR", domain.AggregationAvg)
			So(errors.Is(err, domain.ErrInvalidQuery), ShouldBeTrue)
			_, err = c.FetchNameGroup(context.Background(), resource2021, "MEDIAN")
			So(errors.Is(err, domain.ErrInvalidQuery), ShouldBeTrue)
			So(gotSQL, ShouldBeEmpty)
		})
	})
}
