package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestMLBridge(t *testing.T) {
	Convey("Given a model service", t, func() {
		var got predictRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/health":
				w.WriteHeader(http.StatusOK)
			case "/predict":
				_ = json.NewDecoder(r.Body).Decode(&got)
				out := predictResponse{Predictions: make([]float64, len(got.Features))}
				for i, f := range got.Features {
					out.Predictions[i] = f[1] * 2
				}
				_ = json.NewEncoder(w).Encode(out)
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}))
		defer srv.Close()
		bridge := NewMLBridge(srv.URL + "/")

		Convey("When features are predicted", func() {
			out, err := bridge.Predict(context.Background(), [][]float64{{2021, 3}, {2021, 7}})

			Convey("Then all vectors go in one request", func() {
				So(err, ShouldBeNil)
				So(got.Features, ShouldHaveLength, 2)
				So(out, ShouldResemble, []float64{6, 14})
			})
		})

		Convey("Then the health check passes", func() {
			So(bridge.Health(context.Background()), ShouldBeNil)
		})
	})

	Convey("Given a failing model service", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "model not loaded", http.StatusServiceUnavailable)
		}))
		defer srv.Close()
		bridge := NewMLBridge(srv.URL)

		Convey("Then the error is returned instead of fallback values", func() {
			out, err := bridge.Predict(context.Background(), [][]float64{{1}})
			So(out, ShouldBeNil)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "model not loaded")
			So(bridge.Health(context.Background()), ShouldNotBeNil)
		})
	})
}
