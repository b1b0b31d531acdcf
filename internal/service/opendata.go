package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/smartcity/hardbruecke/internal/domain"
	"github.com/smartcity/hardbruecke/pkg/logger"
	"github.com/smartcity/hardbruecke/pkg/metrics"
	"github.com/smartcity/hardbruecke/pkg/utils"
)

// DefaultOpenDataURL is the SQL endpoint of the Zurich open data portal
const DefaultOpenDataURL = "https://data.stadt-zuerich.ch/api/3/action/datastore_search_sql"

// Query kinds used as metric labels
const (
	queryDay       = "day"
	queryTimeGroup = "time_group"
	queryNameGroup = "name_group"
)

// DayFetcher loads the raw records of one day
type DayFetcher interface {
	FetchDay(ctx context.Context, resource string, day time.Time) ([]domain.RawRecord, error)
}

// AggregateFetcher runs the grouped history queries
type AggregateFetcher interface {
	FetchTimeGroup(ctx context.Context, resource string, frequency domain.Frequency, aggregation domain.Aggregation) ([]domain.AggregatePoint, error)
	FetchNameGroup(ctx context.Context, resource string, aggregation domain.Aggregation) ([]domain.AggregatePoint, error)
}

// OpenDataClient queries the CKAN datastore of the open data portal.
// Every failure to obtain rows is reported as domain.ErrNoDataAvailable.
type OpenDataClient struct {
	baseURL    string
	httpClient *http.Client
	log        logger.Logger
	metrics    *metrics.Manager
}

// OpenDataOption configures an OpenDataClient
type OpenDataOption func(*OpenDataClient)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(c *http.Client) OpenDataOption {
	return func(o *OpenDataClient) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithOpenDataLogger sets the client logger
func WithOpenDataLogger(l logger.Logger) OpenDataOption {
	return func(o *OpenDataClient) {
		if l != nil {
			o.log = l
		}
	}
}

// WithOpenDataMetrics sets the metrics manager
func WithOpenDataMetrics(m *metrics.Manager) OpenDataOption {
	return func(o *OpenDataClient) {
		if m != nil {
			o.metrics = m
		}
	}
}

// NewOpenDataClient creates a client for the datastore_search_sql endpoint
func NewOpenDataClient(baseURL string, timeout time.Duration, opts ...OpenDataOption) *OpenDataClient {
	if baseURL == "" {
		baseURL = DefaultOpenDataURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &OpenDataClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		log:        logger.Named("opendata"),
		metrics:    metrics.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// datastoreResponse is the CKAN action envelope
type datastoreResponse struct {
	Success bool `json:"success"`
	Result  struct {
		Records json.RawMessage `json:"records"`
	} `json:"result"`
	Error json.RawMessage `json:"error"`
}

// flexNumber decodes numbers the datastore returns either as JSON numbers or
// as strings, depending on the column type of the resource. A string that is
// not a number leaves the value invalid and keeps it in Raw.
type flexNumber struct {
	Value float64
	Valid bool
	Raw   string
}

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*n = flexNumber{}
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*n = flexNumber{}
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*n = flexNumber{Raw: s}
			return nil
		}
		*n = flexNumber{Value: v, Valid: true}
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*n = flexNumber{Value: v, Valid: true}
	return nil
}

func (n flexNumber) count() (int, error) {
	if !n.Valid {
		if n.Raw != "" {
			return 0, fmt.Errorf("invalid number %q", n.Raw)
		}
		return 0, errors.New("missing count")
	}
	if n.Value < 0 || n.Value != math.Trunc(n.Value) {
		return 0, fmt.Errorf("invalid count %v", n.Value)
	}
	return int(n.Value), nil
}

type dayRecord struct {
	Timestamp string     `json:"Timestamp"`
	Name      string     `json:"Name"`
	In        flexNumber `json:"In"`
	Out       flexNumber `json:"Out"`
}

type timeGroupRecord struct {
	Timestamp string     `json:"timestamp"`
	In        flexNumber `json:"in"`
	Out       flexNumber `json:"out"`
}

type nameGroupRecord struct {
	Name string     `json:"Name"`
	In   flexNumber `json:"in"`
	Out  flexNumber `json:"out"`
}

// FetchDay returns the records of one calendar day in API order. Rows that
// cannot be decoded are skipped; a day without a single valid row is no data.
func (c *OpenDataClient) FetchDay(ctx context.Context, resource string, day time.Time) ([]domain.RawRecord, error) {
	if err := validateResource(resource); err != nil {
		return nil, c.noData(ctx, queryDay, time.Now(), err)
	}
	sql := fmt.Sprintf(`SELECT "Timestamp","Name","In","Out" FROM "%s" WHERE "Timestamp"::TIMESTAMP::DATE='%s'`,
		resource, utils.FormatDay(day))

	start := time.Now()
	var rows []dayRecord
	if err := c.query(ctx, sql, &rows); err != nil {
		return nil, c.noData(ctx, queryDay, start, err)
	}

	records := make([]domain.RawRecord, 0, len(rows))
	skipped := 0
	for i, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			skipped++
			c.log.Warn(ctx, "skipping invalid record",
				logger.Int("index", i),
				logger.String("name", row.Name),
				logger.String("timestamp", row.Timestamp),
				logger.Error(err))
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, c.noData(ctx, queryDay, start, fmt.Errorf("all %d records invalid", skipped))
	}
	c.metrics.RecordOpenDataFetch(queryDay, metrics.OutcomeOK, time.Since(start))
	return records, nil
}

func (r dayRecord) toRecord() (domain.RawRecord, error) {
	ts, err := utils.ParseTimestamp(r.Timestamp)
	if err != nil {
		return domain.RawRecord{}, err
	}
	in, err := r.In.count()
	if err != nil {
		return domain.RawRecord{}, fmt.Errorf("In: %w", err)
	}
	out, err := r.Out.count()
	if err != nil {
		return domain.RawRecord{}, fmt.Errorf("Out: %w", err)
	}
	return domain.RawRecord{Timestamp: ts, Name: r.Name, In: in, Out: out}, nil
}

// FetchTimeGroup aggregates the whole resource per truncated timestamp
func (c *OpenDataClient) FetchTimeGroup(ctx context.Context, resource string, frequency domain.Frequency, aggregation domain.Aggregation) ([]domain.AggregatePoint, error) {
	freq, err := domain.ParseFrequency(string(frequency))
	if err != nil {
		return nil, err
	}
	agg, err := domain.ParseAggregation(string(aggregation))
	if err != nil {
		return nil, err
	}
	if err := validateResource(resource); err != nil {
		return nil, c.noData(ctx, queryTimeGroup, time.Now(), err)
	}
	sql := fmt.Sprintf(`SELECT DATE_TRUNC('%s',"Timestamp"::TIMESTAMP) AS timestamp,%s("In"::INT) AS in,%s("Out"::INT) AS out FROM "%s" GROUP BY 1 ORDER BY 1`,
		freq, agg, agg, resource)

	start := time.Now()
	var rows []timeGroupRecord
	if err := c.query(ctx, sql, &rows); err != nil {
		return nil, c.noData(ctx, queryTimeGroup, start, err)
	}

	points := make([]domain.AggregatePoint, 0, 2*len(rows))
	for _, row := range rows {
		ts, err := utils.ParseTimestamp(row.Timestamp)
		if err != nil {
			return nil, c.noData(ctx, queryTimeGroup, start, err)
		}
		points = appendStacked(points, &ts, "", row.In, row.Out)
	}
	c.metrics.RecordOpenDataFetch(queryTimeGroup, metrics.OutcomeOK, time.Since(start))
	return points, nil
}

// FetchNameGroup aggregates the whole resource per counting line
func (c *OpenDataClient) FetchNameGroup(ctx context.Context, resource string, aggregation domain.Aggregation) ([]domain.AggregatePoint, error) {
	agg, err := domain.ParseAggregation(string(aggregation))
	if err != nil {
		return nil, err
	}
	if err := validateResource(resource); err != nil {
		return nil, c.noData(ctx, queryNameGroup, time.Now(), err)
	}
	sql := fmt.Sprintf(`SELECT "Name",%s("In"::INT) AS in,%s("Out"::INT) AS out FROM "%s" GROUP BY 1 ORDER BY 1`,
		agg, agg, resource)

	start := time.Now()
	var rows []nameGroupRecord
	if err := c.query(ctx, sql, &rows); err != nil {
		return nil, c.noData(ctx, queryNameGroup, start, err)
	}

	points := make([]domain.AggregatePoint, 0, 2*len(rows))
	for _, row := range rows {
		points = appendStacked(points, nil, row.Name, row.In, row.Out)
	}
	c.metrics.RecordOpenDataFetch(queryNameGroup, metrics.OutcomeOK, time.Since(start))
	return points, nil
}

// appendStacked emits the in and out values of one grouped row, rounded to
// two places. Groups without a value are skipped.
func appendStacked(points []domain.AggregatePoint, ts *time.Time, name string, in, out flexNumber) []domain.AggregatePoint {
	for _, col := range []struct {
		direction string
		value     flexNumber
	}{{"in", in}, {"out", out}} {
		if !col.value.Valid {
			continue
		}
		points = append(points, domain.AggregatePoint{
			Timestamp: ts,
			Name:      name,
			Direction: col.direction,
			Value:     utils.RoundTo(col.value.Value, 2),
		})
	}
	return points
}

// query runs sql and decodes the result records into dst. An empty record
// list is an error.
func (c *OpenDataClient) query(ctx context.Context, sql string, dst any) error {
	endpoint := c.baseURL + "?" + url.Values{"sql": {sql}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("opendata: failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("opendata: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("opendata: unexpected status %d", resp.StatusCode)
	}

	var envelope datastoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("opendata: failed to decode response: %w", err)
	}
	if !envelope.Success {
		return fmt.Errorf("opendata: query rejected: %s", string(envelope.Error))
	}
	if isEmpty(envelope.Result.Records) {
		return errNoRecords
	}
	if err := json.Unmarshal(envelope.Result.Records, dst); err != nil {
		return fmt.Errorf("opendata: failed to decode records: %w", err)
	}
	return nil
}

var errNoRecords = errors.New("opendata: no records")

func isEmpty(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("[]")) || bytes.Equal(trimmed, []byte("null"))
}

func validateResource(resource string) error {
	if _, err := uuid.Parse(resource); err != nil {
		return fmt.Errorf("opendata: invalid resource id %q", resource)
	}
	return nil
}

// noData logs cause and reports it as the no-data state
func (c *OpenDataClient) noData(ctx context.Context, query string, start time.Time, cause error) error {
	outcome := metrics.OutcomeError
	if errors.Is(cause, errNoRecords) {
		outcome = metrics.OutcomeNoData
	}
	c.metrics.RecordOpenDataFetch(query, outcome, time.Since(start))
	c.log.Warn(ctx, "open data query returned no data",
		logger.String("query", query),
		logger.Error(cause))
	return fmt.Errorf("%w: %v", domain.ErrNoDataAvailable, cause)
}
