// Package dataset holds a read-only copy of the Hardbrücke counting data.
package dataset

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"github.com/smartcity/hardbruecke/internal/domain"
	"github.com/smartcity/hardbruecke/pkg/utils"
)

// Column names of the wide CSV export
const (
	ColumnTimestamp = "Timestamp"
	ColumnName      = "Name"
	ColumnIn        = "In"
	ColumnOut       = "Out"
)

// Dataset is an immutable set of wide records indexed by calendar day.
// Every accessor returns a copy, so request handlers may modify what they get.
type Dataset struct {
	records []domain.RawRecord
	byDay   map[string][]int
}

// New indexes records. The slice is copied.
func New(records []domain.RawRecord) *Dataset {
	d := &Dataset{
		records: make([]domain.RawRecord, len(records)),
		byDay:   make(map[string][]int),
	}
	copy(d.records, records)
	for i, rec := range d.records {
		key := utils.FormatDay(rec.Timestamp)
		d.byDay[key] = append(d.byDay[key], i)
	}
	return d
}

// LoadCSV reads a wide CSV export from path
func LoadCSV(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: failed to open %s: %w", path, err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadCSV reads a wide CSV export with Timestamp, Name, In and Out columns.
// Other columns are ignored.
func ReadCSV(r io.Reader) (*Dataset, error) {
	df := dataframe.ReadCSV(r,
		dataframe.HasHeader(true),
		dataframe.WithTypes(map[string]series.Type{
			ColumnTimestamp: series.String,
			ColumnName:      series.String,
			ColumnIn:        series.Int,
			ColumnOut:       series.Int,
		}),
	)
	if df.Err != nil {
		return nil, fmt.Errorf("dataset: failed to read csv: %w", df.Err)
	}

	df = df.Select([]string{ColumnTimestamp, ColumnName, ColumnIn, ColumnOut})
	if df.Err != nil {
		return nil, fmt.Errorf("dataset: missing column: %w", df.Err)
	}

	timestamps := df.Col(ColumnTimestamp).Records()
	names := df.Col(ColumnName).Records()
	ins, err := df.Col(ColumnIn).Int()
	if err != nil {
		return nil, fmt.Errorf("dataset: invalid %s column: %w", ColumnIn, err)
	}
	outs, err := df.Col(ColumnOut).Int()
	if err != nil {
		return nil, fmt.Errorf("dataset: invalid %s column: %w", ColumnOut, err)
	}

	records := make([]domain.RawRecord, df.Nrow())
	for i := range records {
		ts, err := utils.ParseTimestamp(timestamps[i])
		if err != nil {
			return nil, fmt.Errorf("dataset: row %d: %w", i+1, err)
		}
		if ins[i] < 0 || outs[i] < 0 {
			return nil, fmt.Errorf("dataset: row %d: negative count", i+1)
		}
		records[i] = domain.RawRecord{Timestamp: ts, Name: names[i], In: ins[i], Out: outs[i]}
	}
	return New(records), nil
}

// Len returns the number of records
func (d *Dataset) Len() int {
	return len(d.records)
}

// Day returns a copy of the records of one calendar day in file order
func (d *Dataset) Day(day time.Time) []domain.RawRecord {
	idx := d.byDay[utils.FormatDay(day)]
	out := make([]domain.RawRecord, len(idx))
	for i, j := range idx {
		out[i] = d.records[j]
	}
	return out
}

// Days lists the calendar days present, oldest first
func (d *Dataset) Days() []string {
	days := make([]string, 0, len(d.byDay))
	for day := range d.byDay {
		days = append(days, day)
	}
	sort.Strings(days)
	return days
}
