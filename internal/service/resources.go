package service

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/smartcity/hardbruecke/internal/domain"
)

// Resources maps a year to the open data resource holding its counts
type Resources map[string]string

// DefaultResources are the published Hardbrücke datasets
func DefaultResources() Resources {
	return Resources{
		"2020": "5baeaf58-9af2-4a39-a357-9063ca450893",
		"2021": "2f27e464-4910-46bf-817b-a9bac19f86f3",
		"2022": "a0c89c3e-72e7-4cbe-965a-efa16b3ecd5f",
	}
}

// Lookup returns the resource id of year
func (r Resources) Lookup(year string) (string, error) {
	id, ok := r[year]
	if !ok {
		return "", fmt.Errorf("%w %s", domain.ErrUnknownResource, year)
	}
	return id, nil
}

// ForDay returns the resource id covering day
func (r Resources) ForDay(day time.Time) (string, error) {
	return r.Lookup(strconv.Itoa(day.Year()))
}

// Years lists the configured years in ascending order
func (r Resources) Years() []string {
	years := make([]string, 0, len(r))
	for y := range r {
		years = append(years, y)
	}
	sort.Strings(years)
	return years
}

// Validate checks that every resource id is a UUID. Ids are interpolated
// into SQL, so nothing else may pass.
func (r Resources) Validate() error {
	for year, id := range r {
		if _, err := uuid.Parse(id); err != nil {
			return fmt.Errorf("resource for %s: invalid id %q: %w", year, id, err)
		}
	}
	return nil
}
