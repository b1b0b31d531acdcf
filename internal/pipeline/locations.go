package pipeline

import (
	"strings"

	"github.com/smartcity/hardbruecke/internal/domain"
)

// LocationTable maps counting-line names to the integer codes the model was
// trained with. Alias spellings are resolved before the lookup, never by
// falling back to a default code.
type LocationTable struct {
	codes     map[string]uint8
	aliases   map[string]string
	display   []string
	displayOf map[string]string
}

// Location is one canonical entry of a LocationTable
type Location struct {
	Name string
	Code uint8
	// Display is the spelling used by the open data API and the dashboard
	Display string
}

// HardbrueckeLocations are the counting lines at the Hardbrücke stop in
// dashboard order.
var HardbrueckeLocations = []Location{
	{Name: "Ost-Süd total", Code: 0, Display: "Ost-Sd total"},
	{Name: "Ost-Nord total", Code: 1, Display: "Ost-Nord total"},
	{Name: "Ost-SBB total", Code: 2, Display: "Ost-SBB total"},
	{Name: "West-SBB total", Code: 3, Display: "West-SBB total"},
	{Name: "West-Süd total", Code: 4, Display: "West-Sd total"},
	{Name: "Ost-VBZ Total", Code: 5, Display: "Ost-VBZ Total"},
	{Name: "West-Nord total", Code: 6, Display: "West-Nord total"},
	{Name: "West-VBZ total", Code: 7, Display: "West-VBZ total"},
}

// NewLocationTable builds a table from canonical entries. For every name with
// an "ü", the API's broken spellings ("u", dropped, decomposed) are
// registered as aliases, as well as the replacement-character
// spelling left behind by mis-decoded responses.
func NewLocationTable(locations []Location) *LocationTable {
	t := &LocationTable{
		codes:     make(map[string]uint8, len(locations)),
		aliases:   make(map[string]string),
		display:   make([]string, 0, len(locations)),
		displayOf: make(map[string]string, len(locations)),
	}
	for _, loc := range locations {
		t.codes[loc.Name] = loc.Code
		if strings.Contains(loc.Name, "ü") {
			for _, repl := range []string{"u", "", "u\u0308", "\ufffd"} {
				t.aliases[strings.ReplaceAll(loc.Name, "ü", repl)] = loc.Name
			}
		}
		if loc.Display != "" && loc.Display != loc.Name {
			t.aliases[loc.Display] = loc.Name
		}
		display := loc.Display
		if display == "" {
			display = loc.Name
		}
		t.display = append(t.display, display)
		t.displayOf[loc.Name] = display
	}
	return t
}

// DefaultLocations returns the Hardbrücke table
func DefaultLocations() *LocationTable {
	return NewLocationTable(HardbrueckeLocations)
}

// Normalize maps an alias to its canonical name. Unknown names are returned unchanged.
func (t *LocationTable) Normalize(name string) string {
	if canonical, ok := t.aliases[name]; ok {
		return canonical
	}
	return name
}

// Code returns the model code for name or an UnknownLocationError
func (t *LocationTable) Code(name string) (uint8, error) {
	code, ok := t.codes[t.Normalize(name)]
	if !ok {
		return 0, &domain.UnknownLocationError{Name: name}
	}
	return code, nil
}

// DisplayNames lists the location spellings offered to the dashboard
func (t *LocationTable) DisplayNames() []string {
	names := make([]string, len(t.display))
	copy(names, t.display)
	return names
}

// DisplayName resolves any known spelling of a location to the spelling the
// open data API uses for it.
func (t *LocationTable) DisplayName(name string) (string, error) {
	display, ok := t.displayOf[t.Normalize(name)]
	if !ok {
		return "", &domain.UnknownLocationError{Name: name}
	}
	return display, nil
}
