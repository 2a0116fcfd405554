package benchmark

import (
	"regexp"
	"strings"
)

// DefaultJurisdiction is used when a run has no state filter.
const DefaultJurisdiction = "CA"

var jurisdictions = map[string]string{
	"AL": "Alabama", "AK": "Alaska", "AZ": "Arizona", "AR": "Arkansas", "CA": "California",
	"CO": "Colorado", "CT": "Connecticut", "DE": "Delaware", "DC": "District of Columbia", "FL": "Florida",
	"GA": "Georgia", "HI": "Hawaii", "ID": "Idaho", "IL": "Illinois", "IN": "Indiana",
	"IA": "Iowa", "KS": "Kansas", "KY": "Kentucky", "LA": "Louisiana", "ME": "Maine",
	"MD": "Maryland", "MA": "Massachusetts", "MI": "Michigan", "MN": "Minnesota", "MS": "Mississippi",
	"MO": "Missouri", "MT": "Montana", "NE": "Nebraska", "NV": "Nevada", "NH": "New Hampshire",
	"NJ": "New Jersey", "NM": "New Mexico", "NY": "New York", "NC": "North Carolina", "ND": "North Dakota",
	"OH": "Ohio", "OK": "Oklahoma", "OR": "Oregon", "PA": "Pennsylvania", "RI": "Rhode Island",
	"SC": "South Carolina", "SD": "South Dakota", "TN": "Tennessee", "TX": "Texas", "UT": "Utah",
	"VT": "Vermont", "VA": "Virginia", "WA": "Washington", "WV": "West Virginia", "WI": "Wisconsin",
	"WY": "Wyoming",
}

var statePlaceholder = regexp.MustCompile(`\{\{\s*state\s*\}\}`)

// ResolveJurisdiction maps a state filter to its code and full name. It
// accepts two-letter codes and full names in any case. An empty filter yields
// the default jurisdiction; an unrecognized one is used verbatim.
func ResolveJurisdiction(filter string) (code, name string) {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return DefaultJurisdiction, jurisdictions[DefaultJurisdiction]
	}
	upper := strings.ToUpper(filter)
	if name, ok := jurisdictions[upper]; ok {
		return upper, name
	}
	for code, name := range jurisdictions {
		if strings.EqualFold(name, filter) {
			return code, name
		}
	}
	return filter, filter
}

// ResolvePrompt replaces every {{state}} placeholder in text with the full
// name of the filter's jurisdiction.
func ResolvePrompt(text, stateFilter string) string {
	if !statePlaceholder.MatchString(text) {
		return text
	}
	_, name := ResolveJurisdiction(stateFilter)
	return statePlaceholder.ReplaceAllLiteralString(text, name)
}
