package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// providerSection is the table holding named provider sections.
const providerSection = "provider"

// knownKeys maps each section (empty for top level) to its valid keys.
var knownKeys = map[string][]string{
	"":               {"default_provider", "logging", "transfers", "auth", "journal", "metrics", "network", "provider"},
	"logging":        {"level", "format", "file"},
	"transfers":      {"poll_interval", "watch_files", "max_concurrency"},
	"auth":           {"token_dir", "callback_port", "timeout"},
	"journal":        {"enabled", "path"},
	"metrics":        {"textfile"},
	"network":        {"connect_timeout", "data_timeout"},
	providerSection: {"kind", "client_id", "tenant", "drive_id", "base_url", "uri"},
}

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns an
// error with a "did you mean?" suggestion for each.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	for _, key := range md.Undecoded() {
		errs = append(errs, unknownKeyError(key))
	}

	return errors.Join(errs...)
}

func unknownKeyError(key toml.Key) error {
	section, field := "", key[len(key)-1]

	switch {
	case len(key) >= 3 && key[0] == providerSection:
		section = providerSection
		field = key[2]
	case len(key) >= 2:
		section = key[0]
		field = key[1]
	}

	where := ""
	if section != "" {
		where = fmt.Sprintf(" in [%s]", strings.Join(key[:len(key)-1], "."))
	}

	if suggestion := closestMatch(field, knownKeys[section]); suggestion != "" {
		return fmt.Errorf("unknown config key %q%s, did you mean %q?", field, where, suggestion)
	}

	return fmt.Errorf("unknown config key %q%s", field, where)
}

// closestMatch finds the closest known key by Levenshtein distance. Ties go
// to the alphabetically first key. Returns "" if nothing is close enough.
func closestMatch(unknown string, known []string) string {
	sorted := slices.Sorted(slices.Values(known))

	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range sorted {
		if d := levenshtein(unknown, k); d < bestDist {
			bestDist = d
			best = k
		}
	}

	return best
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
