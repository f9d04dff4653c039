package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal with "did you mean?" suggestions:
// silently ignoring a typo in a config file leads to hard-to-debug behavior.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with all default values, supporting a zero-config first
// run.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// knownKeys are all valid dotted key paths in the config file.
var knownKeys = map[string]bool{
	"drive.base_url": true, "drive.token_url": true,
	"drive.client_id": true, "drive.client_secret": true,
	"drive.request_timeout": true, "drive.fanout": true,
	"token.validity_window": true, "token.refresh_margin": true,
	"db.path":           true,
	"logging.log_level": true,
	"fieldmap.version":  true, "fieldmap.remote_id_column": true,
	"fieldmap.root_drive_column": true,
}

// knownKeysList is the sorted slice form of knownKeys, for deterministic
// suggestion order when two candidates have the same edit distance.
var knownKeysList = func() []string {
	keys := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}()

// maxSuggestionDistance is the maximum edit distance for "did you mean?"
// suggestions on unknown keys.
const maxSuggestionDistance = 3

// checkUnknownKeys rejects any key the decoder could not map to a field.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	for _, key := range md.Undecoded() {
		name := key.String()

		msg := fmt.Sprintf("unknown config key %q", name)
		if suggestion := closestKey(name); suggestion != "" {
			msg += fmt.Sprintf(" (did you mean %q?)", suggestion)
		}

		errs = append(errs, errors.New(msg))
	}

	return errors.Join(errs...)
}

// closestKey returns the known key nearest to name within the suggestion
// distance, or "".
func closestKey(name string) string {
	best := ""
	bestDist := maxSuggestionDistance + 1

	for _, candidate := range knownKeysList {
		d := levenshtein(strings.ToLower(name), candidate)
		if d < bestDist {
			best = candidate
			bestDist = d
		}
	}

	if bestDist > maxSuggestionDistance {
		return ""
	}

	return best
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}

	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i

		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}

			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}

		prev, curr = curr, prev
	}

	return prev[len(rb)]
}
