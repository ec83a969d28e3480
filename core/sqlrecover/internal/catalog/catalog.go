// Package catalog loads the heuristic catalog: a built-in YAML document of
// per-table byte-pattern heuristics, merged with an optional user document
// where the user's entries win on duplicate keys.
package catalog

import (
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/FocuswithJustin/sqlrecover/core/sqlrecover/internal/recoverr"
)

// Heuristic is a compiled byte-pattern match rule for one table: the magic
// regex locates a candidate record-header start some fixed offset before
// the match. NameRegexp, when present, is an additional optional regex
// matched against live table names; callers that want that behavior read
// it directly, Lookup itself keys purely on grouping+table.
type Heuristic struct {
	Grouping   string
	Table      string
	Magic      *regexp.Regexp
	Offset     int
	NameRegexp *regexp.Regexp
}

// Catalog holds every loaded heuristic, keyed by grouping then table name.
type Catalog struct {
	groupings map[string]map[string]*Heuristic
}

// rawEntry mirrors one table's YAML entry: magic (a byte-regex pattern
// string), offset, and an optional name_regex matched against live table
// names.
type rawEntry struct {
	Magic     string `yaml:"magic"`
	Offset    *int   `yaml:"offset"`
	NameRegex string `yaml:"name_regex"`
}

type rawYAML map[string]map[string]rawEntry

// Load parses the built-in catalog document and, if userYAML is non-empty,
// merges a user document on top (user entries win on duplicate grouping+
// table keys). A malformed document, or any entry missing magic/offset or
// carrying a negative offset, is a fatal *recoverr.HeuristicLoadError.
func Load(builtinYAML, userYAML []byte) (*Catalog, error) {
	cat := &Catalog{groupings: make(map[string]map[string]*Heuristic)}

	built, err := parse(builtinYAML)
	if err != nil {
		return nil, &recoverr.HeuristicLoadError{Path: "builtin", Err: err}
	}
	merge(cat, built)

	if len(userYAML) > 0 {
		user, err := parse(userYAML)
		if err != nil {
			return nil, &recoverr.HeuristicLoadError{Path: "user", Err: err}
		}
		merge(cat, user)
	}

	return cat, nil
}

func parse(doc []byte) (map[string]map[string]*Heuristic, error) {
	var raw rawYAML
	if err := yaml.Unmarshal(doc, &raw); err != nil {
		return nil, fmt.Errorf("parsing heuristic YAML: %w", err)
	}

	out := make(map[string]map[string]*Heuristic, len(raw))
	for grouping, tables := range raw {
		group := make(map[string]*Heuristic, len(tables))
		for tableName, entry := range tables {
			if entry.Magic == "" {
				return nil, fmt.Errorf("grouping %q table %q: missing magic", grouping, tableName)
			}
			if entry.Offset == nil {
				return nil, fmt.Errorf("grouping %q table %q: missing offset", grouping, tableName)
			}
			if *entry.Offset < 0 {
				return nil, fmt.Errorf("grouping %q table %q: negative offset %d", grouping, tableName, *entry.Offset)
			}
			re, err := regexp.Compile(entry.Magic)
			if err != nil {
				return nil, fmt.Errorf("grouping %q table %q: bad magic regex: %w", grouping, tableName, err)
			}
			var nameRe *regexp.Regexp
			if entry.NameRegex != "" {
				nameRe, err = regexp.Compile(entry.NameRegex)
				if err != nil {
					return nil, fmt.Errorf("grouping %q table %q: bad name_regex: %w", grouping, tableName, err)
				}
			}
			group[tableName] = &Heuristic{
				Grouping:   grouping,
				Table:      tableName,
				Magic:      re,
				Offset:     *entry.Offset,
				NameRegexp: nameRe,
			}
		}
		out[grouping] = group
	}
	return out, nil
}

func merge(into *Catalog, from map[string]map[string]*Heuristic) {
	for grouping, tables := range from {
		dst, ok := into.groupings[grouping]
		if !ok {
			dst = make(map[string]*Heuristic)
			into.groupings[grouping] = dst
		}
		for name, h := range tables {
			dst[name] = h
		}
	}
}

// Lookup finds table's heuristic within grouping. If grouping is empty, it
// searches every grouping in sorted order and returns the first match.
func Lookup(cat *Catalog, table, grouping string) (*Heuristic, error) {
	if grouping != "" {
		group, ok := cat.groupings[grouping]
		if !ok {
			return nil, fmt.Errorf("grouping %q: %w", grouping, recoverr.ErrNoHeuristic)
		}
		h, ok := group[table]
		if !ok {
			return nil, fmt.Errorf("table %q in grouping %q: %w", table, grouping, recoverr.ErrNoHeuristic)
		}
		return h, nil
	}

	for _, g := range Groupings(cat) {
		if h, ok := cat.groupings[g][table]; ok {
			return h, nil
		}
	}
	return nil, fmt.Errorf("table %q: %w", table, recoverr.ErrNoHeuristic)
}

// Groupings returns every grouping name, sorted, for deterministic
// no-grouping-specified search order and for CLI listing.
func Groupings(cat *Catalog) []string {
	names := make([]string, 0, len(cat.groupings))
	for g := range cat.groupings {
		names = append(names, g)
	}
	sort.Strings(names)
	return names
}
