package roster

import (
	"bufio"
	"embed"
	"strings"

	"github.com/pkg/errors"

	"github.com/halftime/fantasy-market/internal/valuation"
)

//go:embed words/*.txt
var wordsFS embed.FS

// NameGenerator produces names for generated teams and players and knows
// which country names are accepted on profile updates.
type NameGenerator interface {
	TeamName() string
	FirstName() string
	LastName() string
	Country() string

	// CanonicalCountry matches name case-insensitively, ignoring surrounding
	// whitespace, and returns the list's spelling.
	CanonicalCountry(name string) (string, bool)
}

// WordLists draws names uniformly from the embedded word lists.
type WordLists struct {
	rng       valuation.RandomSource
	teams     []string
	first     []string
	last      []string
	countries []string
	byLower   map[string]string
}

// NewWordLists loads the embedded lists. rng must be safe for concurrent
// use; a *valuation.Policy is.
func NewWordLists(rng valuation.RandomSource) (*WordLists, error) {
	w := &WordLists{rng: rng, byLower: make(map[string]string)}
	for _, f := range []struct {
		name string
		dst  *[]string
	}{
		{"words/team_names.txt", &w.teams},
		{"words/first_names.txt", &w.first},
		{"words/last_names.txt", &w.last},
		{"words/countries.txt", &w.countries},
	} {
		lines, err := readLines(f.name)
		if err != nil {
			return nil, err
		}
		*f.dst = lines
	}
	for _, c := range w.countries {
		w.byLower[strings.ToLower(c)] = c
	}
	return w, nil
}

func (w *WordLists) TeamName() string  { return w.pick(w.teams) }
func (w *WordLists) FirstName() string { return w.pick(w.first) }
func (w *WordLists) LastName() string  { return w.pick(w.last) }
func (w *WordLists) Country() string   { return w.pick(w.countries) }

func (w *WordLists) CanonicalCountry(name string) (string, bool) {
	c, ok := w.byLower[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}

func (w *WordLists) pick(list []string) string {
	return list[w.rng.IntN(len(list))]
}

func readLines(name string) ([]string, error) {
	f, err := wordsFS.Open(name)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", name)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, "read %s", name)
	}
	if len(lines) == 0 {
		return nil, errors.Errorf("%s is empty", name)
	}
	return lines, nil
}
