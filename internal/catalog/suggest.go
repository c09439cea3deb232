package catalog

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const defaultSuggestLimit = 10

// Suggest returns up to limit distinct titles matching query after case and
// accent folding. Prefix matches come first, then substring matches, each in
// row order.
func (c *Catalog) Suggest(query string, limit int) []string {
	needle := foldTitle(query)
	if needle == "" {
		return nil
	}
	if limit <= 0 {
		limit = defaultSuggestLimit
	}

	seen := make(map[string]struct{}, limit)
	out := make([]string, 0, limit)
	collect := func(match func(string) bool) {
		for index, folded := range c.folded {
			if len(out) >= limit {
				return
			}
			if !match(folded) {
				continue
			}
			title := c.movies[index].Title
			if _, dup := seen[title]; dup {
				continue
			}
			seen[title] = struct{}{}
			out = append(out, title)
		}
	}
	collect(func(folded string) bool { return strings.HasPrefix(folded, needle) })
	collect(func(folded string) bool {
		return !strings.HasPrefix(folded, needle) && strings.Contains(folded, needle)
	})
	return out
}

// foldTitle strips diacritics, folds case and collapses whitespace.
// Transformers keep state, so a fresh chain is built per call.
func foldTitle(title string) string {
	chain := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(chain, title)
	if err != nil {
		stripped = title
	}
	return strings.Join(strings.Fields(cases.Fold().String(stripped)), " ")
}
