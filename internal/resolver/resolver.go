// Package resolver expands indirect references in a new segment into literal
// values. It runs once per segment, before the segment is persisted.
package resolver

import (
	"context"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/DavidJBarnes/wanly-api/internal/domain"
)

var placeholderRegexp = regexp.MustCompile(`<([A-Za-z0-9_-]+)>`)

// Resolver substitutes prompt placeholders and catalog modifier references.
type Resolver struct {
	catalog domain.Catalog
	pick    func(n int) int
}

// New constructs a Resolver that picks options uniformly at random.
func New(catalog domain.Catalog) *Resolver {
	return &Resolver{catalog: catalog, pick: rand.IntN}
}

// WithPicker replaces the random choice function, for tests.
func (r *Resolver) WithPicker(pick func(n int) int) *Resolver {
	if r != nil && pick != nil {
		r.pick = pick
	}
	return r
}

// Placeholders returns the distinct placeholder names in order of first appearance.
func Placeholders(prompt string) []string {
	matches := placeholderRegexp.FindAllStringSubmatch(prompt, -1)
	seen := make(map[string]struct{}, len(matches))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		names = append(names, m[1])
	}
	return names
}

// ResolvePrompt replaces every <name> token that has a non-empty option list
// with one random option. The returned template is the pre-substitution
// text when at least one token was found, nil otherwise.
func (r *Resolver) ResolvePrompt(ctx context.Context, prompt string) (string, *string, error) {
	prompt = norm.NFC.String(prompt)
	names := Placeholders(prompt)
	if len(names) == 0 {
		return prompt, nil, nil
	}
	options, err := r.catalog.LookupOptionLists(ctx, names)
	if err != nil {
		return "", nil, fmt.Errorf("%w: lookup option lists: %v", domain.ErrUpstreamIO, err)
	}
	template := prompt
	resolved := prompt
	for _, name := range names {
		choices := options[name]
		if len(choices) == 0 {
			continue
		}
		choice := choices[r.pick(len(choices))]
		resolved = strings.ReplaceAll(resolved, "<"+name+">", choice)
	}
	return resolved, &template, nil
}

// ResolveModifiers expands catalog slots with canonical file locations and
// weights. Caller weights win over catalog defaults. Legacy slots pass through.
func (r *Resolver) ResolveModifiers(ctx context.Context, slots domain.ModifierSlots) (domain.ModifierSlots, error) {
	if slots == nil {
		return nil, nil
	}
	out := make(domain.ModifierSlots, 0, len(slots))
	for _, slot := range slots {
		if !slot.IsCatalog() {
			out = append(out, slot)
			continue
		}
		mod, err := r.catalog.LookupModifier(ctx, slot.Catalog.ModifierID)
		if err != nil {
			return nil, fmt.Errorf("modifier %s: %w", slot.Catalog.ModifierID, err)
		}
		resolved := domain.CatalogSlot{
			ModifierID: slot.Catalog.ModifierID,
			HighFile:   mod.HighFile,
			HighURI:    mod.HighURI,
			LowFile:    mod.LowFile,
			LowURI:     mod.LowURI,
			HighWeight: weightOr(slot.Catalog.HighWeight, mod.DefaultHighWeight),
			LowWeight:  weightOr(slot.Catalog.LowWeight, mod.DefaultLowWeight),
		}
		out = append(out, domain.ModifierSlot{Catalog: &resolved})
	}
	return out, nil
}

func weightOr(override *float64, fallback float64) *float64 {
	if override != nil {
		v := *override
		return &v
	}
	return &fallback
}
