// Package catalog holds the closed product catalog: credit costs per
// (category, tier) and the purchasable credit packs. The catalog is
// validated once at startup; an incomplete table is a deployment error,
// not something to discover per-request.
package catalog

import (
	"fmt"

	"github.com/ghostwriter/ghostwriter-api/internal/domain"
)

// Product categories.
const (
	CategoryFiction   = "fiction"
	CategoryBiography = "biography"
	CategoryExtra     = "extra"
)

// Extra types.
const (
	ExtraEbookCover = "ebook_cover"
	ExtraPrintCover = "print_cover"
	ExtraEpubExport = "epub_export"
	ExtraMobiExport = "mobi_export"
	ExtraKDPPDF     = "kdp_pdf"
	ExtraBlurb      = "blurb"
	ExtraAuthorBio  = "author_bio"
)

// Pack describes one purchasable credit pack.
type Pack struct {
	Name       string
	PriceCents int64
	Credits    int64
	Bonus      int64 // bonus percent baked into Credits, display only
}

// Catalog is the validated cost table plus pack definitions.
type Catalog struct {
	costs map[string]map[string]int64
	packs map[string]Pack
}

// tiers lists every valid tier per category; Validate checks the cost
// table covers exactly these.
var tiers = map[string][]string{
	CategoryFiction: {
		domain.FictionSample, domain.FictionNovella, domain.FictionNovel,
	},
	CategoryBiography: {
		domain.BiographySample, domain.BiographyShortMemoir,
		domain.BiographyStandard, domain.BiographyComprehensive,
	},
	CategoryExtra: {
		ExtraEbookCover, ExtraPrintCover, ExtraEpubExport,
		ExtraMobiExport, ExtraKDPPDF, ExtraBlurb, ExtraAuthorBio,
	},
}

// Default returns the production catalog.
func Default() *Catalog {
	return &Catalog{
		costs: map[string]map[string]int64{
			CategoryFiction: {
				domain.FictionSample:  0,
				domain.FictionNovella: 50,
				domain.FictionNovel:   100,
			},
			CategoryBiography: {
				domain.BiographySample:        0,
				domain.BiographyShortMemoir:   50,
				domain.BiographyStandard:      75,
				domain.BiographyComprehensive: 125,
			},
			CategoryExtra: {
				ExtraEbookCover: 10,
				ExtraPrintCover: 15,
				ExtraEpubExport: 5,
				ExtraMobiExport: 5,
				ExtraKDPPDF:     10,
				ExtraBlurb:      5,
				ExtraAuthorBio:  3,
			},
		},
		packs: map[string]Pack{
			"micro":    {Name: "Micro Top-Up", PriceCents: 500, Credits: 20},
			"small":    {Name: "Small Top-Up", PriceCents: 1000, Credits: 40},
			"medium":   {Name: "Medium Top-Up", PriceCents: 1500, Credits: 60},
			"starter":  {Name: "Starter Pack", PriceCents: 2500, Credits: 100},
			"value":    {Name: "Value Pack", PriceCents: 6000, Credits: 250, Bonus: 4},
			"pro":      {Name: "Pro Pack", PriceCents: 12000, Credits: 550, Bonus: 15},
			"ultimate": {Name: "Ultimate Pack", PriceCents: 24000, Credits: 1200, Bonus: 25},
		},
	}
}

// Validate checks the cost table is total over every defined tier and
// every pack is sane. Called once at startup; a failure is fatal.
func (c *Catalog) Validate() error {
	for category, tierList := range tiers {
		table, ok := c.costs[category]
		if !ok {
			return fmt.Errorf("catalog: category %q has no cost table", category)
		}
		for _, tier := range tierList {
			cost, ok := table[tier]
			if !ok {
				return fmt.Errorf("catalog: missing cost for %s/%s", category, tier)
			}
			if cost < 0 {
				return fmt.Errorf("catalog: negative cost for %s/%s", category, tier)
			}
		}
		for tier := range table {
			if !contains(tierList, tier) {
				return fmt.Errorf("catalog: cost defined for unknown tier %s/%s", category, tier)
			}
		}
	}
	for id, p := range c.packs {
		if p.PriceCents <= 0 || p.Credits <= 0 {
			return fmt.Errorf("catalog: pack %q must have positive price and credits", id)
		}
	}
	return nil
}

// Cost returns the credit cost for a (category, tier) pair. Unknown
// tiers are a request validation error: the catalog itself is total by
// the time Validate has passed.
func (c *Catalog) Cost(category, tier string) (int64, error) {
	table, ok := c.costs[category]
	if !ok {
		return 0, &domain.ErrValidation{Field: "category", Message: fmt.Sprintf("unknown category %q", category)}
	}
	cost, ok := table[tier]
	if !ok {
		return 0, &domain.ErrValidation{Field: "story_length", Message: fmt.Sprintf("unknown %s tier %q", category, tier)}
	}
	return cost, nil
}

// Pack returns a pack definition by id.
func (c *Catalog) Pack(id string) (Pack, error) {
	p, ok := c.packs[id]
	if !ok {
		return Pack{}, &domain.ErrValidation{Field: "pack_id", Message: fmt.Sprintf("unknown credit pack %q", id)}
	}
	return p, nil
}

// Packs returns all packs as API objects, smallest first.
func (c *Catalog) Packs() []domain.PackInfo {
	order := []string{"micro", "small", "medium", "starter", "value", "pro", "ultimate"}
	out := make([]domain.PackInfo, 0, len(order))
	for _, id := range order {
		p, ok := c.packs[id]
		if !ok {
			continue
		}
		out = append(out, domain.PackInfo{
			ID:         id,
			Name:       p.Name,
			PriceCents: p.PriceCents,
			Credits:    p.Credits,
			Bonus:      p.Bonus,
		})
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
