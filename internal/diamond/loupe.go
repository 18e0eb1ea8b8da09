package diamond

import (
	"context"

	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/diamond_layer/internal/diamond/routes"
	"github.com/R3E-Network/diamond_layer/internal/selector"
)

// Facet is a facet together with every selector routed to it.
type Facet struct {
	Facet     util.Uint160        `json:"facet"`
	Selectors []selector.Selector `json:"selectors"`
}

// Facets returns every facet with its selectors, facets in the order their
// first selector appears in the registry and selectors in registry order.
func (d *Diamond) Facets(ctx context.Context) []Facet {
	_, f, _, release := d.enter(ctx)
	defer release()
	return groupFacets(d.view(f))
}

// FacetAddresses returns the distinct facets, in first-seen order.
func (d *Diamond) FacetAddresses(ctx context.Context) []util.Uint160 {
	_, f, _, release := d.enter(ctx)
	defer release()
	return facetAddresses(d.view(f))
}

// FacetFunctionSelectors returns the selectors routed to facet, in registry
// order.
func (d *Diamond) FacetFunctionSelectors(ctx context.Context, facet util.Uint160) []selector.Selector {
	_, f, _, release := d.enter(ctx)
	defer release()

	var out []selector.Selector
	d.view(f).Each(func(sel selector.Selector, module util.Uint160) {
		if module == facet {
			out = append(out, sel)
		}
	})
	return out
}

// FacetAddress returns the facet serving sel, or the zero handle.
func (d *Diamond) FacetAddress(ctx context.Context, sel selector.Selector) util.Uint160 {
	_, f, _, release := d.enter(ctx)
	defer release()
	return d.view(f).Lookup(sel).Module
}

func facetAddresses(t *routes.Table) []util.Uint160 {
	seen := make(map[util.Uint160]struct{})
	var out []util.Uint160
	t.Each(func(_ selector.Selector, module util.Uint160) {
		if _, ok := seen[module]; ok {
			return
		}
		seen[module] = struct{}{}
		out = append(out, module)
	})
	return out
}

// groupFacets builds the grouped view in two passes over the ordered list.
// The first pass numbers facets by first appearance and counts their
// selectors. The second carves one backing array into per-facet windows at
// prefix offsets and fills them; each window is capped so appending to one
// facet's slice cannot overwrite its neighbour.
func groupFacets(t *routes.Table) []Facet {
	n := t.Len()
	if n == 0 {
		return nil
	}

	index := make(map[util.Uint160]int)
	groupOf := make([]int, n)
	var (
		facets []Facet
		counts []int
	)
	p := 0
	t.Each(func(_ selector.Selector, module util.Uint160) {
		g, ok := index[module]
		if !ok {
			g = len(facets)
			index[module] = g
			facets = append(facets, Facet{Facet: module})
			counts = append(counts, 0)
		}
		groupOf[p] = g
		counts[g]++
		p++
	})

	backing := make([]selector.Selector, n)
	off := 0
	for g := range facets {
		facets[g].Selectors = backing[off:off:off+counts[g]]
		off += counts[g]
	}
	for i, g := range groupOf {
		facets[g].Selectors = append(facets[g].Selectors, t.At(i))
	}
	return facets
}
