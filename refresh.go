package terra

import (
	"github.com/gogpu/terra/internal/metrics"
	"github.com/gogpu/terra/layer"
)

// RefreshGenerators polls every generator for shader changes and
// invalidates each layer whose contents any refreshed generator
// contributed to, so it is regenerated. It returns the refreshed
// generators.
func (c *TileCache) RefreshGenerators() layer.GeneratorMask {
	if c.closed {
		return 0
	}
	var refreshed layer.GeneratorMask
	for i, g := range c.generators {
		if g.NeedsRefresh() {
			refreshed |= layer.GeneratorBit(i)
			metrics.GeneratorRefreshes.WithLabelValues(g.Name()).Inc()
			Logger().Info("generator refreshed", "generator", g.Name())
		}
	}
	// Dynamic layers are rewritten every frame; only the pipelines go.
	for _, g := range c.batch {
		if g.NeedsRefresh() {
			metrics.GeneratorRefreshes.WithLabelValues(g.Name()).Inc()
			Logger().Info("batch generator refreshed", "generator", g.Name())
		}
	}
	if refreshed.Empty() {
		return 0
	}

	invalidated := 0
	for _, lc := range c.levels {
		for i := range lc.Slots() {
			e := lc.At(i).Value
			for t := range e.generators {
				if e.generators[t].Intersects(refreshed) {
					e.valid = e.valid.Without(layer.Type(t).Mask())
					e.generators[t] = 0
					invalidated++
				}
			}
		}
	}
	Logger().Debug("layers invalidated", "generators", refreshed, "layers", invalidated)
	return refreshed
}
