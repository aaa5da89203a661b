package ui

import (
	"sync"

	"github.com/fatih/color"
)

type colorFn = func(format string, a ...interface{}) string

func terminalColors() []colorFn {
	return []colorFn{color.CyanString, color.MagentaString, color.GreenString, color.YellowString, color.BlueString}
}

// ColorCache assigns each distinct (project, task) pairing a stable
// color across a run, so interleaved output from concurrently running
// tasks stays visually distinguishable. Grounded on turborepo's
// internal/colorcache.ColorCache, generalized from a package-name-only
// cache key to the full "project#task" node key this module's pipeline
// uses.
type ColorCache struct {
	mu    sync.Mutex
	index int
	cache map[string]colorFn
}

// NewColorCache builds an empty cache.
func NewColorCache() *ColorCache {
	return &ColorCache{cache: map[string]colorFn{}}
}

func (c *ColorCache) colorFor(key string) colorFn {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fn, ok := c.cache[key]; ok {
		return fn
	}
	colors := terminalColors()
	fn := colors[c.index%len(colors)]
	c.index++
	c.cache[key] = fn
	return fn
}

// PrefixWithColor renders prefix in a color consistently chosen for
// key, so every log line from the same task uses the same color for
// the run's duration.
func (c *ColorCache) PrefixWithColor(key, prefix string) string {
	return c.colorFor(key)("%s: ", prefix)
}
