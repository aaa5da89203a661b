// Package envfile implements layered .env discovery and expansion,
// grounded on a Rust
// crates/env_loader/src/lib.rs (ancestor walk to a root marker, outer-to-inner
// load order, matcher predicate, start-dir cache) and turborepo's
// internal/env package (wildcard/env-map helpers) for the Go idiom of an
// ordered string-keyed map with Union/Difference helpers.
package envfile

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Config configures a single env-resolution pass.
type Config struct {
	// StartDir is where ancestor-walking begins. Defaults to the process
	// working directory.
	StartDir string
	// RootMarker is the filename that terminates the ancestor walk (e.g.
	// "workspace.omni.yaml"). If empty, the walk proceeds to the
	// filesystem root.
	RootMarker string
	// Templates are env-file basenames to look for in each ancestor
	// directory, e.g. []string{".env", ".env.local"}. A "{ENV}" segment is
	// substituted with EnvName before matching.
	Templates []string
	// EnvName substitutes for "{ENV}" in a template like ".env.{ENV}.local".
	EnvName string
	// Matcher, if non-nil, causes a file to be skipped unless every
	// key/value pair in Matcher is present (with equal value) in that
	// file's own parsed contents.
	Matcher Map
	// InheritProcessEnv seeds the accumulated map with the process
	// environment before any file is loaded, when requested by the caller
	//.
	InheritProcessEnv bool
}

// Loader resolves Configs to Maps, caching results by canonicalized start
// directory so that sibling project lookups reuse prior work. The cache is guarded by a single mutex.
type Loader struct {
	mu    sync.Mutex
	cache map[string]Map
}

// NewLoader creates an empty Loader.
func NewLoader() *Loader {
	return &Loader{cache: map[string]Map{}}
}

// Load resolves cfg to a Map, reusing a cached result when StartDir has
// already been resolved with an identical set of templates/marker.
func (l *Loader) Load(cfg Config) (Map, error) {
	start := cfg.StartDir
	if start == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		start = wd
	}
	abs, err := filepath.Abs(start)
	if err != nil {
		return nil, err
	}
	abs = filepath.Clean(abs)

	key := cacheKey(abs, cfg)

	l.mu.Lock()
	if cached, ok := l.cache[key]; ok {
		l.mu.Unlock()
		return cloneMap(cached), nil
	}
	l.mu.Unlock()

	result, err := resolve(abs, cfg)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.cache[key] = cloneMap(result)
	l.mu.Unlock()

	return result, nil
}

func cacheKey(startDir string, cfg Config) string {
	return startDir + "\x00" + cfg.RootMarker + "\x00" + strings.Join(cfg.Templates, ",") + "\x00" + cfg.EnvName
}

func cloneMap(m Map) Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// resolve performs the actual ancestor walk + file load + expand pipeline.
func resolve(startDir string, cfg Config) (Map, error) {
	ancestors, rootDir := ancestorChain(startDir, cfg.RootMarker)

	var files []string
	for _, dir := range ancestors {
		for i := len(cfg.Templates) - 1; i >= 0; i-- {
			name := substituteEnvName(cfg.Templates[i], cfg.EnvName)
			candidate := filepath.Join(dir, name)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				files = append(files, candidate)
			}
		}
		if rootDir != "" && dir == rootDir {
			break
		}
	}

	env := Map{}
	if cfg.InheritProcessEnv {
		for _, kv := range os.Environ() {
			if idx := strings.IndexByte(kv, '='); idx >= 0 {
				env[kv[:idx]] = kv[idx+1:]
			}
		}
	}

	// files was collected innermost-first (ancestors walked from start
	// upward, templates in reverse within each directory), so reverse it to
	// get root-to-start (outer-to-inner) application order.
	for i, j := 0, len(files)-1; i < j; i, j = i+1, j-1 {
		files[i], files[j] = files[j], files[i]
	}

	for _, file := range files {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		parsed, err := Parse(string(raw), env)
		if err != nil {
			return nil, err
		}
		if cfg.Matcher != nil && !matches(cfg.Matcher, parsed) {
			continue
		}
		for k, v := range parsed {
			env[k] = v
		}
	}
	return env, nil
}

func matches(matcher, parsed Map) bool {
	for k, v := range matcher {
		if parsed[k] != v {
			return false
		}
	}
	return true
}

func substituteEnvName(template, envName string) string {
	return strings.ReplaceAll(template, "{ENV}", envName)
}

// ancestorChain walks from startDir upward to the filesystem root, stopping
// after (and including) the ancestor containing rootMarker, if given. It
// returns the chain in start-to-root order and the directory where the
// marker was found (empty if rootMarker is empty or never found, in which
// case the walk proceeds all the way to the filesystem root).
func ancestorChain(startDir, rootMarker string) (chain []string, rootDir string) {
	dir := startDir
	for {
		chain = append(chain, dir)
		if rootMarker != "" {
			if info, err := os.Stat(filepath.Join(dir, rootMarker)); err == nil && !info.IsDir() {
				rootDir = dir
				return chain, rootDir
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return chain, rootDir
		}
		dir = parent
	}
}
