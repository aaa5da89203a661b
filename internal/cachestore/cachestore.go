// Package cachestore implements the on-disk execution cache:
// get_many/cache_many/replay/prune over the
// `<cache_root>/<project>/<digest>/{meta.bin,log.bin,output.tar.gz}`
// layout. Grounded on turborepo's internal/cache/cache_fs.go
// (filesystem cache, temp-file+rename write durability) and
// internal/cache/cache.go's multiplexer-friendly `Cache` interface
// shape, reshaped around its own CacheEntry record.
package cachestore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/omni-build/omni/internal/archive"
	"github.com/omni-build/omni/internal/digest"
	"github.com/omni-build/omni/internal/omnierr"
	"github.com/omni-build/omni/internal/planner"
	"golang.org/x/sync/singleflight"
)

// CacheEntry is the immutable record of one completed task execution.
type CacheEntry struct {
	Digest          digest.Digest `cbor:"digest"`
	ProjectName     string        `cbor:"project_name"`
	TaskName        string        `cbor:"task_name"`
	ExitCode        uint32        `cbor:"exit_code"`
	DurationMillis  int64         `cbor:"execution_duration_ms"`
	CreatedAtMillis int64         `cbor:"created_at_ms"`
	LastUsedMillis  int64         `cbor:"last_used_at_ms"`
	Size            int64         `cbor:"size"`
}

// TaskInfo identifies a task whose cache entry GetMany should look up.
type TaskInfo struct {
	Project string
	Task    string
	Digest  digest.Digest
}

// NewEntry is what CacheMany persists for one completed task.
type NewEntry struct {
	Project      string
	Task         string
	Digest       digest.Digest
	ExitCode     uint32
	Duration     time.Duration
	Logs         []byte
	OutputDir    string // directory to archive as output.tar.gz; empty if the task has no outputs
}

// PruneFilter selects which cache entries Prune removes.
type PruneFilter struct {
	MaxAge       time.Duration // zero means no age limit
	MaxTotalSize int64         // zero means no size limit; oldest entries are evicted first past this total
	ProjectGlob  string        // empty matches every project
	DryRun       bool
}

// PruneResult summarizes a Prune call.
type PruneResult struct {
	RemovedEntries int
	ReclaimedBytes int64
}

// Store is the filesystem-backed execution cache rooted at Root
// (typically "<workspace>/.omni/cache").
type Store struct {
	Root  string
	group singleflight.Group
}

// New returns a Store rooted at root. The root directory is created
// lazily on first write.
func New(root string) *Store {
	return &Store{Root: root}
}

func pathSafe(name string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_")
	return r.Replace(name)
}

func (s *Store) entryDir(project string, d digest.Digest) string {
	return filepath.Join(s.Root, pathSafe(project), planner.EncodeBase58(d.Bytes()))
}

// GetMany looks up a cache entry per TaskInfo, deduplicating concurrent
// lookups for the same digest. The result map omits entries that don't
// exist; it never errors for a simple miss.
func (s *Store) GetMany(infos []TaskInfo) (map[digest.Digest]*CacheEntry, error) {
	out := make(map[digest.Digest]*CacheEntry, len(infos))
	for _, info := range infos {
		key := info.Digest.String()
		v, err, _ := s.group.Do(key, func() (interface{}, error) {
			return s.readEntry(info.Project, info.Digest)
		})
		if err != nil {
			return nil, err
		}
		if v != nil {
			out[info.Digest] = v.(*CacheEntry)
		}
	}
	return out, nil
}

func (s *Store) readEntry(project string, d digest.Digest) (*CacheEntry, error) {
	dir := s.entryDir(project, d)
	metaPath := filepath.Join(dir, "meta.bin")

	data, err := os.ReadFile(metaPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entry CacheEntry
	if err := cbor.Unmarshal(data, &entry); err != nil {
		// corrupt metadata: treat as a miss rather than propagating, the
		// entry will simply be recomputed and overwritten.
		return nil, nil
	}
	if entry.Digest != d {
		// meta file's digest doesn't match the directory name: reject,
		// invariant "reads verify the meta file's digest
		// matches the directory name".
		return nil, nil
	}
	return &entry, nil
}

// CacheMany persists one archive+metadata set per entry, atomically
// (build in a temp directory, then rename into place)
// ("writes are crash-safe: write to temp then rename").
func (s *Store) CacheMany(entries []NewEntry) error {
	for _, e := range entries {
		if err := s.cacheOne(e); err != nil {
			return omnierr.Wrapf(omnierr.CacheStoreError, err, "cachestore: storing %s#%s", e.Project, e.Task)
		}
	}
	return nil
}

func (s *Store) cacheOne(e NewEntry) error {
	finalDir := s.entryDir(e.Project, e.Digest)
	tmpDir := filepath.Join(s.Root, pathSafe(e.Project), ".tmp-"+uuid.NewString())

	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	if err := os.WriteFile(filepath.Join(tmpDir, "log.bin"), e.Logs, 0o644); err != nil {
		return err
	}

	var outputSize int64
	if e.OutputDir != "" {
		outPath := filepath.Join(tmpDir, "output.tar.gz")
		f, err := os.Create(outPath)
		if err != nil {
			return err
		}
		if err := archive.Archive(e.OutputDir, f); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		if info, err := os.Stat(outPath); err == nil {
			outputSize = info.Size()
		}
	}

	now := time.Now().UnixMilli()
	entry := CacheEntry{
		Digest:          e.Digest,
		ProjectName:     e.Project,
		TaskName:        e.Task,
		ExitCode:        e.ExitCode,
		DurationMillis:  e.Duration.Milliseconds(),
		CreatedAtMillis: now,
		LastUsedMillis:  now,
		Size:            outputSize + int64(len(e.Logs)),
	}
	metaBytes, err := cbor.Marshal(entry)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "meta.bin"), metaBytes, 0o644); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(finalDir), 0o755); err != nil {
		return err
	}
	// Last writer wins: remove any existing entry for this digest before
	// publishing (concurrent cache_many for the same digest is expected
	// to be idempotent).
	os.RemoveAll(finalDir)
	return os.Rename(tmpDir, finalDir)
}

// Replay streams a cached entry's logs to w and unpacks its output
// archive into projectDir. Replay is idempotent.
func (s *Store) Replay(entry *CacheEntry, projectDir string, w io.Writer) error {
	dir := s.entryDir(entry.ProjectName, entry.Digest)

	logBytes, err := os.ReadFile(filepath.Join(dir, "log.bin"))
	if err != nil {
		return err
	}
	if w != nil {
		if _, err := w.Write(logBytes); err != nil {
			return err
		}
	}

	outPath := filepath.Join(dir, "output.tar.gz")
	if _, err := os.Stat(outPath); os.IsNotExist(err) {
		return nil
	}
	f, err := os.Open(outPath)
	if err != nil {
		return err
	}
	defer f.Close()
	return archive.Unarchive(projectDir, f)
}

// Prune deletes entries matching filter's size/age/scope predicates,
// oldest-first when a total size budget is given.
func (s *Store) Prune(filter PruneFilter) (PruneResult, error) {
	projectGlob, err := compileProjectGlob(filter.ProjectGlob)
	if err != nil {
		return PruneResult{}, err
	}

	var candidates []pruneCandidate

	projectDirs, err := os.ReadDir(s.Root)
	if os.IsNotExist(err) {
		return PruneResult{}, nil
	}
	if err != nil {
		return PruneResult{}, err
	}

	now := time.Now().UnixMilli()
	for _, pd := range projectDirs {
		if !pd.IsDir() {
			continue
		}
		if projectGlob != nil && !projectGlob(pd.Name()) {
			continue
		}
		projectPath := filepath.Join(s.Root, pd.Name())
		digestDirs, err := os.ReadDir(projectPath)
		if err != nil {
			continue
		}
		for _, dd := range digestDirs {
			if !dd.IsDir() || strings.HasPrefix(dd.Name(), ".tmp-") {
				continue
			}
			metaPath := filepath.Join(projectPath, dd.Name(), "meta.bin")
			data, err := os.ReadFile(metaPath)
			if err != nil {
				continue
			}
			var entry CacheEntry
			if err := cbor.Unmarshal(data, &entry); err != nil {
				continue
			}
			if filter.MaxAge > 0 {
				age := time.Duration(now-entry.CreatedAtMillis) * time.Millisecond
				if age < filter.MaxAge {
					continue
				}
			}
			candidates = append(candidates, pruneCandidate{dir: filepath.Join(projectPath, dd.Name()), entry: entry})
		}
	}

	if filter.MaxTotalSize > 0 {
		sortByLastUsedAscending(candidates)
		var total int64
		for _, c := range candidates {
			total += c.entry.Size
		}
		var toRemove []pruneCandidate
		for _, c := range candidates {
			if total <= filter.MaxTotalSize {
				break
			}
			toRemove = append(toRemove, c)
			total -= c.entry.Size
		}
		candidates = toRemove
	}

	var result PruneResult
	for _, c := range candidates {
		result.RemovedEntries++
		result.ReclaimedBytes += c.entry.Size
		if !filter.DryRun {
			os.RemoveAll(c.dir)
		}
	}
	return result, nil
}

type pruneCandidate struct {
	dir   string
	entry CacheEntry
}

func sortByLastUsedAscending(candidates []pruneCandidate) {
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && candidates[j-1].entry.LastUsedMillis > candidates[j].entry.LastUsedMillis; j-- {
			candidates[j-1], candidates[j] = candidates[j], candidates[j-1]
		}
	}
}

func compileProjectGlob(pattern string) (func(string) bool, error) {
	if pattern == "" {
		return nil, nil
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid project glob %q: %w", pattern, err)
	}
	return func(name string) bool {
		ok, _ := filepath.Match(pattern, name)
		return ok
	}, nil
}
