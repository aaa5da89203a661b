// Package merkle maintains, per project, the persisted FileEntry index
// used to avoid re-hashing unchanged files, and builds the binary merkle
// tree root over a project's resolved input files. Grounded on turborepo's
// internal/fs/hash.FileHashes-style per-file hashing combined with
// taskhash.go's worker-pool shape, generalized with a persisted
// (path, mtime) reuse index — turborepo itself rehashes every file on
// every run instead.
package merkle

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/nightlyone/lockfile"
	"github.com/omni-build/omni/internal/digest"
	"github.com/omni-build/omni/internal/omnierr"
)

// FileEntry is a single persisted leaf record: the stable key a caller
// uses to identify the file (its OmniPath wire form), its content digest,
// and the file's mtime in unix milliseconds at the time the digest was
// computed.
type FileEntry struct {
	Path        string       `cbor:"path"`
	Hash        digest.Digest `cbor:"hash"`
	MtimeMillis int64        `cbor:"mtime"`
}

// Index is a project's partial-hash cache, keyed by FileEntry.Path.
type Index map[string]FileEntry

// Input is one file to be hashed: Key is the stable identifier stored in
// the Index (typically an OmniPath wire form), AbsPath is where to stat
// and read the file's current contents.
type Input struct {
	Key     string
	AbsPath string
}

// Load reads a project's persisted Index from path. A missing file
// returns an empty Index. A corrupt file is discarded and an empty
// Index is returned instead of erroring: discard and recompute from
// scratch.
func Load(path string) (Index, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Index{}, nil
	}
	if err != nil {
		return nil, omnierr.Wrapf(omnierr.IoError, err, "merkle: reading %s", path)
	}

	var entries []FileEntry
	if err := cbor.Unmarshal(data, &entries); err != nil {
		return Index{}, nil
	}

	idx := make(Index, len(entries))
	for _, e := range entries {
		idx[e.Path] = e
	}
	return idx, nil
}

// Save persists idx to path atomically (write to a temp file, then
// rename), guarded by a per-project file lock during rewrite.
func Save(path string, idx Index) error {
	lock, err := acquireLock(path)
	if err != nil {
		return omnierr.Wrapf(omnierr.HasherError, err, "merkle: locking %s", path)
	}
	defer lock.Unlock()

	entries := make([]FileEntry, 0, len(idx))
	for _, e := range idx {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	data, err := cbor.Marshal(entries)
	if err != nil {
		return omnierr.Wrap(omnierr.HasherError, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return omnierr.Wrap(omnierr.IoError, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return omnierr.Wrap(omnierr.IoError, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return omnierr.Wrap(omnierr.IoError, err)
	}
	return nil
}

func acquireLock(path string) (lockfile.Lockfile, error) {
	abs, err := filepath.Abs(path + ".lock")
	if err != nil {
		return "", err
	}
	lock, err := lockfile.New(abs)
	if err != nil {
		return "", err
	}
	var lastErr error
	for attempt := 0; attempt < 20; attempt++ {
		if err := lock.TryLock(); err == nil {
			return lock, nil
		} else {
			lastErr = err
		}
		time.Sleep(10 * time.Millisecond)
	}
	return "", lastErr
}

// Hash computes the merkle root over inputs, reusing prior entries in idx
// whenever an input's current mtime matches the recorded one. It returns the root digest and the updated Index
// (callers persist it with Save when it differs from the stored one).
func Hash(idx Index, inputs []Input) (digest.Digest, Index, error) {
	ordered := make([]Input, len(inputs))
	copy(ordered, inputs)
	sort.Slice(ordered, func(i, j int) bool {
		if len(ordered[i].Key) != len(ordered[j].Key) {
			return len(ordered[i].Key) > len(ordered[j].Key)
		}
		return ordered[i].Key < ordered[j].Key
	})

	updated := make(Index, len(idx))
	leaves := make([]digest.Digest, 0, len(ordered))

	for _, in := range ordered {
		info, err := os.Stat(in.AbsPath)
		if err != nil {
			return digest.Zero, nil, err
		}
		mtimeMillis := info.ModTime().UnixMilli()

		var leaf digest.Digest
		if prior, ok := idx[in.Key]; ok && prior.MtimeMillis == mtimeMillis {
			leaf = prior.Hash
		} else {
			contents, err := os.ReadFile(in.AbsPath)
			if err != nil {
				return digest.Zero, nil, err
			}
			leaf = digest.Combine(digest.OfString(in.Key), digest.Of(contents))
		}

		updated[in.Key] = FileEntry{Path: in.Key, Hash: leaf, MtimeMillis: mtimeMillis}
		leaves = append(leaves, leaf)
	}

	return root(leaves), updated, nil
}

// root builds a binary merkle tree over leaves and returns its root
// digest, promoting an unpaired trailing leaf to the next level unchanged
//.
func root(leaves []digest.Digest) digest.Digest {
	if len(leaves) == 0 {
		return digest.Zero
	}
	level := leaves
	for len(level) > 1 {
		next := make([]digest.Digest, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, digest.Combine(level[i], level[i+1]))
			} else {
				next = append(next, level[i])
			}
		}
		level = next
	}
	return level[0]
}
