// Package fileset expands a task's declared input/output OmniPath glob
// patterns into concrete file lists. Grounded on turborepo's
// internal/globby package (afero-backed doublestar glob walk over an
// include/exclude pattern pair), generalized here to operate over the
// already-rooted absolute patterns OmniPath.Resolve produces instead of
// globby's basePath-relative include/exclude pair. Staging a declared
// output directory tree into the cache's staging area is grounded on
// turborepo's internal/fs/copy_file.go, which walks with
// github.com/karrick/godirwalk for the same reason: a plain recursive
// filepath.Walk is noticeably slower on large trees. Glob-matched files are
// filtered against the workspace and project .gitignore the same way
// turborepo's internal/run/hash.go does: not a full gitignore
// implementation, just the root and per-project ignore file consulted
// directly against each candidate path.
package fileset

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/karrick/godirwalk"
	"github.com/omni-build/omni/internal/omnipath"
	gitignore "github.com/sabhiram/go-gitignore"
	"github.com/spf13/afero"
)

var osFS = afero.NewIOFS(afero.NewOsFs())

// Expand resolves each OmniPath against roots and glob-walks it from
// baseDir, returning the deduplicated, sorted set of matched absolute
// file paths. A pattern with no glob metacharacters that names a plain
// file is included even if it doesn't exist yet.
func Expand(baseDir string, patterns []omnipath.OmniPath, roots omnipath.RootMap) ([]string, error) {
	rootIgnore := safeCompileIgnoreFile(filepath.Join(roots.Workspace, ".gitignore"))
	dirIgnore := safeCompileIgnoreFile(filepath.Join(baseDir, ".gitignore"))

	seen := map[string]bool{}
	var out []string
	for _, p := range patterns {
		resolved, err := p.Resolve(roots)
		if err != nil {
			return nil, err
		}
		if !hasMeta(resolved) {
			if seen[resolved] {
				continue
			}
			seen[resolved] = true
			out = append(out, resolved)
			continue
		}
		rel, err := filepath.Rel(baseDir, resolved)
		if err != nil {
			rel = resolved
		}
		matches, err := doublestar.Glob(osFS, filepath.ToSlash(filepath.Join(filepath.ToSlash(baseDir), filepath.ToSlash(rel))))
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil || info.IsDir() {
				continue
			}
			if seen[m] {
				continue
			}
			if rootIgnore.MatchesPath(m) || dirIgnore.MatchesPath(m) {
				continue
			}
			seen[m] = true
			out = append(out, m)
		}
	}
	sortStrings(out)
	return out, nil
}

// safeCompileIgnoreFile mirrors turborepo's own hack (internal/run/hash.go):
// a missing .gitignore compiles to an empty, always-non-matching ignore set
// rather than an error, since most projects don't have one at every level.
func safeCompileIgnoreFile(path string) *gitignore.GitIgnore {
	if ign, err := gitignore.CompileIgnoreFile(path); err == nil {
		return ign
	}
	return gitignore.CompileIgnoreLines()
}

func hasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// StageOutputs copies each absolute file (or, for a bare directory
// output_path such as "dist", its entire tree) under baseDir into
// stagingDir, preserving the path relative to baseDir, so the staging
// directory can be archived as a self-contained output set.
func StageOutputs(baseDir string, files []string, stagingDir string) error {
	for _, f := range files {
		rel, err := filepath.Rel(baseDir, f)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		dst := filepath.Join(stagingDir, rel)

		info, err := os.Lstat(f)
		if err != nil {
			continue
		}
		if info.IsDir() {
			if err := copyTree(f, dst); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := copyFile(f, dst); err != nil {
			return err
		}
	}
	return nil
}

// copyTree recursively copies the directory at src into dst, mirroring
// turborepo's RecursiveCopyOrLinkFile but built over
// github.com/karrick/godirwalk's Callback-style walk instead of the
// teacher's own LstatCachedFile wrapper.
func copyTree(src, dst string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	return godirwalk.Walk(src, &godirwalk.Options{
		Callback: func(name string, de *godirwalk.Dirent) error {
			rel, err := filepath.Rel(src, name)
			if err != nil {
				return err
			}
			if rel == "." {
				return nil
			}
			target := filepath.Join(dst, rel)
			if de.IsDir() {
				return os.MkdirAll(target, 0o755)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			return copyFile(name, target)
		},
		Unsorted: true,
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
