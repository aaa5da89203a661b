// Package archive implements the tar+gzip codec used to persist and
// restore a task's output files. Grounded on turborepo's
// internal/cacheitem package (streaming create/restore over a single
// archive file, symlink and permission preservation, path-escape
// rejection), but using tar+gzip rather than turborepo's custom
// zstd-framed cache item format: the persisted-state layout names the
// artifact `output.tar.gz` explicitly. Reads during archiving go through
// github.com/moby/sys/sequential, the same package turborepo's
// internal/cacheitem uses for its own create/restore file opens: a plain
// os.Open is fine on unix, but on Windows it requests
// FILE_FLAG_SEQUENTIAL_SCAN caching behavior appropriate for a single
// streamed read-then-discard pass.
package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/moby/sys/sequential"
)

// Archive streams a tar-of-gzip capturing srcDir's contents, rooted at
// ".", to w. Symlinks are preserved as symlink entries; permissions are
// preserved on unix via the tar header's Mode field.
func Archive(srcDir string, w io.Writer) error {
	gzw := gzip.NewWriter(w)
	tw := tar.NewWriter(gzw)

	err := filepath.Walk(srcDir, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		var link string
		if info.Mode()&os.ModeSymlink != 0 {
			link, err = os.Readlink(path)
			if err != nil {
				return err
			}
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = rel
		if info.IsDir() {
			hdr.Name += "/"
		}

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		if info.Mode().IsRegular() {
			f, err := sequential.OpenFile(path, os.O_RDONLY, 0777)
			if err != nil {
				return err
			}
			defer f.Close()
			if _, err := io.Copy(tw, f); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = tw.Close()
		_ = gzw.Close()
		return err
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gzw.Close()
}

// Unarchive is Archive's inverse: it reads a tar-of-gzip stream from r and
// recreates its contents under dstDir. Entries whose resolved path would
// escape dstDir are rejected.
func Unarchive(dstDir string, r io.Reader) error {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("archive: opening gzip stream: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("archive: reading tar entry: %w", err)
		}

		target, err := sanitizedJoin(dstDir, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeSymlink:
			linkPath := filepath.FromSlash(hdr.Linkname)
			if !filepath.IsAbs(linkPath) {
				linkPath = filepath.Join(filepath.Dir(filepath.FromSlash(hdr.Name)), linkPath)
			}
			linkTarget, err := sanitizedJoin(dstDir, linkPath)
			if err != nil {
				return err
			}
			_ = linkTarget // validated; the symlink itself is still written with hdr.Linkname verbatim
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			if err := os.Chmod(target, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		default:
			// ignore device/fifo/other special entries; output archives
			// never legitimately contain them.
		}
	}
}

// sanitizedJoin joins dstDir and name, rejecting any result that would
// resolve outside dstDir (path traversal via "../" or an absolute name).
func sanitizedJoin(dstDir, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("archive: empty entry name")
	}
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive: entry %q escapes destination directory", name)
	}
	joined := filepath.Join(dstDir, cleaned)

	absDst, err := filepath.Abs(dstDir)
	if err != nil {
		return "", err
	}
	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}
	if absJoined != absDst && !strings.HasPrefix(absJoined, absDst+string(filepath.Separator)) {
		return "", fmt.Errorf("archive: entry %q escapes destination directory", name)
	}
	return joined, nil
}
