package engine

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
	"gopkg.in/yaml.v3"

	"github.com/BadgerOps/portable/internal/catalog"
	"github.com/BadgerOps/portable/internal/safety"
	"github.com/BadgerOps/portable/internal/store"
)

// Packager builds the artifact for an export into dir and returns its parts
// in order. Implementations must honor ctx cancellation.
type Packager interface {
	Package(ctx context.Context, exp *store.ExportPackage, dir string) ([]store.ArtifactPart, error)
}

// ArchivePackager writes a tar stream of the export's descriptors, compressed
// and split into parts of at most SplitSize bytes.
type ArchivePackager struct {
	// DefaultCompression applies when the export does not choose one.
	DefaultCompression store.Compression
	// Catalog supplies the format's descriptor name; optional.
	Catalog *catalog.Catalog
}

// Package implements Packager.
func (p *ArchivePackager) Package(ctx context.Context, exp *store.ExportPackage, dir string) ([]store.ArtifactPart, error) {
	compression := exp.Configuration.Compression
	if compression == "" {
		compression = p.DefaultCompression
	}
	if compression == "" {
		compression = store.CompressionZstd
	}

	var entrypoint string
	if p.Catalog != nil {
		if fi, ok := p.Catalog.FormatInfo(exp.Format); ok {
			entrypoint = fi.Descriptor
		}
	}

	entries, err := bundleEntries(exp, entrypoint)
	if err != nil {
		return nil, err
	}

	baseName := exp.ID + ".tar" + compressionExt(compression)
	sw := newSplitWriter(dir, baseName, exp.Configuration.SplitSize)

	cw, err := newCompressor(compression, sw)
	if err != nil {
		sw.abort()
		return nil, err
	}

	tw := tar.NewWriter(cw)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			// Clean up on cancel
			_ = tw.Close()
			_ = cw.Close()
			sw.abort()
			return nil, err
		}
		if err := addBytesToTar(tw, e.name, e.data, exp.CreatedAt); err != nil {
			sw.abort()
			return nil, fmt.Errorf("adding %s to archive: %w", e.name, err)
		}
	}

	if err := tw.Close(); err != nil {
		sw.abort()
		return nil, fmt.Errorf("closing tar writer: %w", err)
	}
	if err := cw.Close(); err != nil {
		sw.abort()
		return nil, fmt.Errorf("closing %s writer: %w", compression, err)
	}
	return sw.close()
}

type bundleEntry struct {
	name string
	data []byte
}

// bundleEntries renders every file placed in the archive.
func bundleEntries(exp *store.ExportPackage, entrypoint string) ([]bundleEntry, error) {
	manifest := buildManifest(exp)
	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling manifest: %w", err)
	}

	deploy, err := yaml.Marshal(buildDeployDescriptor(exp, entrypoint))
	if err != nil {
		return nil, fmt.Errorf("marshaling deploy descriptor: %w", err)
	}

	deps, err := yaml.Marshal(buildDependencyInventory(exp))
	if err != nil {
		return nil, fmt.Errorf("marshaling dependency inventory: %w", err)
	}

	return []bundleEntry{
		{name: "manifest.json", data: manifestData},
		{name: "README.txt", data: []byte(generateExportReadme(manifest))},
		{name: "deploy/" + string(exp.Format) + ".yaml", data: deploy},
		{name: "offline/dependencies.yaml", data: deps},
	}, nil
}

func compressionExt(c store.Compression) string {
	switch c {
	case store.CompressionGzip:
		return ".gz"
	case store.CompressionZstd:
		return ".zst"
	case store.CompressionXZ:
		return ".xz"
	default:
		return ""
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func newCompressor(c store.Compression, w io.Writer) (io.WriteCloser, error) {
	switch c {
	case store.CompressionNone:
		return nopWriteCloser{w}, nil
	case store.CompressionGzip:
		return gzip.NewWriter(w), nil
	case store.CompressionZstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("creating zstd writer: %w", err)
		}
		return zw, nil
	case store.CompressionXZ:
		xw, err := xz.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("creating xz writer: %w", err)
		}
		return xw, nil
	default:
		return nil, fmt.Errorf("unsupported compression %q", c)
	}
}

// splitWriter spreads a byte stream over numbered part files of at most
// limit bytes each. A limit of 0 writes a single file.
type splitWriter struct {
	dir      string
	baseName string
	limit    int64

	file    *os.File
	written int64
	paths   []string
	err     error
}

func newSplitWriter(dir, baseName string, limit int64) *splitWriter {
	return &splitWriter{dir: dir, baseName: baseName, limit: limit}
}

func (s *splitWriter) partPath(n int) string {
	if s.limit <= 0 {
		return filepath.Join(s.dir, s.baseName)
	}
	return filepath.Join(s.dir, fmt.Sprintf("%s.part%03d", s.baseName, n))
}

func (s *splitWriter) open() error {
	path := s.partPath(len(s.paths) + 1)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating archive part: %w", err)
	}
	s.file = f
	s.written = 0
	s.paths = append(s.paths, path)
	return nil
}

func (s *splitWriter) closeCurrent() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return fmt.Errorf("closing archive part: %w", err)
	}
	return nil
}

func (s *splitWriter) Write(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	total := 0
	for len(p) > 0 {
		if s.file == nil || (s.limit > 0 && s.written >= s.limit) {
			if err := s.closeCurrent(); err != nil {
				s.err = err
				return total, err
			}
			if err := s.open(); err != nil {
				s.err = err
				return total, err
			}
		}
		chunk := p
		if s.limit > 0 && int64(len(chunk)) > s.limit-s.written {
			chunk = chunk[:s.limit-s.written]
		}
		n, err := s.file.Write(chunk)
		s.written += int64(n)
		total += n
		if err != nil {
			s.err = err
			return total, err
		}
		p = p[n:]
	}
	return total, nil
}

// close finishes the last part and writes a .sha256 sidecar for every part.
func (s *splitWriter) close() ([]store.ArtifactPart, error) {
	if s.err != nil {
		s.abort()
		return nil, s.err
	}
	if len(s.paths) == 0 {
		// Empty stream still produces one (empty) part.
		if err := s.open(); err != nil {
			return nil, err
		}
	}
	if err := s.closeCurrent(); err != nil {
		s.abort()
		return nil, err
	}

	parts := make([]store.ArtifactPart, 0, len(s.paths))
	for _, path := range s.paths {
		part, err := finishPart(path)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	return parts, nil
}

// abort removes any parts written so far.
func (s *splitWriter) abort() {
	_ = s.closeCurrent()
	for _, path := range s.paths {
		_ = os.Remove(path)
	}
	s.paths = nil
}

// finishPart hashes a part file and writes its .sha256 sidecar.
func finishPart(path string) (store.ArtifactPart, error) {
	sum, size, err := hashFile(path)
	if err != nil {
		return store.ArtifactPart{}, fmt.Errorf("hashing archive: %w", err)
	}
	name := filepath.Base(path)
	content := fmt.Sprintf("%s  %s\n", sum, name)
	if err := os.WriteFile(path+".sha256", []byte(content), 0o644); err != nil {
		return store.ArtifactPart{}, fmt.Errorf("writing sha256 sidecar: %w", err)
	}
	return store.ArtifactPart{Name: name, Size: size, SHA256: sum}, nil
}

// addBytesToTar adds an in-memory file to a tar archive.
func addBytesToTar(tw *tar.Writer, name string, data []byte, modTime time.Time) error {
	header := &tar.Header{
		Name:    name,
		Size:    int64(len(data)),
		Mode:    0o644,
		ModTime: modTime,
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err := io.Copy(tw, bytes.NewReader(data))
	return err
}

// hashFile computes the SHA256 of a file, returning hex string and size.
func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer func() {
		_ = f.Close()
	}()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

// artifactChecksum hashes the concatenation of all parts in order.
func artifactChecksum(dir string, parts []store.ArtifactPart) (string, error) {
	h := sha256.New()
	for _, p := range parts {
		path, err := safety.PartPath(dir, p.Name)
		if err != nil {
			return "", err
		}
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		_, err = io.Copy(h, f)
		_ = f.Close()
		if err != nil {
			return "", err
		}
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}
