package engine

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/BadgerOps/portable/internal/safety"
	"github.com/BadgerOps/portable/internal/store"
)

// ErrNoArtifact is returned when verifying or unpacking an export that has
// no completed artifact.
var ErrNoArtifact = errors.New("export has no artifact")

// VerifyReport summarizes an artifact integrity check.
type VerifyReport struct {
	PartsChecked int      `json:"parts_checked"`
	PartsFailed  int      `json:"parts_failed"`
	Checksum     string   `json:"checksum"`
	Errors       []string `json:"errors,omitempty"`
}

// OK reports whether every check passed.
func (r *VerifyReport) OK() bool {
	return r.PartsFailed == 0 && len(r.Errors) == 0
}

// VerifyArtifact re-hashes every part in dir and compares it with the
// recorded digest, the .sha256 sidecar and, if want is set, the whole
// artifact checksum.
func VerifyArtifact(ctx context.Context, dir string, parts []store.ArtifactPart, want string) (*VerifyReport, error) {
	report := &VerifyReport{}
	for _, p := range parts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		report.PartsChecked++

		path, err := safety.PartPath(dir, p.Name)
		if err != nil {
			report.PartsFailed++
			report.Errors = append(report.Errors, err.Error())
			continue
		}
		sum, size, err := hashFile(path)
		if err != nil {
			report.PartsFailed++
			report.Errors = append(report.Errors, fmt.Sprintf("hashing %s: %v", p.Name, err))
			continue
		}
		if sum != p.SHA256 || size != p.Size {
			report.PartsFailed++
			report.Errors = append(report.Errors,
				fmt.Sprintf("%s: expected sha256 %s (%d bytes), got %s (%d bytes)", p.Name, p.SHA256, p.Size, sum, size))
			continue
		}

		sidecar, err := os.ReadFile(path + ".sha256")
		if err != nil {
			report.PartsFailed++
			report.Errors = append(report.Errors, fmt.Sprintf("reading sidecar for %s: %v", p.Name, err))
			continue
		}
		if fields := strings.Fields(string(sidecar)); len(fields) != 2 || fields[0] != sum || fields[1] != p.Name {
			report.PartsFailed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: sidecar does not match part", p.Name))
		}
	}

	if report.PartsFailed > 0 {
		return report, nil
	}

	checksum, err := artifactChecksum(dir, parts)
	if err != nil {
		return nil, fmt.Errorf("computing checksum: %w", err)
	}
	report.Checksum = checksum
	if want != "" && checksum != want {
		report.Errors = append(report.Errors, fmt.Sprintf("artifact checksum %s does not match recorded %s", checksum, want))
	}
	return report, nil
}

// Verify checks a completed export's artifact on disk.
func (m *Manager) Verify(ctx context.Context, id string) (*VerifyReport, error) {
	exp, err := m.repo.GetExport(ctx, id)
	if err != nil {
		return nil, err
	}
	if exp.Status != store.ExportCompleted || exp.Artifact == nil {
		return nil, fmt.Errorf("%w: %s is %s", ErrNoArtifact, id, exp.Status)
	}
	report, err := VerifyArtifact(ctx, exp.Artifact.Dir, exp.Artifact.Parts, exp.Checksum)
	if err != nil {
		return nil, err
	}
	m.logger.Info("artifact verified", "id", id, "parts", report.PartsChecked, "ok", report.OK())
	return report, nil
}

// UnpackReport summarizes an unpacked artifact.
type UnpackReport struct {
	FilesExtracted int   `json:"files_extracted"`
	TotalSize      int64 `json:"total_size"`
}

// Unpack verifies a completed export and extracts its archive into dest,
// decrypting with the keyring's key when needed.
func (m *Manager) Unpack(ctx context.Context, id, dest string) (*UnpackReport, error) {
	report, err := m.Verify(ctx, id)
	if err != nil {
		return nil, err
	}
	if !report.OK() {
		return nil, fmt.Errorf("artifact failed verification: %s", strings.Join(report.Errors, "; "))
	}

	exp, err := m.repo.GetExport(ctx, id)
	if err != nil {
		return nil, err
	}

	var key []byte
	if exp.Security.EncryptionEnabled {
		if key, err = m.keyring.Key(); err != nil {
			return nil, err
		}
		if fp := KeyFingerprint(key); fp != exp.Security.KeyID {
			return nil, fmt.Errorf("export was encrypted with key %s, keyring has %s", exp.Security.KeyID, fp)
		}
	}

	files, size, err := unpackArtifact(ctx, exp.Artifact.Dir, exp.Artifact.Parts, exp.Configuration.Compression, key, dest)
	if err != nil {
		return nil, err
	}
	m.logger.Info("artifact unpacked", "id", id, "dest", dest, "files", files)
	return &UnpackReport{FilesExtracted: files, TotalSize: size}, nil
}

// unpackArtifact joins the parts, decrypts them when key is set, then
// decompresses and extracts the tar stream under dest.
func unpackArtifact(ctx context.Context, dir string, parts []store.ArtifactPart, compression store.Compression, key []byte, dest string) (int, int64, error) {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(joinParts(dir, parts, key, pw))
	}()
	defer pr.Close()

	dr, err := newDecompressor(compression, pr)
	if err != nil {
		return 0, 0, err
	}
	defer func() {
		_ = dr.Close()
	}()

	return extractTar(ctx, tar.NewReader(dr), dest)
}

func joinParts(dir string, parts []store.ArtifactPart, key []byte, w io.Writer) error {
	for _, p := range parts {
		path, err := safety.PartPath(dir, p.Name)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		if key != nil {
			err = Decrypt(key, f, w)
		} else {
			_, err = io.Copy(w, f)
		}
		_ = f.Close()
		if err != nil {
			return fmt.Errorf("reading %s: %w", p.Name, err)
		}
	}
	return nil
}

func newDecompressor(c store.Compression, r io.Reader) (io.ReadCloser, error) {
	switch c {
	case store.CompressionNone, "":
		return io.NopCloser(r), nil
	case store.CompressionGzip:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("creating gzip reader: %w", err)
		}
		return gr, nil
	case store.CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("creating zstd reader: %w", err)
		}
		return zr.IOReadCloser(), nil
	case store.CompressionXZ:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("creating xz reader: %w", err)
		}
		return io.NopCloser(xr), nil
	default:
		return nil, fmt.Errorf("unsupported compression %q", c)
	}
}

// extractTar writes regular files from tr under dest.
func extractTar(ctx context.Context, tr *tar.Reader, dest string) (int, int64, error) {
	extracted := 0
	totalSize := int64(0)

	for {
		if err := ctx.Err(); err != nil {
			return extracted, totalSize, err
		}
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return extracted, totalSize, fmt.Errorf("reading tar entry: %w", err)
		}

		if header.Typeflag == tar.TypeDir {
			continue
		}
		// Reject symlinks/hardlinks and other non-regular entries.
		if header.Typeflag != tar.TypeReg {
			return extracted, totalSize, fmt.Errorf("unsupported tar entry type for %s: %c", header.Name, header.Typeflag)
		}

		destPath, err := safety.SafeJoinUnder(dest, header.Name)
		if err != nil {
			return extracted, totalSize, fmt.Errorf("unsafe path in archive %q: %w", header.Name, err)
		}
		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return extracted, totalSize, fmt.Errorf("creating directory: %w", err)
		}

		outFile, err := os.Create(destPath)
		if err != nil {
			return extracted, totalSize, fmt.Errorf("creating file %s: %w", destPath, err)
		}
		n, err := io.Copy(outFile, tr)
		if closeErr := outFile.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		if err != nil {
			return extracted, totalSize, fmt.Errorf("extracting %s: %w", header.Name, err)
		}

		extracted++
		totalSize += n
	}

	return extracted, totalSize, nil
}
