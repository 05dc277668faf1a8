package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BadgerOps/portable/internal/catalog"
	"github.com/BadgerOps/portable/internal/store"
)

func TestSplitWriterParts(t *testing.T) {
	tests := []struct {
		name      string
		limit     int64
		size      int
		wantParts []string
	}{
		{"unsplit", 0, 100, []string{"a.tar"}},
		{"exact multiple", 10, 30, []string{"a.tar.part001", "a.tar.part002", "a.tar.part003"}},
		{"remainder", 10, 25, []string{"a.tar.part001", "a.tar.part002", "a.tar.part003"}},
		{"empty stream", 10, 0, []string{"a.tar.part001"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			data := bytes.Repeat([]byte("x"), tt.size)

			sw := newSplitWriter(dir, "a.tar", tt.limit)
			// write in odd-sized pieces to cross part boundaries mid-write
			for off := 0; off < len(data); off += 7 {
				end := min(off+7, len(data))
				if _, err := sw.Write(data[off:end]); err != nil {
					t.Fatal(err)
				}
			}
			parts, err := sw.close()
			if err != nil {
				t.Fatalf("close() error: %v", err)
			}

			if len(parts) != len(tt.wantParts) {
				t.Fatalf("got %d parts, want %d", len(parts), len(tt.wantParts))
			}
			var total int64
			var joined []byte
			for i, p := range parts {
				if p.Name != tt.wantParts[i] {
					t.Errorf("part %d = %s, want %s", i, p.Name, tt.wantParts[i])
				}
				if tt.limit > 0 && p.Size > tt.limit {
					t.Errorf("part %s is %d bytes, over limit %d", p.Name, p.Size, tt.limit)
				}
				sidecar, err := os.ReadFile(filepath.Join(dir, p.Name+".sha256"))
				if err != nil {
					t.Fatalf("missing sidecar: %v", err)
				}
				if want := fmt.Sprintf("%s  %s\n", p.SHA256, p.Name); string(sidecar) != want {
					t.Errorf("sidecar = %q, want %q", sidecar, want)
				}
				b, _ := os.ReadFile(filepath.Join(dir, p.Name))
				joined = append(joined, b...)
				total += p.Size
			}
			if total != int64(tt.size) || !bytes.Equal(joined, data) {
				t.Error("parts do not reassemble to the input")
			}
		})
	}
}

func TestSplitWriterAbortRemovesParts(t *testing.T) {
	dir := t.TempDir()
	sw := newSplitWriter(dir, "a.tar", 4)
	if _, err := sw.Write([]byte("0123456789")); err != nil {
		t.Fatal(err)
	}
	sw.abort()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("abort left %d files behind", len(entries))
	}
}

func TestArtifactChecksumCoversAllParts(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string]string{"p1": "hello ", "p2": "world"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	whole := filepath.Join(dir, "whole")
	if err := os.WriteFile(whole, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}

	split, err := artifactChecksum(dir, []store.ArtifactPart{{Name: "p1"}, {Name: "p2"}})
	if err != nil {
		t.Fatal(err)
	}
	single, err := artifactChecksum(dir, []store.ArtifactPart{{Name: "whole"}})
	if err != nil {
		t.Fatal(err)
	}
	if split != single {
		t.Errorf("checksum of parts %s != checksum of whole %s", split, single)
	}
	reordered, _ := artifactChecksum(dir, []store.ArtifactPart{{Name: "p2"}, {Name: "p1"}})
	if reordered == split {
		t.Error("checksum ignores part order")
	}
}

func TestArchivePackagerRejectsUnknownCompression(t *testing.T) {
	p := &ArchivePackager{}
	exp := &store.ExportPackage{
		ID:            "exp-1",
		Format:        catalog.FormatDocker,
		Configuration: store.ExportConfiguration{Compression: "lz4"},
	}
	dir := t.TempDir()
	if _, err := p.Package(context.Background(), exp, dir); err == nil {
		t.Fatal("expected error for unsupported compression")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("failed packaging left %d files behind", len(entries))
	}
}

func TestDeployDescriptor(t *testing.T) {
	cat := catalog.Default()
	components, err := cat.ComponentsFor(catalog.FormatKubernetes)
	if err != nil {
		t.Fatal(err)
	}
	exp := &store.ExportPackage{
		ID:             "exp-1",
		Format:         catalog.FormatKubernetes,
		TargetProvider: "on-premise",
		NetworkMode:    catalog.NetworkOffline,
		Components:     components,
		CreatedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	entries, err := bundleEntries(exp, "kustomization.yaml")
	if err != nil {
		t.Fatal(err)
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.name
	}
	if got := strings.Join(names, ","); got != "manifest.json,README.txt,deploy/kubernetes.yaml,offline/dependencies.yaml" {
		t.Fatalf("entries = %s", got)
	}

	var d DeployDescriptor
	if err := yaml.Unmarshal(entries[2].data, &d); err != nil {
		t.Fatal(err)
	}
	if d.Kind != "Deployment" || d.Entrypoint != "kustomization.yaml" || d.Target != "on-premise" {
		t.Errorf("unexpected descriptor header: %+v", d)
	}
	if len(d.Services) != len(components) {
		t.Fatalf("descriptor has %d services, want %d", len(d.Services), len(components))
	}
	for _, s := range d.Services {
		if !s.LocalOnly {
			t.Errorf("service %s not marked local-only in offline mode", s.Name)
		}
	}
}
