package templates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/printforge/mockupcore/pkg/pixelimg"
)

func writePNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := pixelimg.New(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, 200, 200, 200, 255)
		}
	}
	data, err := pixelimg.Encode(img, pixelimg.FormatPNG)
	if err != nil {
		t.Fatalf("failed to encode test png: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write test png: %v", err)
	}
	return path
}

func writeCatalogYAML(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("failed to write catalog file: %v", err)
	}
	return path
}

func TestLoadAllBuildsActiveTemplate(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, dir, "base.png", 100, 100)

	defs := []templateDefinition{{
		ID:          "tee-white",
		ProductType: "tshirt",
		Width:       100,
		Height:      100,
		PrintArea:   rectDef{X: 10, Y: 10, Width: 50, Height: 50},
		BaseImage:   filepath.Join(dir, "base.png"),
	}}

	s := NewStore(16)
	loadErrs := s.LoadAll(defs)
	if len(loadErrs) != 0 {
		t.Fatalf("unexpected load errors: %v", loadErrs)
	}

	tmpl, ok := s.Get("tee-white")
	if !ok {
		t.Fatal("expected template to be present and active")
	}
	if tmpl.DisplacementEncoding != EncodingLuma {
		t.Fatalf("expected default luma encoding, got %s", tmpl.DisplacementEncoding)
	}
}

func TestLoadAllMarksBadAssetInactiveWithoutAbortingOthers(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, dir, "good.png", 50, 50)

	defs := []templateDefinition{
		{ID: "broken", Width: 50, Height: 50, PrintArea: rectDef{X: 0, Y: 0, Width: 10, Height: 10}, BaseImage: filepath.Join(dir, "missing.png")},
		{ID: "good", Width: 50, Height: 50, PrintArea: rectDef{X: 0, Y: 0, Width: 10, Height: 10}, BaseImage: filepath.Join(dir, "good.png")},
	}

	s := NewStore(16)
	loadErrs := s.LoadAll(defs)
	if len(loadErrs) != 1 || loadErrs[0].TemplateID != "broken" {
		t.Fatalf("expected exactly one load error for 'broken', got %v", loadErrs)
	}

	if _, ok := s.Get("broken"); ok {
		t.Fatal("expected broken template to be inactive")
	}
	if _, ok := s.Get("good"); !ok {
		t.Fatal("expected good template to still load despite the other's failure")
	}
}

func TestLoadAllRespectsExplicitInactiveFlag(t *testing.T) {
	inactive := false
	defs := []templateDefinition{{ID: "discontinued", Active: &inactive}}

	s := NewStore(16)
	s.LoadAll(defs)

	if _, ok := s.Get("discontinued"); ok {
		t.Fatal("expected explicitly inactive template to be unavailable")
	}
}

func TestListReturnsOnlyActiveTemplatesSortedByID(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, dir, "b.png", 20, 20)
	writePNG(t, dir, "a.png", 20, 20)
	inactive := false

	defs := []templateDefinition{
		{ID: "zzz-inactive", Active: &inactive},
		{ID: "bbb", Width: 20, Height: 20, PrintArea: rectDef{Width: 5, Height: 5}, BaseImage: filepath.Join(dir, "b.png")},
		{ID: "aaa", Width: 20, Height: 20, PrintArea: rectDef{Width: 5, Height: 5}, BaseImage: filepath.Join(dir, "a.png")},
	}

	s := NewStore(16)
	s.LoadAll(defs)

	list := s.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 active templates, got %d", len(list))
	}
	if list[0].ID != "aaa" || list[1].ID != "bbb" {
		t.Fatalf("expected alphabetical order, got %v", list)
	}
}

func TestLoadCatalogDirectoryCollectsErrorsWithoutAborting(t *testing.T) {
	dir := t.TempDir()
	writeCatalogYAML(t, dir, "good.yaml", "templates:\n  - id: ok\n    width: 10\n    height: 10\n")
	writeCatalogYAML(t, dir, "bad.yaml", "templates:\n  - width: 10\n")

	defs, errs := LoadCatalogDirectory(dir, dir)
	if len(errs) != 1 {
		t.Fatalf("expected exactly one file-level error, got %v", errs)
	}
	if len(defs) != 1 || defs[0].ID != "ok" {
		t.Fatalf("expected the valid file's definitions to still load, got %v", defs)
	}
}
