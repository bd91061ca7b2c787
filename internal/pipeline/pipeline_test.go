package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/printforge/mockupcore/internal/compositor"
	"github.com/printforge/mockupcore/internal/creds"
	"github.com/printforge/mockupcore/internal/fetch"
	"github.com/printforge/mockupcore/internal/ratelimit"
	"github.com/printforge/mockupcore/internal/store"
	"github.com/printforge/mockupcore/internal/usage"
	"github.com/printforge/mockupcore/pkg/pixelimg"
	"github.com/printforge/mockupcore/pkg/templates"
)

const validKey = "rim_abcdefghijklmnopqrstuvwxyz01"

func solidPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := pixelimg.New(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, 255, 0, 0, 255)
		}
	}
	data, err := pixelimg.Encode(img, pixelimg.FormatPNG)
	if err != nil {
		t.Fatalf("failed to encode design png: %v", err)
	}
	return data
}

func newTestPipeline(t *testing.T) (*Pipeline, *templates.Store) {
	t.Helper()
	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.RunMigrations(); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	credStore := creds.NewStore(db)
	if err := credStore.Create(context.Background(), "principal-1", validKey, "standard", 60, 1000, nil); err != nil {
		t.Fatalf("failed to seed credential: %v", err)
	}

	dir := t.TempDir()
	basePath := filepath.Join(dir, "tee-white-base.png")
	writeSolidPNG(t, basePath, 100, 100)
	writeCatalogYAML(t, filepath.Join(dir, "catalog.yaml"), `templates:
  - id: tee-white
    product_type: tshirt
    width: 100
    height: 100
    print_area:
      x: 10
      y: 10
      width: 80
      height: 80
    base_image: tee-white-base.png
`)

	templateStore := templates.NewStore(16)
	defs, loadErrs := templates.LoadCatalogDirectory(dir, dir)
	if len(loadErrs) != 0 {
		t.Fatalf("unexpected catalog load errors: %v", loadErrs)
	}
	if errs := templateStore.LoadAll(defs); len(errs) != 0 {
		t.Fatalf("unexpected template load errors: %v", errs)
	}

	limiter := ratelimit.NewMemoryLimiter()
	fetcher := fetch.New(1024*1024, 0)
	pool := compositor.NewPool(2, 8)
	t.Cleanup(pool.Close)
	usageRecorder := usage.NewRecorder(db)

	return New(credStore, limiter, fetcher, templateStore, pool, usageRecorder), templateStore
}

func writeSolidPNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := pixelimg.New(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, 240, 240, 240, 255)
		}
	}
	data, err := pixelimg.Encode(img, pixelimg.FormatPNG)
	if err != nil {
		t.Fatalf("failed to encode base png: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write base png: %v", err)
	}
}

func writeCatalogYAML(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("failed to write catalog file: %v", err)
	}
}

func TestRenderOnceHappyPath(t *testing.T) {
	p, _ := newTestPipeline(t)

	body := solidPNG(t, 50, 50)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(body)
	}))
	defer srv.Close()

	req := Request{
		APIKey:     validKey,
		TemplateID: "tee-white",
		DesignURL:  srv.URL,
		Placement:  compositor.Placement{Scale: 1},
	}
	result, err := p.RenderOnce(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Image.Width != 100 || result.Image.Height != 100 {
		t.Fatalf("expected 100x100 output, got %dx%d", result.Image.Width, result.Image.Height)
	}
	if result.Principal.ID != "principal-1" {
		t.Fatalf("unexpected principal: %+v", result.Principal)
	}
}

func TestRenderOnceFailsAuthStageOnBadKey(t *testing.T) {
	p, _ := newTestPipeline(t)
	req := Request{APIKey: "rim_totallywrongkeyvaluehere00", TemplateID: "tee-white", DesignURL: "http://example.invalid/x.png"}

	_, err := p.RenderOnce(context.Background(), req)
	assertStage(t, err, "auth")
}

func TestRenderOnceFailsTemplateStageOnUnknownTemplate(t *testing.T) {
	p, _ := newTestPipeline(t)
	req := Request{APIKey: validKey, TemplateID: "does-not-exist", DesignURL: "http://example.invalid/x.png"}

	_, err := p.RenderOnce(context.Background(), req)
	assertStage(t, err, "template")
}

func TestRenderOnceFailsFetchStageOnBadURL(t *testing.T) {
	p, _ := newTestPipeline(t)
	req := Request{APIKey: validKey, TemplateID: "tee-white", DesignURL: "not-a-url"}

	_, err := p.RenderOnce(context.Background(), req)
	assertStage(t, err, "fetch")
}

func assertStage(t *testing.T, err error, stage string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error at stage %s, got nil", stage)
	}
	se, ok := err.(*StageError)
	if !ok {
		t.Fatalf("expected *StageError, got %T: %v", err, err)
	}
	if se.Stage != stage {
		t.Fatalf("expected stage %s, got %s (%v)", stage, se.Stage, err)
	}
}
