package templates

import (
	"fmt"
	"sort"
	"sync"

	"github.com/printforge/mockupcore/internal/logging"
)

// Store indexes templates loaded once at process start. Once LoadAll
// returns, the templates map is never mutated again — construct, freeze,
// and share by read-only reference. The mutex below only protects the
// brief load window.
type Store struct {
	mu        sync.RWMutex
	templates map[string]*Template
	order     []string
	assets    *AssetCache
	logger    *logging.Logger
}

// LoadError records a single template's decode failure without aborting
// the rest of startup.
type LoadError struct {
	TemplateID string
	Err        error
}

func (e LoadError) Error() string {
	return fmt.Sprintf("template %s: %v", e.TemplateID, e.Err)
}

// NewStore creates an empty store backed by an asset cache of the given
// capacity (number of decoded images to retain).
func NewStore(assetCacheCapacity int) *Store {
	return &Store{
		templates: make(map[string]*Template),
		assets:    NewAssetCache(assetCacheCapacity),
		logger:    logging.NewLogger("templates.Store"),
	}
}

// LoadAll decodes every definition's assets and populates the store.
// Assets that fail to decode mark that one template unavailable (Active =
// false) and are logged, but never abort the load of the remaining
// templates — this mirrors LoadFromDirectory's "collect errors, keep
// going" behavior, extended to per-asset decode failures.
func (s *Store) LoadAll(defs []templateDefinition) []LoadError {
	var loadErrs []LoadError

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, def := range defs {
		tmpl, err := s.buildTemplate(def)
		if err != nil {
			loadErrs = append(loadErrs, LoadError{TemplateID: def.ID, Err: err})
			s.logger.ErrorWithContext("template unavailable", err, map[string]interface{}{"template_id": def.ID})
			tmpl = &Template{ID: def.ID, Active: false}
		}
		if _, exists := s.templates[def.ID]; !exists {
			s.order = append(s.order, def.ID)
		}
		s.templates[def.ID] = tmpl
	}

	sort.Strings(s.order)
	return loadErrs
}

func (s *Store) buildTemplate(def templateDefinition) (*Template, error) {
	if def.Active != nil && !*def.Active {
		return &Template{ID: def.ID, Active: false}, nil
	}

	base, err := s.assets.Load(def.BaseImage)
	if err != nil {
		return nil, fmt.Errorf("base image: %w", err)
	}
	if base.Width != def.Width || base.Height != def.Height {
		return nil, fmt.Errorf("base image is %dx%d, catalog declares %dx%d", base.Width, base.Height, def.Width, def.Height)
	}

	encoding := DisplacementEncoding(def.DisplacementEncoding)
	if encoding == "" {
		encoding = EncodingLuma
	}

	tmpl := &Template{
		ID:                   def.ID,
		ProductType:          def.ProductType,
		Variant:              def.Variant,
		Color:                def.Color,
		Width:                def.Width,
		Height:               def.Height,
		PrintArea:            Rect{def.PrintArea.X, def.PrintArea.Y, def.PrintArea.Width, def.PrintArea.Height},
		DisplacementEncoding: encoding,
		DisplacementStrength: def.DisplacementStrength,
		BaseImage:            base,
		Active:               true,
	}

	if err := tmpl.PrintArea.Validate(def.Width, def.Height); err != nil {
		return nil, err
	}

	if def.DisplacementMap != "" {
		dm, err := s.assets.Load(def.DisplacementMap)
		if err != nil {
			return nil, fmt.Errorf("displacement map: %w", err)
		}
		if dm.Width != def.Width || dm.Height != def.Height {
			return nil, fmt.Errorf("displacement map is %dx%d, expected %dx%d", dm.Width, dm.Height, def.Width, def.Height)
		}
		tmpl.DisplacementMap = dm
	}

	if def.Mask != "" {
		m, err := s.assets.Load(def.Mask)
		if err != nil {
			return nil, fmt.Errorf("mask: %w", err)
		}
		if m.Width != def.Width || m.Height != def.Height {
			return nil, fmt.Errorf("mask is %dx%d, expected %dx%d", m.Width, m.Height, def.Width, def.Height)
		}
		tmpl.Mask = m
	}

	return tmpl, nil
}

// Get performs an O(1) lookup by id.
func (s *Store) Get(id string) (*Template, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id]
	if !ok || !t.Active {
		return nil, false
	}
	return t, true
}

// List returns summaries for every active template, stably ordered by id.
func (s *Store) List() []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Summary, 0, len(s.order))
	for _, id := range s.order {
		t := s.templates[id]
		if !t.Active {
			continue
		}
		out = append(out, Summary{
			ID:          t.ID,
			ProductType: t.ProductType,
			Width:       t.Width,
			Height:      t.Height,
			PrintArea:   t.PrintArea,
		})
	}
	return out
}

// AssetCacheStats exposes cache hit/miss counters for diagnostics.
func (s *Store) AssetCacheStats() CacheStats {
	return s.assets.Stats()
}
