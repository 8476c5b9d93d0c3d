// Package sites holds the registry of sites and entity types that accept reviews.
package sites

import (
	"fmt"

	pkgconfig "github.com/localguide/reviews/pkg/config"
	"github.com/localguide/reviews/pkg/slug"
	"github.com/localguide/reviews/services/review/internal/domain"
)

// Site is one registered website.
type Site struct {
	Slug        string   `yaml:"slug"`
	Name        string   `yaml:"name"`
	EntityTypes []string `yaml:"entity_types"`
}

type file struct {
	Sites []Site `yaml:"sites"`
}

// Registry answers whether a scope belongs to a known site and entity type.
// A nil Registry accepts every well-formed scope.
type Registry struct {
	sites map[string]map[string]struct{}
}

// Load reads a registry from a YAML file.
func Load(path string) (*Registry, error) {
	var f file
	if err := pkgconfig.LoadYAML(path, &f); err != nil {
		return nil, fmt.Errorf("load site registry: %w", err)
	}
	return New(f.Sites)
}

// Parse builds a registry from raw YAML.
func Parse(raw []byte) (*Registry, error) {
	var f file
	if err := pkgconfig.DecodeYAML(raw, &f); err != nil {
		return nil, fmt.Errorf("parse site registry: %w", err)
	}
	return New(f.Sites)
}

// New builds a registry from site definitions, rejecting malformed slugs and
// duplicates.
func New(sites []Site) (*Registry, error) {
	r := &Registry{
		sites: make(map[string]map[string]struct{}, len(sites)),
	}
	for _, s := range sites {
		if !slug.Valid(s.Slug) {
			return nil, fmt.Errorf("site %q: invalid slug", s.Slug)
		}
		if _, dup := r.sites[s.Slug]; dup {
			return nil, fmt.Errorf("site %q: defined twice", s.Slug)
		}
		if len(s.EntityTypes) == 0 {
			return nil, fmt.Errorf("site %q: no entity types", s.Slug)
		}
		types := make(map[string]struct{}, len(s.EntityTypes))
		for _, et := range s.EntityTypes {
			if !slug.Valid(et) {
				return nil, fmt.Errorf("site %q: invalid entity type %q", s.Slug, et)
			}
			types[et] = struct{}{}
		}
		r.sites[s.Slug] = types
	}
	return r, nil
}

// Allows reports whether reviews may be read or written for scope.
func (r *Registry) Allows(scope domain.Scope) bool {
	if !scope.Valid() {
		return false
	}
	if r == nil {
		return true
	}
	types, ok := r.sites[scope.SiteSlug]
	if !ok {
		return false
	}
	_, ok = types[scope.EntityType]
	return ok
}

// Len returns the number of registered sites.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.sites)
}
