// Package cached decorates repositories with a pkg/cache cache.
package cached

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/asakaida/permatrix/internal/entities"
	"github.com/asakaida/permatrix/internal/repositories"
	"github.com/asakaida/permatrix/pkg/cache"
)

var _ repositories.CatalogRepository = (*Catalog)(nil)

const (
	entityPrefix = "entity|"
	parentPrefix = "parent|"
)

// Catalog caches entity and parent descriptions of an underlying catalog.
// Only entries that were found are cached; unknown keys are asked again.
type Catalog struct {
	next  repositories.CatalogRepository
	cache cache.Cache
	ttl   time.Duration
}

// NewCatalog creates a new caching catalog. ttl of zero uses the cache default.
func NewCatalog(next repositories.CatalogRepository, c cache.Cache, ttl time.Duration) *Catalog {
	return &Catalog{next: next, cache: c, ttl: ttl}
}

// Entities implements repositories.CatalogRepository
func (c *Catalog) Entities(ctx context.Context, kind entities.Kind, keys []string) ([]*entities.Entity, error) {
	found := make(map[string]*entities.Entity, len(keys))
	var missing []string
	for _, key := range keys {
		if v, ok := c.cache.Get(ctx, entityKey(kind, key)); ok {
			if e, ok := v.(*entities.Entity); ok {
				found[key] = e
				continue
			}
		}
		missing = append(missing, key)
	}

	if len(missing) > 0 {
		loaded, err := c.next.Entities(ctx, kind, missing)
		if err != nil {
			return nil, err
		}
		for _, e := range loaded {
			found[e.Key()] = e
			if err := c.cache.Set(ctx, entityKey(kind, e.Key()), e, c.ttl); err != nil {
				return nil, fmt.Errorf("failed to cache entity %s: %w", e.Key(), err)
			}
		}
	}

	out := make([]*entities.Entity, 0, len(found))
	for _, key := range keys {
		if e, ok := found[key]; ok {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Parents implements repositories.CatalogRepository
func (c *Catalog) Parents(ctx context.Context, ids []string) ([]*entities.ParentIdentity, error) {
	found := make(map[string]*entities.ParentIdentity, len(ids))
	var missing []string
	for _, id := range ids {
		if v, ok := c.cache.Get(ctx, parentPrefix+id); ok {
			if p, ok := v.(*entities.ParentIdentity); ok {
				found[id] = p
				continue
			}
		}
		missing = append(missing, id)
	}

	if len(missing) > 0 {
		loaded, err := c.next.Parents(ctx, missing)
		if err != nil {
			return nil, err
		}
		for _, p := range loaded {
			found[p.ID] = p
			if err := c.cache.Set(ctx, parentPrefix+p.ID, p, c.ttl); err != nil {
				return nil, fmt.Errorf("failed to cache parent %s: %w", p.ID, err)
			}
		}
	}

	out := make([]*entities.ParentIdentity, 0, len(found))
	for _, id := range ids {
		if p, ok := found[id]; ok {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Invalidate drops cached descriptions named by a change notification.
// Payload format:
//
//	""                     everything
//	"entity:<Kind>"        every entity of a kind
//	"entity:<Kind>:<key>"  one entity; for objects also its fields and record types
//	"parent:<id>"          one parent identity
func (c *Catalog) Invalidate(ctx context.Context, payload string) error {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return c.cache.Clear(ctx)
	}

	parts := strings.SplitN(payload, ":", 3)
	switch {
	case parts[0] == "parent" && len(parts) >= 2:
		return c.cache.Delete(ctx, parentPrefix+strings.Join(parts[1:], ":"))

	case parts[0] == "entity" && len(parts) == 2:
		kind, err := entities.ParseKind(parts[1])
		if err != nil {
			return fmt.Errorf("invalid catalog notification %q: %w", payload, err)
		}
		_, err = c.cache.DeletePrefix(ctx, entityPrefix+string(kind)+"|")
		return err

	case parts[0] == "entity" && len(parts) == 3:
		kind, err := entities.ParseKind(parts[1])
		if err != nil {
			return fmt.Errorf("invalid catalog notification %q: %w", payload, err)
		}
		key := parts[2]
		if err := c.cache.Delete(ctx, entityKey(kind, key)); err != nil {
			return err
		}
		if kind != entities.KindObject {
			return nil
		}
		// a changed object may change the describe of its children
		for _, child := range []entities.Kind{entities.KindField, entities.KindRecordType} {
			if _, err := c.cache.DeletePrefix(ctx, entityKey(child, key+".")); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("invalid catalog notification %q", payload)
	}
}

func entityKey(kind entities.Kind, key string) string {
	return entityPrefix + string(kind) + "|" + key
}
