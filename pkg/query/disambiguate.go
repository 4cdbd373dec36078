package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/murre-ai/murre/pkg/ai"
	"github.com/murre-ai/murre/pkg/graph"
	"github.com/murre-ai/murre/pkg/logger"
	"github.com/murre-ai/murre/pkg/store"
)

const (
	resolveExact     = "exact"
	resolveSubstring = "substring"
	resolveVector    = "vector"

	disambiguateDefaultTopK = 5
)

// Disambiguator extracts the entities a question is about and resolves
// them to graph node ids. It fails soft: a model failure or a degraded
// store lookup yields an empty seed set. Only an unreachable store is
// returned as an error.
type Disambiguator struct {
	Store store.GraphStore
	AI    ai.Client
}

// Disambiguate asks the model for up to topK candidate entity names, then
// resolves each through a cascade: case-insensitive exact name match,
// bidirectional substring match preferring the shortest matching name, and
// finally nearest-neighbor vector match. Unresolved names are dropped.
func (d *Disambiguator) Disambiguate(ctx context.Context, tenant, queryText string, topK int) ([]graph.SeedEntity, error) {
	if topK <= 0 {
		topK = disambiguateDefaultTopK
	}

	summaries, err := d.communitySummaries(ctx, tenant)
	if err != nil {
		return nil, err
	}
	prompt := fmt.Sprintf(ai.SeedEntityPrompt, queryText, summaries, topK)
	raw, err := d.AI.GenerateCompletion(ctx, prompt, ai.WithTemperature(0))
	if err != nil {
		logger.Warn("entity extraction failed, continuing without seeds", "err", err)
		return nil, nil
	}

	names := ai.ParseBulletList(raw)
	if len(names) > topK {
		names = names[:topK]
	}

	seeds := make([]graph.SeedEntity, 0, len(names))
	for _, name := range names {
		name = ai.StripSymmetricQuotes(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		seed, ok, err := d.resolve(ctx, tenant, name)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		seeds = append(seeds, seed)
	}
	return seeds, nil
}

func (d *Disambiguator) resolve(ctx context.Context, tenant, name string) (graph.SeedEntity, bool, error) {
	if entity, ok, err := d.resolveExact(ctx, tenant, name); err != nil {
		return graph.SeedEntity{}, false, err
	} else if ok {
		return graph.SeedEntity{RawName: name, ResolvedID: entity.ID, Strategy: resolveExact}, true, nil
	}
	if entity, ok, err := d.resolveSubstring(ctx, tenant, name); err != nil {
		return graph.SeedEntity{}, false, err
	} else if ok {
		return graph.SeedEntity{RawName: name, ResolvedID: entity.ID, Strategy: resolveSubstring}, true, nil
	}
	if entity, ok, err := d.resolveVector(ctx, tenant, name); err != nil {
		return graph.SeedEntity{}, false, err
	} else if ok {
		return graph.SeedEntity{RawName: name, ResolvedID: entity.ID, Strategy: resolveVector}, true, nil
	}
	return graph.SeedEntity{}, false, nil
}

func (d *Disambiguator) resolveExact(ctx context.Context, tenant, name string) (graph.Entity, bool, error) {
	entities, err := d.Store.GetEntitiesByNames(ctx, tenant, []string{name})
	if err != nil {
		if fatal(err) {
			return graph.Entity{}, false, err
		}
		logger.Warn("exact name lookup degraded", "name", name, "err", err)
		return graph.Entity{}, false, nil
	}
	if len(entities) == 0 {
		return graph.Entity{}, false, nil
	}
	return entities[0], true, nil
}

// resolveSubstring matches when either string contains the other, taking
// the shortest matching graph name so "Acme" binds to "Acme Corp" rather
// than "Acme Corp Holding Subsidiary LLC".
func (d *Disambiguator) resolveSubstring(ctx context.Context, tenant, name string) (graph.Entity, bool, error) {
	allNames, err := d.Store.ListEntityNames(ctx, tenant)
	if err != nil {
		if fatal(err) {
			return graph.Entity{}, false, err
		}
		logger.Warn("entity name listing degraded", "err", err)
		return graph.Entity{}, false, nil
	}

	nameLower := strings.ToLower(name)
	best := ""
	for _, candidate := range allNames {
		candidateLower := strings.ToLower(candidate)
		if !strings.Contains(candidateLower, nameLower) && !strings.Contains(nameLower, candidateLower) {
			continue
		}
		if best == "" || len(candidate) < len(best) {
			best = candidate
		}
	}
	if best == "" {
		return graph.Entity{}, false, nil
	}

	entities, err := d.Store.GetEntitiesByNames(ctx, tenant, []string{best})
	if err != nil {
		if fatal(err) {
			return graph.Entity{}, false, err
		}
		return graph.Entity{}, false, nil
	}
	if len(entities) == 0 {
		return graph.Entity{}, false, nil
	}
	return entities[0], true, nil
}

func (d *Disambiguator) resolveVector(ctx context.Context, tenant, name string) (graph.Entity, bool, error) {
	embedding, err := d.AI.GenerateEmbedding(ctx, []byte(name))
	if err != nil {
		logger.Warn("seed embedding degraded", "name", name, "err", err)
		return graph.Entity{}, false, nil
	}
	entities, err := d.Store.SearchEntitiesByEmbedding(ctx, tenant, embedding, 1)
	if err != nil {
		if fatal(err) {
			return graph.Entity{}, false, err
		}
		return graph.Entity{}, false, nil
	}
	if len(entities) == 0 {
		return graph.Entity{}, false, nil
	}
	return entities[0], true, nil
}

// communitySummaries renders the highest-ranked community summaries as
// optional prompt context. Empty output is fine; the prompt tolerates it.
func (d *Disambiguator) communitySummaries(ctx context.Context, tenant string) (string, error) {
	communities, err := d.Store.ListCommunities(ctx, tenant)
	if err != nil {
		if fatal(err) {
			return "", err
		}
		return "", nil
	}
	if len(communities) > 3 {
		communities = communities[:3]
	}
	var b strings.Builder
	for _, c := range communities {
		fmt.Fprintf(&b, "- %s: %s\n", c.Title, c.Summary)
	}
	return b.String(), nil
}
