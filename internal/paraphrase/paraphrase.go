// Package paraphrase rewrites a base prompt into diverging variants
// across voting rounds so repeated samples at the same temperature
// don't collapse onto identical wording.
package paraphrase

import (
	"context"
	"fmt"
	"sync"

	"github.com/ultracode-dev/forge/internal/provider"
)

// cacheKey identifies one paraphrase result: the same inputs always
// produce the same cached output within a round.
type cacheKey struct {
	round        int
	sample       int
	model        string
	promptPrefix string
}

const promptPrefixLen = 120

// Paraphraser rewrites prompts through a Provider, caching results in
// a bounded FIFO so repeated (round, sample, model, prompt) lookups
// within a run don't re-spend tokens.
type Paraphraser struct {
	p        provider.Provider
	maxCache int

	mu    sync.Mutex
	cache map[cacheKey]string
	order []cacheKey
}

// New creates a Paraphraser backed by p, retaining up to maxCache
// entries before evicting the oldest.
func New(p provider.Provider, maxCache int) *Paraphraser {
	if maxCache <= 0 {
		maxCache = 256
	}
	return &Paraphraser{
		p:        p,
		maxCache: maxCache,
		cache:    make(map[cacheKey]string),
	}
}

func prefixOf(s string) string {
	if len(s) <= promptPrefixLen {
		return s
	}
	return s[:promptPrefixLen]
}

// Rewrite paraphrases prompt for the given round/sample index. If the
// provider call fails, Rewrite never errors out the caller: it falls
// back to returning the original prompt unchanged, since a failed
// paraphrase should degrade voting diversity, not abort the round.
func (pp *Paraphraser) Rewrite(ctx context.Context, round, sample int, prompt string) string {
	key := cacheKey{round: round, sample: sample, model: pp.p.Model(), promptPrefix: prefixOf(prompt)}

	pp.mu.Lock()
	if cached, ok := pp.cache[key]; ok {
		pp.mu.Unlock()
		return cached
	}
	pp.mu.Unlock()

	instruction := fmt.Sprintf(
		"Rewrite the following instruction using different wording while preserving its exact meaning and constraints. Return only the rewritten instruction, no preamble.\n\n%s",
		prompt,
	)

	result, err := pp.p.Generate(ctx, instruction, provider.Options{MaxTokens: 2048})
	rewritten := prompt
	if err == nil && result.Content != "" {
		rewritten = result.Content
	}

	pp.store(key, rewritten)
	return rewritten
}

func (pp *Paraphraser) store(key cacheKey, value string) {
	pp.mu.Lock()
	defer pp.mu.Unlock()

	if _, exists := pp.cache[key]; !exists {
		pp.order = append(pp.order, key)
		for len(pp.order) > pp.maxCache {
			oldest := pp.order[0]
			pp.order = pp.order[1:]
			delete(pp.cache, oldest)
		}
	}
	pp.cache[key] = value
}

// CacheSize returns the number of entries currently cached.
func (pp *Paraphraser) CacheSize() int {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return len(pp.cache)
}
