package memory

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// Config holds Manager configuration.
//
// Dimension is the one hard invariant: it is fixed for the lifetime of the
// engine and must match the embedder. A mismatch is a constructor-time
// configuration error, never a per-record silent failure.
type Config struct {
	// Dimension is the embedding vector size. Required.
	Dimension int

	// SimilarityThreshold is the default cosine-similarity lower bound
	// [0.0-1.0] for retrieval when the caller does not supply one.
	SimilarityThreshold float64

	// SimilarityWeight and ActivationWeight blend vector similarity and
	// concept-graph activation into one relevance score. The exact ratio is
	// an empirical tuning area, so it is configuration rather than contract.
	SimilarityWeight float64
	ActivationWeight float64

	// ContentCeiling is the maximum combined prompt+output length (in
	// characters) that will be embedded and concept-extracted. Longer
	// content takes the deferred plain-document path.
	ContentCeiling int

	// ProviderTimeout bounds each external provider call. Zero disables
	// the bound.
	ProviderTimeout time.Duration

	// PromotionThreshold is the access count at which a short-term record
	// is promoted to the long-term tier.
	PromotionThreshold int

	// ReinforcementStep raises a record's decay factor toward 1.0 on each
	// retrieval access.
	ReinforcementStep float64

	// MinDecayFactor floors decay so old records stay reachable.
	MinDecayFactor float64

	// ClusterThreshold is the minimum centroid similarity for joining an
	// existing semantic cluster; below it a new cluster is opened.
	ClusterThreshold float64

	// CacheSize and CacheTTL bound the embedding cache.
	CacheSize int
	CacheTTL  time.Duration
}

// DefaultConfig holds sensible defaults for a local engine. Dimension is
// deliberately absent: it must come from the embedder configuration.
var DefaultConfig = &Config{
	SimilarityThreshold: 0.7,
	SimilarityWeight:    1.0,
	ActivationWeight:    0.3,
	ContentCeiling:      8000,
	ProviderTimeout:     30 * time.Second,
	PromotionThreshold:  5,
	ReinforcementStep:   0.1,
	MinDecayFactor:      0.1,
	ClusterThreshold:    0.75,
	CacheSize:           2048,
	CacheTTL:            time.Hour,
}

// WithDefaults returns a copy with zero fields filled from DefaultConfig,
// leaving Dimension alone.
func (c *Config) WithDefaults() *Config {
	out := *c
	d := DefaultConfig
	if out.SimilarityThreshold == 0 {
		out.SimilarityThreshold = d.SimilarityThreshold
	}
	if out.SimilarityWeight == 0 {
		out.SimilarityWeight = d.SimilarityWeight
	}
	if out.ActivationWeight == 0 {
		out.ActivationWeight = d.ActivationWeight
	}
	if out.ContentCeiling == 0 {
		out.ContentCeiling = d.ContentCeiling
	}
	if out.ProviderTimeout == 0 {
		out.ProviderTimeout = d.ProviderTimeout
	}
	if out.PromotionThreshold == 0 {
		out.PromotionThreshold = d.PromotionThreshold
	}
	if out.ReinforcementStep == 0 {
		out.ReinforcementStep = d.ReinforcementStep
	}
	if out.MinDecayFactor == 0 {
		out.MinDecayFactor = d.MinDecayFactor
	}
	if out.ClusterThreshold == 0 {
		out.ClusterThreshold = d.ClusterThreshold
	}
	if out.CacheSize == 0 {
		out.CacheSize = d.CacheSize
	}
	if out.CacheTTL == 0 {
		out.CacheTTL = d.CacheTTL
	}
	return &out
}

func (c *Config) validate() error {
	if c.Dimension <= 0 {
		return goerr.Wrap(ErrConfiguration, "embedding dimension is required",
			goerr.V("dimension", c.Dimension))
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return goerr.Wrap(ErrConfiguration, "similarity threshold out of range",
			goerr.V("threshold", c.SimilarityThreshold))
	}
	if c.SimilarityWeight < 0 || c.ActivationWeight < 0 {
		return goerr.Wrap(ErrConfiguration, "blending weights must be non-negative",
			goerr.V("similarity", c.SimilarityWeight), goerr.V("activation", c.ActivationWeight))
	}
	return nil
}
