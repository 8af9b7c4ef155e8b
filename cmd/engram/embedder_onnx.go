//go:build onnx

package main

import (
	"github.com/m-mizutani/goerr/v2"

	"github.com/engramlabs/engram/memory"
	"github.com/engramlabs/engram/memory/embedder/mock"
	"github.com/engramlabs/engram/memory/embedder/onnx"
)

// newEmbedder builds the configured embedder.
func newEmbedder(cfg *config) (memory.Embedder, error) {
	switch cfg.Embedding.Provider {
	case "mock":
		return mock.New(cfg.Embedding.Dimension), nil
	case "onnx":
		return onnx.New(onnx.Config{
			ModelPath:     cfg.Embedding.ModelPath,
			TokenizerPath: cfg.Embedding.TokenizerPath,
			LibraryPath:   cfg.Embedding.LibraryPath,
			Dimensions:    cfg.Embedding.Dimension,
		})
	default:
		return nil, goerr.Wrap(memory.ErrConfiguration, "unsupported embedding provider",
			goerr.V("provider", cfg.Embedding.Provider), goerr.V("supported", []string{"mock", "onnx"}))
	}
}
