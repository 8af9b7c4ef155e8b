//go:build !onnx

package main

import (
	"github.com/m-mizutani/goerr/v2"

	"github.com/engramlabs/engram/memory"
	"github.com/engramlabs/engram/memory/embedder/mock"
)

// newEmbedder builds the configured embedder. The onnx provider requires the
// onnx build tag; without it only the deterministic mock is available.
func newEmbedder(cfg *config) (memory.Embedder, error) {
	switch cfg.Embedding.Provider {
	case "mock":
		return mock.New(cfg.Embedding.Dimension), nil
	case "onnx":
		return nil, goerr.Wrap(memory.ErrConfiguration,
			"onnx embedder requires a binary built with the onnx tag")
	default:
		return nil, goerr.Wrap(memory.ErrConfiguration, "unsupported embedding provider",
			goerr.V("provider", cfg.Embedding.Provider), goerr.V("supported", []string{"mock", "onnx"}))
	}
}
