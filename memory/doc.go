// Package memory implements a semantic memory engine: it stores
// prompt/response interactions together with vector embeddings and extracted
// concepts, and retrieves the subset most relevant to a new query.
//
// Architecture:
//   - Manager: single entry point; sequences embedding generation, concept
//     extraction, storage, and multi-source retrieval
//   - index.Index: the unified in-memory working set (short/long-term tiers,
//     vector similarity index, concept co-occurrence graph, clusters)
//   - store.Store: transactional triple-based durable persistence
//   - cache.Embeddings: bounded, TTL'd memoization of embedding calls
//
// The in-memory index is an acceleration structure, not the source of truth:
// every write goes through to durable storage, and a process restart
// rehydrates equivalent state from it.
//
// Oversized content (combined text over the configured ceiling) skips
// embedding and concept extraction entirely and is written to durable
// storage as a plain document record. This keeps provider cost and
// in-memory vector storage bounded regardless of caller-supplied content.
package memory
