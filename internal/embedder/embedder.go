// Package embedder implements the text-to-vector component of the memory
// lifecycle engine (spec §4.1): a pluggable Embedder interface, a
// production HTTP-backed client, and a deterministic embedder for tests.
package embedder

import (
	"context"
	"errors"
	"sync"
)

// sentinelText is embedded once, on first VectorSize call, to detect the
// backend's native dimension (spec §4.1).
const sentinelText = "test"

// ErrEmptyInput is returned when Embed/EmbedBatch is called with no text.
var ErrEmptyInput = errors.New("embedder: empty input")

// Embedder converts text to dense float vectors.
type Embedder interface {
	// Embed returns the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one embedding per input text, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// VectorSize reports the backend's native dimension, detected by
	// embedding sentinelText on first call and cached thereafter. Must be
	// called (directly or via Service.Initialize) before the vector store
	// is initialized.
	VectorSize(ctx context.Context) (int, error)
}

// rawClient is the minimal surface each concrete backend must provide;
// cachingEmbedder adds the shared VectorSize-detection-and-cache behavior
// (spec §5 "the embedder's cached vectorSize is written once and read
// many times") on top of it, mirroring how rag/embedder wraps rate
// limiting around a bare HTTP call.
type rawClient interface {
	embedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type cachingEmbedder struct {
	client rawClient

	once sync.Once
	dim  int
	err  error
}

func wrap(c rawClient) Embedder {
	return &cachingEmbedder{client: c}
}

func (e *cachingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	out, err := e.client.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (e *cachingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	return e.client.embedBatch(ctx, texts)
}

func (e *cachingEmbedder) VectorSize(ctx context.Context) (int, error) {
	e.once.Do(func() {
		vecs, err := e.client.embedBatch(ctx, []string{sentinelText})
		e.err = err
		if err != nil {
			return
		}
		e.dim = len(vecs[0])
	})
	if e.err != nil {
		// allow a later call to retry if the first attempt failed
		e.once = sync.Once{}
		return 0, e.err
	}
	return e.dim, nil
}
