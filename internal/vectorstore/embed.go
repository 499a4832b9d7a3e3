package vectorstore

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/agentmem/substrate/internal/errs"
)

// Embedder turns text into a fixed-size vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) (vec []float32, method string, isFallback bool, err error)
}

// hashEmbedder is the deterministic fallback: no external call, same text
// always yields the same vector, which is all the cosine-similarity search
// needs to be useful without a real embedding model configured.
type hashEmbedder struct {
	size int
}

// NewHashEmbedder returns the default embedder. Grounded on the teacher's
// hashString (internal/memory/db.go) generalized from a truncated hex digest
// into a full-size float32 vector by repeated SHA-256 over an incrementing
// block counter, normalized to a unit vector so cosine similarity reduces to
// a dot product.
func NewHashEmbedder(size int) Embedder {
	if size < 2 {
		size = 256
	}
	return &hashEmbedder{size: size}
}

func (h *hashEmbedder) Embed(_ context.Context, text string) ([]float32, string, bool, error) {
	vec := make([]float32, h.size)
	var block uint32
	norm := strings.ToLower(strings.TrimSpace(text))

	for i := 0; i < h.size; i += 8 {
		sum := sha256.Sum256(append([]byte(norm), blockBytes(block)...))
		for j := 0; j < 8 && i+j < h.size; j++ {
			v := binary.BigEndian.Uint32(sum[j*4 : j*4+4])
			// map into [-1, 1)
			vec[i+j] = float32(v)/float32(math.MaxUint32)*2 - 1
		}
		block++
	}

	normalize(vec)
	return vec, "hash-sha256", true, nil
}

func blockBytes(b uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, b)
	return buf
}

func normalize(vec []float32) {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	if sumSq == 0 {
		return
	}
	n := float32(math.Sqrt(sumSq))
	for i := range vec {
		vec[i] /= n
	}
}

// modelEmbedder calls an external embedding endpoint, rate-limited so a
// burst of working-memory writes can never overwhelm it. On any failure it
// falls back to the hash embedder rather than blocking the caller — embedding
// is best-effort, never on the critical write path (spec §4.3).
type modelEmbedder struct {
	url      string
	client   *http.Client
	limiter  *rate.Limiter
	fallback Embedder
}

// NewModelEmbedder wraps a remote embedding endpoint with a token-bucket
// rate limiter (golang.org/x/time/rate) and a deterministic fallback.
func NewModelEmbedder(url string, ratePerSecond float64, burst int, fallback Embedder) Embedder {
	if ratePerSecond <= 0 {
		ratePerSecond = 5
	}
	if burst <= 0 {
		burst = 5
	}
	return &modelEmbedder{
		url:      url,
		client:   &http.Client{Timeout: 5 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		fallback: fallback,
	}
}

type embedRequest struct {
	Input string `json:"input"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (m *modelEmbedder) Embed(ctx context.Context, text string) ([]float32, string, bool, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return m.fallback.Embed(ctx, text)
	}

	body, err := json.Marshal(embedRequest{Input: text})
	if err != nil {
		return m.fallback.Embed(ctx, text)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, strings.NewReader(string(body)))
	if err != nil {
		return m.fallback.Embed(ctx, text)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		vec, method, _, ferr := m.fallback.Embed(ctx, text)
		return vec, method, true, combineDegraded(ferr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		vec, method, _, ferr := m.fallback.Embed(ctx, text)
		return vec, method, true, combineDegraded(ferr, fmt.Errorf("embedding model returned status %d", resp.StatusCode))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		vec, method, _, ferr := m.fallback.Embed(ctx, text)
		return vec, method, true, combineDegraded(ferr, err)
	}

	normalize(out.Embedding)
	return out.Embedding, "model", false, nil
}

func combineDegraded(fallbackErr, cause error) error {
	if fallbackErr != nil {
		return fallbackErr
	}
	return fmt.Errorf("vectorstore: embedding model unavailable, used fallback: %v: %w", cause, errs.DegradedExternal)
}
