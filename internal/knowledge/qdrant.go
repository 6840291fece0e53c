package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Document is one knowledge-base entry before vectorisation.
type Document struct {
	ID      string
	Content string
	// Payload carries the technique metadata stored alongside the vector:
	// source, mitre_id, technique_name.
	Payload map[string]string
}

// ScoredPoint is one similarity-search hit.
type ScoredPoint struct {
	Score   float64
	Content string
	Payload map[string]string
}

// VectorStore is the similarity-search interface consumed by Base and Loader.
// *QdrantStore satisfies this interface.
type VectorStore interface {
	EnsureCollection(ctx context.Context, dim int) error
	Upsert(ctx context.Context, docs []Document, vectors [][]float32) error
	Search(ctx context.Context, vector []float32, limit int, scoreThreshold float64) ([]ScoredPoint, error)
	Count(ctx context.Context) (int, error)
}

// QdrantConfig holds vector store configuration.
type QdrantConfig struct {
	// BaseURL of the Qdrant HTTP API (e.g. http://localhost:6333).
	BaseURL string
	// APIKey sent in the api-key header; empty disables the header.
	APIKey string
	// Collection name. Default "mitre_attack".
	Collection string
	// Timeout per request. Default 30s.
	Timeout time.Duration
}

// QdrantStore talks to a Qdrant instance over its HTTP API.
type QdrantStore struct {
	cfg        QdrantConfig
	httpClient *http.Client
}

// NewQdrantStore creates a QdrantStore.
func NewQdrantStore(cfg QdrantConfig) *QdrantStore {
	if cfg.Collection == "" {
		cfg.Collection = "mitre_attack"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &QdrantStore{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// EnsureCollection creates the collection with cosine distance if it does not
// exist. Qdrant answers 409 for an existing collection; that is not an error.
func (s *QdrantStore) EnsureCollection(ctx context.Context, dim int) error {
	body := map[string]any{
		"vectors": map[string]any{"size": dim, "distance": "Cosine"},
	}
	status, _, err := s.do(ctx, http.MethodPut, "/collections/"+s.cfg.Collection, body)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusConflict {
		return fmt.Errorf("create collection returned status %d", status)
	}
	return nil
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// Upsert writes docs with their vectors. len(docs) must equal len(vectors).
func (s *QdrantStore) Upsert(ctx context.Context, docs []Document, vectors [][]float32) error {
	if len(docs) != len(vectors) {
		return fmt.Errorf("upsert: %d documents with %d vectors", len(docs), len(vectors))
	}

	points := make([]qdrantPoint, len(docs))
	for i, d := range docs {
		payload := map[string]any{"content": d.Content}
		for k, v := range d.Payload {
			payload[k] = v
		}
		points[i] = qdrantPoint{ID: d.ID, Vector: vectors[i], Payload: payload}
	}

	status, _, err := s.do(ctx, http.MethodPut,
		"/collections/"+s.cfg.Collection+"/points?wait=true",
		map[string]any{"points": points})
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("upsert points returned status %d", status)
	}
	return nil
}

type qdrantSearchResponse struct {
	Result []struct {
		Score   float64        `json:"score"`
		Payload map[string]any `json:"payload"`
	} `json:"result"`
}

// Search returns up to limit points scoring at or above scoreThreshold,
// ordered by descending similarity.
func (s *QdrantStore) Search(ctx context.Context, vector []float32, limit int, scoreThreshold float64) ([]ScoredPoint, error) {
	body := map[string]any{
		"vector":          vector,
		"limit":           limit,
		"score_threshold": scoreThreshold,
		"with_payload":    true,
	}
	status, raw, err := s.do(ctx, http.MethodPost,
		"/collections/"+s.cfg.Collection+"/points/search", body)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", status)
	}

	var parsed qdrantSearchResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	out := make([]ScoredPoint, 0, len(parsed.Result))
	for _, p := range parsed.Result {
		sp := ScoredPoint{Score: p.Score, Payload: make(map[string]string)}
		for k, v := range p.Payload {
			str, ok := v.(string)
			if !ok {
				continue
			}
			if k == "content" {
				sp.Content = str
			} else {
				sp.Payload[k] = str
			}
		}
		out = append(out, sp)
	}
	return out, nil
}

type qdrantCountResponse struct {
	Result struct {
		Count int `json:"count"`
	} `json:"result"`
}

// Count returns the number of points in the collection.
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	status, raw, err := s.do(ctx, http.MethodPost,
		"/collections/"+s.cfg.Collection+"/points/count", map[string]any{"exact": false})
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, fmt.Errorf("count returned status %d", status)
	}

	var parsed qdrantCountResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return 0, fmt.Errorf("decoding count response: %w", err)
	}
	return parsed.Result.Count, nil
}

func (s *QdrantStore) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, s.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("api-key", s.cfg.APIKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("qdrant request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("reading qdrant response: %w", err)
	}
	return resp.StatusCode, raw, nil
}
