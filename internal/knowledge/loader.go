package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// embedBatchSize bounds how many documents go to the embeddings API at once.
const embedBatchSize = 64

// LoaderConfig holds knowledge ingestion configuration.
type LoaderConfig struct {
	// SourceURL of the MITRE ATT&CK STIX bundle (enterprise-attack.json).
	SourceURL string
	// Timeout for the bundle download. Default 2 minutes.
	Timeout time.Duration
}

// Loader ingests the MITRE ATT&CK technique corpus into the vector store at
// startup. Ingestion failure leaves the base empty; retrieval then degrades
// to the fallback recommendation, so the pipeline keeps running.
type Loader struct {
	store      VectorStore
	embedder   Embedder
	cfg        LoaderConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewLoader creates a Loader.
func NewLoader(store VectorStore, embedder Embedder, cfg LoaderConfig, logger *zap.Logger) *Loader {
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Loader{
		store:      store,
		embedder:   embedder,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// stixBundle is the subset of the STIX 2.x bundle format the loader reads.
type stixBundle struct {
	Objects []stixObject `json:"objects"`
}

type stixObject struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Deprecated  bool   `json:"x_mitre_deprecated"`
	ExternalRefs []struct {
		SourceName string `json:"source_name"`
		ExternalID string `json:"external_id"`
	} `json:"external_references"`
}

// Run downloads the ATT&CK bundle, extracts active attack-pattern techniques,
// embeds them in batches, and upserts them into the vector store. If the
// store already holds documents the load is skipped.
func (l *Loader) Run(ctx context.Context) error {
	if n, err := l.store.Count(ctx); err == nil && n > 0 {
		l.logger.Info("knowledge base already populated, skipping ingestion",
			zap.Int("documents", n))
		return nil
	}

	l.logger.Info("starting MITRE ATT&CK knowledge ingestion",
		zap.String("source", l.cfg.SourceURL))

	docs, err := l.fetchTechniques(ctx)
	if err != nil {
		return fmt.Errorf("fetch techniques: %w", err)
	}
	if len(docs) == 0 {
		return fmt.Errorf("no attack-pattern objects found in bundle")
	}

	l.logger.Info("techniques extracted, embedding and saving",
		zap.Int("count", len(docs)))

	first := true
	for start := 0; start < len(docs); start += embedBatchSize {
		end := min(start+embedBatchSize, len(docs))
		batch := docs[start:end]

		texts := make([]string, len(batch))
		for i, d := range batch {
			texts[i] = d.Content
		}

		vectors, err := l.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch at %d: %w", start, err)
		}

		if first {
			if err := l.store.EnsureCollection(ctx, len(vectors[0])); err != nil {
				return fmt.Errorf("ensure collection: %w", err)
			}
			first = false
		}

		if err := l.store.Upsert(ctx, batch, vectors); err != nil {
			return fmt.Errorf("upsert batch at %d: %w", start, err)
		}
	}

	l.logger.Info("knowledge base ready", zap.Int("documents", len(docs)))
	return nil
}

func (l *Loader) fetchTechniques(ctx context.Context) ([]Document, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.cfg.SourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download bundle: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bundle download returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading bundle: %w", err)
	}

	var bundle stixBundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return nil, fmt.Errorf("decoding bundle: %w", err)
	}

	var docs []Document
	for _, obj := range bundle.Objects {
		if obj.Type != "attack-pattern" || obj.Deprecated {
			continue
		}

		name := obj.Name
		if name == "" {
			name = "Unknown"
		}

		mitreID := "Unknown"
		for _, ref := range obj.ExternalRefs {
			if ref.SourceName == "mitre-attack" {
				mitreID = ref.ExternalID
				break
			}
		}

		docs = append(docs, Document{
			ID:      uuid.New().String(),
			Content: fmt.Sprintf("Technique: %s (%s). Description: %s", name, mitreID, obj.Description),
			Payload: map[string]string{
				"source":         "MITRE ATT&CK",
				"mitre_id":       mitreID,
				"technique_name": name,
			},
		})
	}
	return docs, nil
}
