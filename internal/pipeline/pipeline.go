// Package pipeline drives the ingestion of telemetry events: decode,
// credential validation, persistence, enrichment, knowledge retrieval, and
// the inference call that produces a threat verdict.
package pipeline

import (
	"context"
	"time"

	"github.com/sentinelagent/sentinel-backend/internal/agent"
	"github.com/sentinelagent/sentinel-backend/internal/enrichment"
	"github.com/sentinelagent/sentinel-backend/internal/inference"
	"github.com/sentinelagent/sentinel-backend/internal/knowledge"
	"github.com/sentinelagent/sentinel-backend/internal/telemetry"
	"go.uber.org/zap"
)

// persistAttempts bounds retries of a failed report-store write before the
// event goes to the dead-letter topic.
const persistAttempts = 3

// persistBackoff is the delay between persistence retries.
const persistBackoff = 250 * time.Millisecond

// Verifier validates the credentials attached to a telemetry event.
// *agent.Directory satisfies this interface.
type Verifier interface {
	Verify(ctx context.Context, agentID, apiKey string) (agent.VerifyResult, error)
}

// SnapshotSaver persists telemetry snapshots. telemetry.Store satisfies this.
type SnapshotSaver interface {
	Save(ctx context.Context, s *telemetry.Snapshot) error
}

// ConnectionEnricher resolves network intelligence for a snapshot's
// connections. *enrichment.Enricher satisfies this interface.
type ConnectionEnricher interface {
	Enrich(ctx context.Context, conns []telemetry.ConnectionSample) map[string]enrichment.Result
}

// MitigationFinder retrieves knowledge-base context for a probe query.
// *knowledge.Base satisfies this interface.
type MitigationFinder interface {
	FindMitigation(ctx context.Context, query string) string
}

// DeadLetterSink receives events that exhausted their processing budget.
// *DeadLetter satisfies this interface.
type DeadLetterSink interface {
	Send(ctx context.Context, raw []byte, stage string) error
}

// Pipeline orchestrates processing of one telemetry event at a time. It holds
// direct references to its collaborators, assembled once at startup.
type Pipeline struct {
	verifier   Verifier
	store      SnapshotSaver
	enricher   ConnectionEnricher
	knowledge  MitigationFinder
	engine     inference.Engine
	query      knowledge.QueryBuilder
	deadLetter DeadLetterSink // nil = dead-lettering disabled
	logger     *zap.Logger
}

// New creates a Pipeline. deadLetter may be nil to disable the dead-letter
// path; events that would go there are then only logged and dropped.
func New(verifier Verifier, store SnapshotSaver, enricher ConnectionEnricher, kb MitigationFinder, engine inference.Engine, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		verifier:  verifier,
		store:     store,
		enricher:  enricher,
		knowledge: kb,
		engine:    engine,
		query:     knowledge.StaticQuery(knowledge.DefaultProbe),
		logger:    logger,
	}
}

// SetQueryBuilder overrides the knowledge-base probe builder.
func (p *Pipeline) SetQueryBuilder(qb knowledge.QueryBuilder) {
	if qb != nil {
		p.query = qb
	}
}

// SetDeadLetter configures the dead-letter sink.
func (p *Pipeline) SetDeadLetter(dl DeadLetterSink) {
	p.deadLetter = dl
}

// Process handles one raw broker event end to end and returns the verdict
// text, or "" when processing ended without one. Every failure is classified
// and absorbed here — Process never fails the consumer, so the broker offset
// always advances regardless of outcome.
func (p *Pipeline) Process(ctx context.Context, raw []byte) string {
	eventsConsumedTotal.Inc()

	// Stage 1: decode. Malformed input is dropped, never retried.
	msg, err := telemetry.Decode(raw)
	if err != nil {
		eventsRejectedTotal.WithLabelValues("decode").Inc()
		p.logger.Error("discarding malformed telemetry event", zap.Error(err))
		return ""
	}

	p.logger.Info("received telemetry event",
		zap.String("agent_id", msg.AgentID),
		zap.String("hostname", msg.Hostname),
	)

	// Stage 2: credential validation.
	res, err := p.verifier.Verify(ctx, msg.AgentID, msg.APIKey)
	if err != nil {
		// Directory I/O failure: without a verdict on the credentials the
		// event cannot be safely persisted.
		eventsRejectedTotal.WithLabelValues("directory_error").Inc()
		p.logger.Error("agent verification failed", zap.Error(err))
		return ""
	}
	if res.Outcome == agent.VerifyRejected {
		eventsRejectedTotal.WithLabelValues("auth").Inc()
		p.logger.Warn("unauthorized telemetry rejected",
			zap.String("agent_id", msg.AgentID),
			zap.String("reason", res.Reason),
		)
		return ""
	}

	// Stage 3: persistence. A bounded retry covers transient store hiccups;
	// after that the raw event goes to the dead-letter topic so it is not
	// silently lost.
	snap := msg.Snapshot()
	if err := p.persist(ctx, snap); err != nil {
		eventsRejectedTotal.WithLabelValues("persistence").Inc()
		p.logger.Error("snapshot persistence failed, event dead-lettered",
			zap.String("agent_id", msg.AgentID), zap.Error(err))
		p.sendDeadLetter(ctx, raw, "persistence")
		return ""
	}
	snapshotsPersistedTotal.Inc()
	p.logger.Info("snapshot persisted", zap.String("snapshot_id", snap.ID.String()))

	// Stage 4: enrichment. Degrades internally, never fails.
	results := p.enricher.Enrich(ctx, snap.Connections)

	// Stage 5: knowledge retrieval. Falls back internally, never fails.
	knowledgeContext := p.knowledge.FindMitigation(ctx, p.query())

	// Stages 6-7: prompt assembly and inference.
	prompt := inference.BuildPrompt(snap, results, knowledgeContext)
	verdict, err := p.engine.Complete(ctx, prompt)
	if err != nil {
		verdictsTotal.WithLabelValues("failed").Inc()
		p.logger.Error("inference failed, no verdict for event",
			zap.String("snapshot_id", snap.ID.String()), zap.Error(err))
		return ""
	}

	verdictsTotal.WithLabelValues("ok").Inc()
	p.logger.Info("threat verdict produced",
		zap.String("snapshot_id", snap.ID.String()),
		zap.String("verdict", verdict),
	)
	return verdict
}

func (p *Pipeline) persist(ctx context.Context, snap *telemetry.Snapshot) error {
	var err error
	for attempt := 1; attempt <= persistAttempts; attempt++ {
		if err = p.store.Save(ctx, snap); err == nil {
			return nil
		}
		if attempt < persistAttempts {
			p.logger.Warn("report store save failed, retrying",
				zap.Int("attempt", attempt), zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(persistBackoff):
			}
		}
	}
	return err
}

func (p *Pipeline) sendDeadLetter(ctx context.Context, raw []byte, stage string) {
	if p.deadLetter == nil {
		return
	}
	if err := p.deadLetter.Send(ctx, raw, stage); err != nil {
		p.logger.Error("dead-letter publish failed", zap.Error(err))
		return
	}
	deadLetteredTotal.WithLabelValues(stage).Inc()
}
