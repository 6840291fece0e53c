package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/sentinelagent/sentinel-backend/internal/agent"
	"github.com/sentinelagent/sentinel-backend/internal/enrichment"
	"github.com/sentinelagent/sentinel-backend/internal/knowledge"
	"github.com/sentinelagent/sentinel-backend/internal/telemetry"
	"go.uber.org/zap"
)

const sampleEvent = `{
	"agentId": "agent-007",
	"apiKey": "snt_secret",
	"hostname": "workstation-12",
	"cpuUsage": 20.5,
	"ramUsedPercent": 63.2,
	"bytesSentSec": 1048576,
	"bytesRecvSec": 2097152,
	"processes": [{"pid": 666, "name": "facebook.exe", "cpu": 88.1, "username": "bob"}],
	"networkConnections": [
		{"pid": 666, "remote_address": "203.0.113.9", "remote_port": 443,
		 "process_name": "facebook.exe", "status": "ESTABLISHED"}
	]
}`

// ── Stubs ────────────────────────────────────────────────────────────────

type stubVerifier struct {
	result agent.VerifyResult
	err    error

	mu         sync.Mutex
	gotAgentID string
	gotAPIKey  string
}

func (s *stubVerifier) Verify(_ context.Context, agentID, apiKey string) (agent.VerifyResult, error) {
	s.mu.Lock()
	s.gotAgentID = agentID
	s.gotAPIKey = apiKey
	s.mu.Unlock()
	return s.result, s.err
}

type stubStore struct {
	mu       sync.Mutex
	saved    []*telemetry.Snapshot
	failures int // number of leading Save calls that fail
	calls    int
}

func (s *stubStore) Save(_ context.Context, snap *telemetry.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return errors.New("store unavailable")
	}
	snap.ID = uuid.New()
	s.saved = append(s.saved, snap)
	return nil
}

type stubEnricher struct {
	results map[string]enrichment.Result
}

func (s *stubEnricher) Enrich(_ context.Context, _ []telemetry.ConnectionSample) map[string]enrichment.Result {
	return s.results
}

type stubFinder struct {
	mu       sync.Mutex
	context  string
	gotQuery string
}

func (s *stubFinder) FindMitigation(_ context.Context, query string) string {
	s.mu.Lock()
	s.gotQuery = query
	s.mu.Unlock()
	return s.context
}

type stubEngine struct {
	mu        sync.Mutex
	verdict   string
	err       error
	gotPrompt string
}

func (s *stubEngine) Complete(_ context.Context, prompt string) (string, error) {
	s.mu.Lock()
	s.gotPrompt = prompt
	s.mu.Unlock()
	return s.verdict, s.err
}

type stubDeadLetter struct {
	mu    sync.Mutex
	raw   []byte
	stage string
	sends int
	err   error
}

func (s *stubDeadLetter) Send(_ context.Context, raw []byte, stage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends++
	s.raw = raw
	s.stage = stage
	return s.err
}

func newTestPipeline(v *stubVerifier, st *stubStore, e *stubEnricher, f *stubFinder, eng *stubEngine) *Pipeline {
	if e.results == nil {
		e.results = map[string]enrichment.Result{}
	}
	return New(v, st, e, f, eng, zap.NewNop())
}

// ── Process ──────────────────────────────────────────────────────────────

func TestProcess_happyPath(t *testing.T) {
	verifier := &stubVerifier{result: agent.VerifyResult{Outcome: agent.VerifyOK, Agent: &agent.Agent{AgentID: "agent-007"}}}
	store := &stubStore{}
	enricher := &stubEnricher{results: map[string]enrichment.Result{
		"203.0.113.9": {Country: "Netherlands", Malicious: true},
	}}
	finder := &stubFinder{context: "mitre context"}
	engine := &stubEngine{verdict: `{"risk_level":"HIGH"}`}

	p := newTestPipeline(verifier, store, enricher, finder, engine)

	verdict := p.Process(context.Background(), []byte(sampleEvent))
	if verdict != `{"risk_level":"HIGH"}` {
		t.Errorf("verdict = %q, want engine output", verdict)
	}

	if verifier.gotAgentID != "agent-007" || verifier.gotAPIKey != "snt_secret" {
		t.Errorf("verifier saw (%q, %q), want wire credentials", verifier.gotAgentID, verifier.gotAPIKey)
	}
	if len(store.saved) != 1 {
		t.Fatalf("persisted %d snapshots, want 1", len(store.saved))
	}
	snap := store.saved[0]
	if snap.CPUUsage != 20.5 {
		t.Errorf("persisted CPUUsage = %v, want 20.5", snap.CPUUsage)
	}
	if snap.ID == uuid.Nil {
		t.Error("persisted snapshot has no assigned ID")
	}

	if finder.gotQuery != knowledge.DefaultProbe {
		t.Errorf("knowledge query = %q, want the default probe", finder.gotQuery)
	}
	for _, want := range []string{"mitre context", "Reputation: MALICIOUS", "facebook.exe (pid=666"} {
		if !strings.Contains(engine.gotPrompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestProcess_malformedEventDropped(t *testing.T) {
	verifier := &stubVerifier{}
	store := &stubStore{}
	p := newTestPipeline(verifier, store, &stubEnricher{}, &stubFinder{}, &stubEngine{})

	if got := p.Process(context.Background(), []byte(`{broken`)); got != "" {
		t.Errorf("verdict = %q, want empty for malformed event", got)
	}
	if verifier.gotAgentID != "" || store.calls != 0 {
		t.Error("malformed event reached later stages")
	}
}

func TestProcess_rejectedEventNotPersisted(t *testing.T) {
	verifier := &stubVerifier{result: agent.VerifyResult{Outcome: agent.VerifyRejected, Reason: "agent has been revoked"}}
	store := &stubStore{}
	engine := &stubEngine{verdict: "should never run"}
	p := newTestPipeline(verifier, store, &stubEnricher{}, &stubFinder{}, engine)

	if got := p.Process(context.Background(), []byte(sampleEvent)); got != "" {
		t.Errorf("verdict = %q, want empty for rejected event", got)
	}
	if store.calls != 0 {
		t.Error("rejected event was persisted")
	}
	if engine.gotPrompt != "" {
		t.Error("rejected event reached inference")
	}
}

func TestProcess_unknownAgentProceeds(t *testing.T) {
	verifier := &stubVerifier{result: agent.VerifyResult{Outcome: agent.VerifyUnknown}}
	store := &stubStore{}
	engine := &stubEngine{verdict: "verdict"}
	p := newTestPipeline(verifier, store, &stubEnricher{}, &stubFinder{context: "ctx"}, engine)

	if got := p.Process(context.Background(), []byte(sampleEvent)); got != "verdict" {
		t.Errorf("verdict = %q, want processing to proceed for unknown agent", got)
	}
	if len(store.saved) != 1 {
		t.Error("unknown-agent event was not persisted")
	}
}

func TestProcess_directoryErrorAborts(t *testing.T) {
	verifier := &stubVerifier{err: errors.New("postgres down")}
	store := &stubStore{}
	p := newTestPipeline(verifier, store, &stubEnricher{}, &stubFinder{}, &stubEngine{})

	if got := p.Process(context.Background(), []byte(sampleEvent)); got != "" {
		t.Errorf("verdict = %q, want empty on directory failure", got)
	}
	if store.calls != 0 {
		t.Error("event persisted without a credential verdict")
	}
}

func TestProcess_persistRetryThenSuccess(t *testing.T) {
	verifier := &stubVerifier{result: agent.VerifyResult{Outcome: agent.VerifyAnonymous}}
	store := &stubStore{failures: 2}
	engine := &stubEngine{verdict: "verdict"}
	p := newTestPipeline(verifier, store, &stubEnricher{}, &stubFinder{context: "ctx"}, engine)

	if got := p.Process(context.Background(), []byte(sampleEvent)); got != "verdict" {
		t.Errorf("verdict = %q, want success after retries", got)
	}
	if store.calls != 3 {
		t.Errorf("store called %d times, want 3", store.calls)
	}
}

func TestProcess_persistExhaustionDeadLetters(t *testing.T) {
	verifier := &stubVerifier{result: agent.VerifyResult{Outcome: agent.VerifyAnonymous}}
	store := &stubStore{failures: 100}
	dlq := &stubDeadLetter{}
	engine := &stubEngine{verdict: "should never run"}

	p := newTestPipeline(verifier, store, &stubEnricher{}, &stubFinder{}, engine)
	p.SetDeadLetter(dlq)

	if got := p.Process(context.Background(), []byte(sampleEvent)); got != "" {
		t.Errorf("verdict = %q, want empty after persistence exhaustion", got)
	}
	if store.calls != persistAttempts {
		t.Errorf("store called %d times, want %d", store.calls, persistAttempts)
	}
	if dlq.sends != 1 {
		t.Fatalf("dead letter sends = %d, want 1", dlq.sends)
	}
	if dlq.stage != "persistence" {
		t.Errorf("dead letter stage = %q, want persistence", dlq.stage)
	}
	if string(dlq.raw) != sampleEvent {
		t.Error("dead letter did not carry the raw payload")
	}
	if engine.gotPrompt != "" {
		t.Error("dead-lettered event reached inference")
	}
}

func TestProcess_inferenceFailureYieldsNoVerdict(t *testing.T) {
	verifier := &stubVerifier{result: agent.VerifyResult{Outcome: agent.VerifyAnonymous}}
	store := &stubStore{}
	engine := &stubEngine{err: errors.New("llm timeout")}
	p := newTestPipeline(verifier, store, &stubEnricher{}, &stubFinder{context: "ctx"}, engine)

	if got := p.Process(context.Background(), []byte(sampleEvent)); got != "" {
		t.Errorf("verdict = %q, want empty on inference failure", got)
	}
	// The snapshot stays persisted even though no verdict was produced.
	if len(store.saved) != 1 {
		t.Error("snapshot not persisted before inference failure")
	}
}

func TestSetQueryBuilder(t *testing.T) {
	verifier := &stubVerifier{result: agent.VerifyResult{Outcome: agent.VerifyAnonymous}}
	finder := &stubFinder{context: "ctx"}
	p := newTestPipeline(verifier, &stubStore{}, &stubEnricher{}, finder, &stubEngine{verdict: "v"})
	p.SetQueryBuilder(knowledge.StaticQuery("custom probe"))

	p.Process(context.Background(), []byte(sampleEvent))
	if finder.gotQuery != "custom probe" {
		t.Errorf("knowledge query = %q, want the custom probe", finder.gotQuery)
	}
}
