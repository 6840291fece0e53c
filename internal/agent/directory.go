package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// directoryRepo is the persistence interface for the Directory service.
// *Repository satisfies this interface.
type directoryRepo interface {
	Create(ctx context.Context, a *Agent) error
	GetByAgentID(ctx context.Context, agentID string) (*Agent, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Agent, error)
	List(ctx context.Context, limit, offset int) ([]*Agent, error)
	ListStaleActive(ctx context.Context, cutoff time.Time) ([]*Agent, error)
	Update(ctx context.Context, a *Agent) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
}

// VerifyOutcome tags the result of telemetry credential verification.
type VerifyOutcome int

const (
	// VerifyAnonymous — the event carried no agent identifier. Allowed for
	// backward compatibility with agents deployed before enrollment existed.
	VerifyAnonymous VerifyOutcome = iota
	// VerifyUnknown — the agent identifier is not in the directory. The event
	// proceeds; this usually means a misconfigured agent.
	VerifyUnknown
	// VerifyOK — credentials matched; heartbeat and status were refreshed.
	VerifyOK
	// VerifyRejected — credential mismatch or revoked agent. The event must
	// not be persisted or assessed.
	VerifyRejected
)

// VerifyResult is the discriminated outcome of Verify. Agent is non-nil only
// for VerifyOK; Reason is set only for VerifyRejected.
type VerifyResult struct {
	Outcome VerifyOutcome
	Agent   *Agent
	Reason  string
}

// Directory implements agent identity lookups and lifecycle transitions for
// the ingestion pipeline and the management API.
type Directory struct {
	repo   directoryRepo
	logger *zap.Logger
}

// NewDirectory creates a Directory backed by repo.
func NewDirectory(repo directoryRepo, logger *zap.Logger) *Directory {
	return &Directory{repo: repo, logger: logger}
}

// Verify checks the credentials attached to a telemetry event and, when they
// are valid, records a heartbeat and reactivates an inactive agent. It never
// returns an error for bad credentials — callers branch on the result tag.
// The returned error covers directory I/O failures only.
func (d *Directory) Verify(ctx context.Context, agentID, apiKey string) (VerifyResult, error) {
	if agentID == "" {
		d.logger.Debug("anonymous telemetry received (no agent ID)")
		return VerifyResult{Outcome: VerifyAnonymous}, nil
	}

	a, err := d.repo.GetByAgentID(ctx, agentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			d.logger.Debug("telemetry from unknown agent", zap.String("agent_id", agentID))
			return VerifyResult{Outcome: VerifyUnknown}, nil
		}
		return VerifyResult{}, fmt.Errorf("lookup agent %s: %w", agentID, err)
	}

	if !ValidateAPIKey(apiKey, a.APIKeyHash) {
		d.logger.Warn("invalid API key for agent", zap.String("agent_id", agentID))
		return VerifyResult{Outcome: VerifyRejected, Reason: "invalid API key"}, nil
	}

	if a.Status == StatusRevoked {
		d.logger.Warn("telemetry from revoked agent", zap.String("agent_id", agentID))
		return VerifyResult{Outcome: VerifyRejected, Reason: "agent has been revoked"}, nil
	}

	a.RecordHeartbeat()
	if a.Status == StatusInactive {
		a.Activate()
	}
	if err := d.repo.Update(ctx, a); err != nil {
		return VerifyResult{}, fmt.Errorf("update agent %s: %w", agentID, err)
	}

	return VerifyResult{Outcome: VerifyOK, Agent: a}, nil
}

// Register enrolls a new agent and returns the record together with its
// plaintext API key. The key is shown exactly once; only the hash is stored.
func (d *Directory) Register(ctx context.Context, agentID, hostname, os, version, ipAddress string) (*Agent, string, error) {
	if agentID == "" || hostname == "" {
		return nil, "", fmt.Errorf("agent_id and hostname are required")
	}

	key, err := GenerateAPIKey()
	if err != nil {
		return nil, "", err
	}
	hash, err := HashAPIKey(key)
	if err != nil {
		return nil, "", err
	}

	a := &Agent{
		AgentID:         agentID,
		Hostname:        hostname,
		OperatingSystem: os,
		AgentVersion:    version,
		IPAddress:       ipAddress,
		Status:          StatusActive,
		APIKeyHash:      hash,
	}
	a.RecordHeartbeat()

	if err := d.repo.Create(ctx, a); err != nil {
		if errors.Is(err, ErrDuplicateAgent) {
			return nil, "", ErrDuplicateAgent
		}
		return nil, "", fmt.Errorf("register agent: %w", err)
	}

	d.logger.Info("agent registered",
		zap.String("agent_id", a.AgentID),
		zap.String("hostname", a.Hostname),
	)
	return a, key, nil
}

// Revoke permanently disables an agent. Revocation is terminal; telemetry
// from a revoked agent is dropped at validation.
func (d *Directory) Revoke(ctx context.Context, id uuid.UUID) error {
	if err := d.repo.UpdateStatus(ctx, id, StatusRevoked); err != nil {
		return err
	}
	d.logger.Warn("agent revoked", zap.String("id", id.String()))
	return nil
}

// Heartbeat records a standalone heartbeat (outside telemetry submission),
// reactivating an inactive agent. Revoked agents are rejected.
func (d *Directory) Heartbeat(ctx context.Context, agentID, apiKey string) (*Agent, error) {
	res, err := d.Verify(ctx, agentID, apiKey)
	if err != nil {
		return nil, err
	}
	switch res.Outcome {
	case VerifyOK:
		return res.Agent, nil
	case VerifyRejected:
		return nil, fmt.Errorf("heartbeat rejected: %s", res.Reason)
	default:
		return nil, ErrNotFound
	}
}

// Get returns one agent by internal ID.
func (d *Directory) Get(ctx context.Context, id uuid.UUID) (*Agent, error) {
	return d.repo.GetByID(ctx, id)
}

// List returns registered agents.
func (d *Directory) List(ctx context.Context, limit, offset int) ([]*Agent, error) {
	return d.repo.List(ctx, limit, offset)
}

// SweepStale marks active agents inactive when their last heartbeat is older
// than threshold. Revoked agents are never touched. Returns the number of
// agents transitioned.
func (d *Directory) SweepStale(ctx context.Context, threshold time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	stale, err := d.repo.ListStaleActive(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, a := range stale {
		if err := d.repo.UpdateStatus(ctx, a.ID, StatusInactive); err != nil {
			d.logger.Warn("failed to mark agent inactive",
				zap.String("agent_id", a.AgentID), zap.Error(err))
			continue
		}
		n++
	}
	if n > 0 {
		d.logger.Info("stale agents marked inactive", zap.Int("count", n))
	}
	return n, nil
}
