package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when an agent is not found in the database.
var ErrNotFound = errors.New("agent not found")

// ErrDuplicateAgent is returned when registering an agent ID that already exists.
var ErrDuplicateAgent = errors.New("agent already exists")

// Repository provides CRUD operations for agents against PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new agent Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts a new agent into the database.
func (r *Repository) Create(ctx context.Context, a *Agent) error {
	a.ID = uuid.New()
	a.RegisteredAt = time.Now().UTC()
	if a.Status == "" {
		a.Status = StatusActive
	}

	query := `
		INSERT INTO agents (
			id, agent_id, hostname, operating_system, agent_version,
			ip_address, status, registered_at, last_heartbeat, api_key_hash
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.Exec(ctx, query,
		a.ID, a.AgentID, a.Hostname, a.OperatingSystem, a.AgentVersion,
		a.IPAddress, a.Status, a.RegisteredAt, a.LastHeartbeat, a.APIKeyHash,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateAgent
		}
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

// GetByAgentID retrieves an agent by its external agent identifier.
func (r *Repository) GetByAgentID(ctx context.Context, agentID string) (*Agent, error) {
	query := selectColumns + ` FROM agents WHERE agent_id = $1`
	return r.scanOne(ctx, query, agentID)
}

// GetByID retrieves an agent by its internal UUID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Agent, error) {
	query := selectColumns + ` FROM agents WHERE id = $1`
	return r.scanOne(ctx, query, id)
}

// List returns agents ordered by registration time, newest first.
func (r *Repository) List(ctx context.Context, limit, offset int) ([]*Agent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := selectColumns + ` FROM agents ORDER BY registered_at DESC LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()
	return scanAgents(rows)
}

// ListStaleActive returns active agents whose last heartbeat is older than
// cutoff, including those that never sent one.
func (r *Repository) ListStaleActive(ctx context.Context, cutoff time.Time) ([]*Agent, error) {
	query := selectColumns + `
		FROM agents
		WHERE status = $1 AND (last_heartbeat IS NULL OR last_heartbeat < $2)`

	rows, err := r.db.Query(ctx, query, StatusActive, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list stale agents: %w", err)
	}
	defer rows.Close()
	return scanAgents(rows)
}

// Update persists the mutable fields of an agent (status, heartbeat,
// host metadata). Identity and credential hash are written at creation only.
func (r *Repository) Update(ctx context.Context, a *Agent) error {
	query := `
		UPDATE agents
		SET hostname = $2, operating_system = $3, agent_version = $4,
		    ip_address = $5, status = $6, last_heartbeat = $7
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		a.ID, a.Hostname, a.OperatingSystem, a.AgentVersion,
		a.IPAddress, a.Status, a.LastHeartbeat,
	)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatus sets only the lifecycle status of an agent.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := r.db.Exec(ctx, `UPDATE agents SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update agent status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const selectColumns = `
	SELECT id, agent_id, hostname, operating_system, agent_version,
	       ip_address, status, registered_at, last_heartbeat, api_key_hash`

func (r *Repository) scanOne(ctx context.Context, query string, args ...any) (*Agent, error) {
	row := r.db.QueryRow(ctx, query, args...)
	a, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

func scanAgent(row pgx.Row) (*Agent, error) {
	var a Agent
	err := row.Scan(
		&a.ID, &a.AgentID, &a.Hostname, &a.OperatingSystem, &a.AgentVersion,
		&a.IPAddress, &a.Status, &a.RegisteredAt, &a.LastHeartbeat, &a.APIKeyHash,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func scanAgents(rows pgx.Rows) ([]*Agent, error) {
	var out []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
