package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a snapshot is not found in the database.
var ErrNotFound = errors.New("snapshot not found")

// Store is the append-only persistence interface for telemetry snapshots.
// Save assigns the snapshot ID and receipt timestamp.
type Store interface {
	Save(ctx context.Context, s *Snapshot) error
	GetByID(ctx context.Context, id uuid.UUID) (*Snapshot, error)
	ListByAgent(ctx context.Context, agentID string, limit, offset int) ([]*Snapshot, error)
}

// PostgresStore persists snapshots in PostgreSQL. Process and connection
// samples are stored as JSONB columns — they are value types read back
// whole, never queried individually.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Save inserts the snapshot, assigning its ID and ReceivedAt. Snapshots are
// never updated or deleted through this store.
func (s *PostgresStore) Save(ctx context.Context, snap *Snapshot) error {
	procs, err := json.Marshal(snap.Processes)
	if err != nil {
		return fmt.Errorf("marshal processes: %w", err)
	}
	conns, err := json.Marshal(snap.Connections)
	if err != nil {
		return fmt.Errorf("marshal connections: %w", err)
	}

	snap.ID = uuid.New()
	snap.ReceivedAt = time.Now().UTC()

	query := `
		INSERT INTO metric_reports (
			id, agent_id, hostname, cpu_usage, ram_used_percent, ram_total_mb,
			disk_used_percent, disk_total_gb, bytes_sent_sec, bytes_recv_sec,
			processes, network_connections, received_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13
		)`

	_, err = s.db.Exec(ctx, query,
		snap.ID, snap.AgentID, snap.Hostname, snap.CPUUsage, snap.RAMUsedPercent,
		snap.RAMTotalMB, snap.DiskUsedPercent, snap.DiskTotalGB,
		snap.BytesSentSec, snap.BytesRecvSec, procs, conns, snap.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("insert metric report: %w", err)
	}
	return nil
}

// GetByID retrieves one snapshot by its ID.
func (s *PostgresStore) GetByID(ctx context.Context, id uuid.UUID) (*Snapshot, error) {
	query := selectColumns + ` FROM metric_reports WHERE id = $1`
	row := s.db.QueryRow(ctx, query, id)
	return scanSnapshot(row)
}

// ListByAgent returns snapshots for the given agent, newest first.
func (s *PostgresStore) ListByAgent(ctx context.Context, agentID string, limit, offset int) ([]*Snapshot, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := selectColumns + `
		FROM metric_reports
		WHERE agent_id = $1
		ORDER BY received_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.db.Query(ctx, query, agentID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list metric reports: %w", err)
	}
	defer rows.Close()

	var out []*Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

const selectColumns = `
	SELECT id, agent_id, hostname, cpu_usage, ram_used_percent, ram_total_mb,
	       disk_used_percent, disk_total_gb, bytes_sent_sec, bytes_recv_sec,
	       processes, network_connections, received_at`

func scanSnapshot(row pgx.Row) (*Snapshot, error) {
	var snap Snapshot
	var procs, conns []byte

	err := row.Scan(
		&snap.ID, &snap.AgentID, &snap.Hostname, &snap.CPUUsage,
		&snap.RAMUsedPercent, &snap.RAMTotalMB, &snap.DiskUsedPercent,
		&snap.DiskTotalGB, &snap.BytesSentSec, &snap.BytesRecvSec,
		&procs, &conns, &snap.ReceivedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan metric report: %w", err)
	}

	if err := json.Unmarshal(procs, &snap.Processes); err != nil {
		return nil, fmt.Errorf("unmarshal processes: %w", err)
	}
	if err := json.Unmarshal(conns, &snap.Connections); err != nil {
		return nil, fmt.Errorf("unmarshal connections: %w", err)
	}
	return &snap, nil
}
