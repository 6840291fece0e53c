// Package agent implements the agent directory: identity records for
// deployed monitoring agents, their credential hashes, and the lifecycle
// transitions driven by telemetry receipt and heartbeat absence.
package agent

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a registered agent.
type Status string

const (
	// StatusActive — agent is registered and actively sending data.
	StatusActive Status = "active"
	// StatusInactive — agent has not sent a heartbeat within the threshold.
	StatusInactive Status = "inactive"
	// StatusRevoked — agent's API key has been revoked by an operator.
	// Terminal: a revoked agent's telemetry is never persisted or assessed.
	StatusRevoked Status = "revoked"
	// StatusError — agent is reporting errors or in an error state.
	StatusError Status = "error"
)

// Agent is the directory record for one deployed monitoring agent.
type Agent struct {
	ID              uuid.UUID  `json:"id"               db:"id"`
	AgentID         string     `json:"agent_id"         db:"agent_id"`
	Hostname        string     `json:"hostname"         db:"hostname"`
	OperatingSystem string     `json:"operating_system" db:"operating_system"`
	AgentVersion    string     `json:"agent_version"    db:"agent_version"`
	IPAddress       string     `json:"ip_address"       db:"ip_address"`
	Status          Status     `json:"status"           db:"status"`
	RegisteredAt    time.Time  `json:"registered_at"    db:"registered_at"`
	LastHeartbeat   *time.Time `json:"last_heartbeat,omitempty" db:"last_heartbeat"`
	// APIKeyHash is the bcrypt hash of the agent API key. The plaintext key
	// is returned once at registration and never stored.
	APIKeyHash string `json:"-" db:"api_key_hash"`
}

// RecordHeartbeat updates the heartbeat timestamp to now.
func (a *Agent) RecordHeartbeat() {
	now := time.Now().UTC()
	a.LastHeartbeat = &now
}

// Activate marks the agent active.
func (a *Agent) Activate() {
	a.Status = StatusActive
}
