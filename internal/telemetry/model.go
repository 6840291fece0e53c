// Package telemetry defines the telemetry snapshot domain model, the broker
// wire format agents publish, and the report store that persists snapshots.
package telemetry

import (
	"time"

	"github.com/google/uuid"
)

// bytesPerMB converts bytes/sec counters to MB/s for prompt rendering.
const bytesPerMB = 1024.0 * 1024.0

// Snapshot is one point-in-time telemetry report from a monitored host.
// It is immutable once persisted; ID and ReceivedAt are assigned by the store.
type Snapshot struct {
	ID       uuid.UUID `json:"id"        db:"id"`
	AgentID  string    `json:"agent_id"  db:"agent_id"`
	Hostname string    `json:"hostname"  db:"hostname"`

	CPUUsage        float64 `json:"cpu_usage"         db:"cpu_usage"`
	RAMUsedPercent  float64 `json:"ram_used_percent"  db:"ram_used_percent"`
	RAMTotalMB      int64   `json:"ram_total_mb"      db:"ram_total_mb"`
	DiskUsedPercent float64 `json:"disk_used_percent" db:"disk_used_percent"`
	DiskTotalGB     int64   `json:"disk_total_gb"     db:"disk_total_gb"`

	BytesSentSec int64 `json:"bytes_sent_sec" db:"bytes_sent_sec"`
	BytesRecvSec int64 `json:"bytes_recv_sec" db:"bytes_recv_sec"`

	Processes   []ProcessSample    `json:"processes"           db:"processes"`
	Connections []ConnectionSample `json:"network_connections" db:"network_connections"`

	ReceivedAt time.Time `json:"received_at" db:"received_at"`
}

// ProcessSample is one running process observed in a snapshot. It has no
// identity of its own outside its containing snapshot.
type ProcessSample struct {
	PID      int     `json:"pid"`
	Name     string  `json:"name"`
	CPU      float64 `json:"cpu"`
	Username string  `json:"username"`
}

// ConnectionSample is one open network connection observed in a snapshot.
type ConnectionSample struct {
	PID           int    `json:"pid"`
	ProcessName   string `json:"process_name"`
	LocalAddress  string `json:"local_address"`
	LocalPort     int    `json:"local_port"`
	RemoteAddress string `json:"remote_address"`
	RemotePort    int    `json:"remote_port"`
	Status        string `json:"status"`
}

// UploadSpeedMBs returns the outbound transfer rate in MB/s.
func (s *Snapshot) UploadSpeedMBs() float64 {
	return float64(s.BytesSentSec) / bytesPerMB
}

// DownloadSpeedMBs returns the inbound transfer rate in MB/s.
func (s *Snapshot) DownloadSpeedMBs() float64 {
	return float64(s.BytesRecvSec) / bytesPerMB
}
