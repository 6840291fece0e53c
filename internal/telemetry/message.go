package telemetry

import (
	"encoding/json"
	"fmt"
)

// Message is the broker wire format for one telemetry submission. Field names
// match what deployed agents publish; unknown fields are ignored so newer
// agents can add fields without breaking older consumers.
type Message struct {
	AgentID  string `json:"agentId"`
	APIKey   string `json:"apiKey"`
	Hostname string `json:"hostname"`

	CPUUsage        float64 `json:"cpuUsage"`
	RAMUsedPercent  float64 `json:"ramUsedPercent"`
	RAMTotalMB      int64   `json:"ram_total_mb"`
	DiskUsedPercent float64 `json:"disk_used_percent"`
	DiskTotalGB     int64   `json:"disk_total_gb"`

	BytesSentSec int64 `json:"bytesSentSec"`
	BytesRecvSec int64 `json:"bytesRecvSec"`

	Processes   []ProcessMessage    `json:"processes"`
	Connections []ConnectionMessage `json:"networkConnections"`
}

// ProcessMessage is the wire form of one process entry.
type ProcessMessage struct {
	PID      int     `json:"pid"`
	Name     string  `json:"name"`
	CPU      float64 `json:"cpu"`
	Username string  `json:"username"`
}

// ConnectionMessage is the wire form of one network connection entry.
type ConnectionMessage struct {
	PID           int    `json:"pid"`
	LocalAddress  string `json:"local_address"`
	LocalPort     int    `json:"local_port"`
	RemoteAddress string `json:"remote_address"`
	RemotePort    int    `json:"remote_port"`
	ProcessName   string `json:"process_name"`
	Status        string `json:"status"`
}

// Decode parses a raw broker payload into a Message.
func Decode(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode telemetry message: %w", err)
	}
	return &msg, nil
}

// Snapshot maps the wire message to the domain snapshot. ID and ReceivedAt
// are left zero; the report store assigns both on save.
func (m *Message) Snapshot() *Snapshot {
	s := &Snapshot{
		AgentID:         m.AgentID,
		Hostname:        m.Hostname,
		CPUUsage:        m.CPUUsage,
		RAMUsedPercent:  m.RAMUsedPercent,
		RAMTotalMB:      m.RAMTotalMB,
		DiskUsedPercent: m.DiskUsedPercent,
		DiskTotalGB:     m.DiskTotalGB,
		BytesSentSec:    m.BytesSentSec,
		BytesRecvSec:    m.BytesRecvSec,
		Processes:       make([]ProcessSample, 0, len(m.Processes)),
		Connections:     make([]ConnectionSample, 0, len(m.Connections)),
	}

	for _, p := range m.Processes {
		s.Processes = append(s.Processes, ProcessSample{
			PID:      p.PID,
			Name:     p.Name,
			CPU:      p.CPU,
			Username: p.Username,
		})
	}

	for _, c := range m.Connections {
		s.Connections = append(s.Connections, ConnectionSample{
			PID:           c.PID,
			ProcessName:   c.ProcessName,
			LocalAddress:  c.LocalAddress,
			LocalPort:     c.LocalPort,
			RemoteAddress: c.RemoteAddress,
			RemotePort:    c.RemotePort,
			Status:        c.Status,
		})
	}

	return s
}
