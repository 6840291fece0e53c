// Package inference assembles the threat-assessment prompt and renders a
// verdict through a single-shot language-model completion.
package inference

import (
	"fmt"
	"strings"

	"github.com/sentinelagent/sentinel-backend/internal/enrichment"
	"github.com/sentinelagent/sentinel-backend/internal/telemetry"
)

// promptTemplate is the fixed instructional template. Placeholders, in order:
// knowledge context, network context, CPU %, RAM %, upload MB/s, download
// MB/s, process list.
const promptTemplate = `You are an advanced Cybersecurity AI Agent.
Your task is to analyze system metrics and detect potential threats (Ransomware, Spyware, C2 Communication).

--- INTELLIGENCE CONTEXT ---
Knowledge Base (MITRE ATT&CK):
%s

Network Intelligence (GeoIP & Reputation):
%s

--- LIVE SYSTEM METRICS ---
- CPU Usage: %.1f%%
- RAM Usage: %.1f%%
- Network Upload Speed: %s MB/s
- Network Download Speed: %s MB/s
- Active Processes: %s

--- INSTRUCTIONS ---
1. Analyze 'Network Intelligence'. If a known malicious IP is found, FLAG it immediately.
2. Check if 'Network Upload Speed' is high while CPU is high (Potential Data Theft).
3. Look at the process names in the network connections. Is a weird process connecting to the internet?
4. Output a concise JSON alert containing the following keys: risk_level, threat_type, description, recommendation.`

// noConnectionsContext is rendered when the snapshot has no open connections.
const noConnectionsContext = "No active network connections."

// BuildPrompt renders the assessment prompt from the snapshot, its enrichment
// results, and the retrieved knowledge context.
func BuildPrompt(snap *telemetry.Snapshot, results map[string]enrichment.Result, knowledgeContext string) string {
	if knowledgeContext == "" {
		knowledgeContext = "No specific MITRE data found."
	}

	return fmt.Sprintf(promptTemplate,
		knowledgeContext,
		NetworkContext(snap.Connections, results),
		snap.CPUUsage,
		snap.RAMUsedPercent,
		formatSpeed(snap.UploadSpeedMBs()),
		formatSpeed(snap.DownloadSpeedMBs()),
		processList(snap.Processes),
	)
}

// NetworkContext renders one line per connection with its enrichment result.
func NetworkContext(conns []telemetry.ConnectionSample, results map[string]enrichment.Result) string {
	if len(conns) == 0 {
		return noConnectionsContext
	}

	lines := make([]string, 0, len(conns))
	for _, c := range conns {
		name := c.ProcessName
		if name == "" {
			name = "Unknown"
		}

		res := results[c.RemoteAddress]
		country := res.Country
		if country == "" {
			country = enrichment.UnknownCountry
		}
		reputation := "Safe"
		if res.Malicious {
			reputation = "MALICIOUS"
		}

		lines = append(lines, fmt.Sprintf("- Process: %s | Remote IP: %s | Location: %s | Reputation: %s",
			name, c.RemoteAddress, country, reputation))
	}
	return strings.Join(lines, "\n")
}

// formatSpeed renders a MB/s value with two decimals.
func formatSpeed(mbs float64) string {
	return fmt.Sprintf("%.2f", mbs)
}

func processList(procs []telemetry.ProcessSample) string {
	if len(procs) == 0 {
		return "No processes"
	}
	parts := make([]string, len(procs))
	for i, p := range procs {
		parts[i] = fmt.Sprintf("%s (pid=%d, cpu=%.1f%%, user=%s)", p.Name, p.PID, p.CPU, p.Username)
	}
	return strings.Join(parts, ", ")
}
