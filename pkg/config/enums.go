package config

// HostKeyPolicy defines how unknown SSH host keys are handled
type HostKeyPolicy string

const (
	// HostKeyPolicyReject refuses connections to hosts with unknown keys
	HostKeyPolicyReject HostKeyPolicy = "reject"
	// HostKeyPolicyWarning accepts unknown keys but logs a warning
	HostKeyPolicyWarning HostKeyPolicy = "warning"
	// HostKeyPolicyAutoAdd accepts and records unknown keys
	HostKeyPolicyAutoAdd HostKeyPolicy = "auto_add"
)

// IsValid checks if the host key policy is valid
func (p HostKeyPolicy) IsValid() bool {
	switch p {
	case HostKeyPolicyReject, HostKeyPolicyWarning, HostKeyPolicyAutoAdd:
		return true
	default:
		return false
	}
}

// CheckType defines the kind of probe a Sentinel health check performs
type CheckType string

const (
	// CheckTypePing probes the target with ICMP-style reachability (TCP fallback)
	CheckTypePing CheckType = "ping"
	// CheckTypePort probes a single TCP port
	CheckTypePort CheckType = "port"
	// CheckTypeHTTP performs an HTTP GET and validates the status code
	CheckTypeHTTP CheckType = "http"
	// CheckTypeCustom runs a registered custom probe function
	CheckTypeCustom CheckType = "custom"
)

// IsValid checks if the check type is valid
func (t CheckType) IsValid() bool {
	switch t {
	case CheckTypePing, CheckTypePort, CheckTypeHTTP, CheckTypeCustom:
		return true
	default:
		return false
	}
}

// ScanType defines the depth of an on-demand host scan
type ScanType string

const (
	// ScanTypeBasic resolves DNS and checks port 22 reachability only
	ScanTypeBasic ScanType = "basic"
	// ScanTypeSystem gathers OS, kernel, uptime, and load facts
	ScanTypeSystem ScanType = "system"
	// ScanTypeServices lists running service units
	ScanTypeServices ScanType = "services"
	// ScanTypePackages lists installed packages
	ScanTypePackages ScanType = "packages"
	// ScanTypeProcesses lists top processes by CPU and memory
	ScanTypeProcesses ScanType = "processes"
	// ScanTypeFull combines system, services, and processes
	ScanTypeFull ScanType = "full"
)

// IsValid checks if the scan type is valid
func (t ScanType) IsValid() bool {
	switch t {
	case ScanTypeBasic, ScanTypeSystem, ScanTypeServices, ScanTypePackages, ScanTypeProcesses, ScanTypeFull:
		return true
	default:
		return false
	}
}

// StoreBackend selects the conversation persistence backend
type StoreBackend string

const (
	// StoreBackendSQLite persists conversations in a local SQLite database
	StoreBackendSQLite StoreBackend = "sqlite"
	// StoreBackendJSON persists one JSON file per conversation
	StoreBackendJSON StoreBackend = "json"
	// StoreBackendPostgres persists conversations in PostgreSQL
	StoreBackendPostgres StoreBackend = "postgres"
)

// IsValid checks if the store backend is valid
func (b StoreBackend) IsValid() bool {
	switch b {
	case StoreBackendSQLite, StoreBackendJSON, StoreBackendPostgres:
		return true
	default:
		return false
	}
}

// TransportType defines MCP server transport types
type TransportType string

const (
	// TransportTypeStdio uses subprocess communication via stdin/stdout
	TransportTypeStdio TransportType = "stdio"
)

// IsValid checks if the transport type is valid
func (t TransportType) IsValid() bool {
	return t == TransportTypeStdio
}

// LLMTask selects a model alias for a routed generation call
type LLMTask string

const (
	// LLMTaskCorrection is quick text fixup (cheapest model)
	LLMTaskCorrection LLMTask = "correction"
	// LLMTaskPlanning generates execution plans
	LLMTaskPlanning LLMTask = "planning"
	// LLMTaskSynthesis merges execution results into an answer
	LLMTaskSynthesis LLMTask = "synthesis"
	// LLMTaskTriage classifies and routes incoming signals
	LLMTaskTriage LLMTask = "triage"
)

// IsValid checks if the LLM task is valid
func (t LLMTask) IsValid() bool {
	switch t {
	case LLMTaskCorrection, LLMTaskPlanning, LLMTaskSynthesis, LLMTaskTriage:
		return true
	default:
		return false
	}
}
