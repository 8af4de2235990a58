package protocol

import (
	"encoding/json"
	"time"
)

// SchemaVersion tags every request so a newer daemon can refuse commands from
// an incompatible client instead of misreading them.
const SchemaVersion = 1

// Request represents a client command to the daemon. One request is sent per
// control-channel connection.
type Request struct {
	ID     string          `json:"id"`
	Schema int             `json:"schema"`
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Response represents the daemon's reply to a single request.
type Response struct {
	ID      string          `json:"id"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error carries a machine-readable code alongside the message.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

// RegisterData contains data for registering a service. When Command is empty
// the daemon records the binding without spawning anything; Port then names
// the externally managed listener and may sit outside the allocator range.
type RegisterData struct {
	Domain    string `json:"domain"`
	Command   string `json:"command,omitempty"`
	Directory string `json:"directory"`
	PortEnv   string `json:"port_env,omitempty"`
	PortArg   string `json:"port_arg,omitempty"`
	Port      int    `json:"port,omitempty"`
}

// RegisterResult reports the outcome of a registration.
type RegisterResult struct {
	Domain string `json:"domain"`
	Port   int    `json:"port"`
	PID    int    `json:"pid,omitempty"`
}

// StopData identifies the service to stop.
type StopData struct {
	Domain string `json:"domain"`
}

// ServiceInfo describes one registered service.
type ServiceInfo struct {
	Domain    string    `json:"domain"`
	Port      int       `json:"port"`
	PID       int       `json:"pid,omitempty"`
	Directory string    `json:"directory"`
	StartedAt time.Time `json:"started_at"`
	Alive     bool      `json:"alive"`
}

// StatusResult describes the running daemon.
type StatusResult struct {
	PID          int       `json:"pid"`
	StartedAt    time.Time `json:"started_at"`
	ServiceCount int       `json:"service_count"`
	HTTPSEnabled bool      `json:"https_enabled"`
}

// Request types
const (
	RequestRegister  = "register"
	RequestList      = "list"
	RequestStop      = "stop"
	RequestStatus    = "status"
	RequestShutdown  = "shutdown"
	RequestRegenCert = "regen_cert"
)

// Error codes
const (
	CodeInvalidRequest     = 1001
	CodeDomainAlreadyBound = 1002
	CodeNotFound           = 1003
	CodeResourceExhausted  = 1004
	CodeSpawnFailed        = 1005
	CodeCertUnavailable    = 1006
	CodeInternal           = 5000
)
