package state

import "strconv"

// ConnectionState enumerates the lifecycle phases of a single connection
// attempt. Transitions are strictly forward within an attempt; any state may
// transition to Disconnected or Error. Only the Connection Orchestrator (L8)
// is permitted to mutate this value.
type ConnectionState string

const (
	Disconnected   ConnectionState = "Disconnected"
	ConfigError    ConnectionState = "ConfigError"
	Connecting     ConnectionState = "Connecting"
	CapNegotiating ConnectionState = "CapNegotiating"
	Authenticating ConnectionState = "Authenticating"
	Registering    ConnectionState = "Registering"
	Registered     ConnectionState = "Registered"
	Ready          ConnectionState = "Ready"
	Disconnecting  ConnectionState = "Disconnecting"
	Error          ConnectionState = "Error"
)

// forwardOrder defines the strictly-forward sequence within one attempt.
// Disconnected and Error are reachable from any state and are not part of
// this ladder.
var forwardOrder = map[ConnectionState]int{
	Connecting:     0,
	CapNegotiating: 1,
	Authenticating: 2,
	Registering:    3,
	Registered:     4,
	Ready:          5,
	Disconnecting:  6,
}

// CanTransition reports whether moving from `from` to `to` is legal: forward
// progress within the ladder, or an escape to Disconnected/Error from
// anywhere.
func CanTransition(from, to ConnectionState) bool {
	if to == Disconnected || to == Error {
		return true
	}
	if from == Disconnected || from == ConfigError {
		return to == Connecting
	}
	fromRank, fromOK := forwardOrder[from]
	toRank, toOK := forwardOrder[to]
	if !fromOK || !toOK {
		return false
	}
	return toRank > fromRank || (fromRank == toRank)
}

// ConnectionInfo describes one configured IRC network. Password fields are
// plain exported fields read at connect time; JSON marshaling always omits
// them, so they never reach the persisted snapshot (secrets are kept in the
// secure credential store, A3).
type ConnectionInfo struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	TLS            bool     `json:"tls"`
	VerifyCert     bool     `json:"verify_cert"`
	Nick           string   `json:"nick"`
	Username       string   `json:"username"`
	RealName       string   `json:"real_name"`
	AutoJoin       []string `json:"auto_join"`
	RequestedCaps  []string `json:"requested_caps"`
	ConfigErrors   []string `json:"config_errors,omitempty"`

	// Write-only at use; never serialized. See internal/security.Keychain.
	ServerPassword   string `json:"-"`
	NickservPassword string `json:"-"`
	SaslUsername     string `json:"sasl_username,omitempty"`
	SaslPassword     string `json:"-"`
}

// NetworkKey returns the canonical identity used to key credential storage
// and the "last used server" persistence field.
func (c ConnectionInfo) NetworkKey() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
