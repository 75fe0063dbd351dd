package provision

import (
	"fmt"
	"strings"
)

// Mode selects the authority topology.
type Mode string

const (
	// PerEntity gives every node and the client its own root CA.
	PerEntity Mode = "per-entity"
	// Shared signs every identity with one root CA.
	Shared Mode = "shared"
)

// Modes lists the supported modes.
var Modes = []Mode{PerEntity, Shared}

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case PerEntity, "":
		return PerEntity, nil
	case Shared:
		return Shared, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want %s or %s)", s, PerEntity, Shared)
	}
}

// State is how far a target has been provisioned. It is derived from disk on
// every run and never stored.
type State int

// Provisioning states, in order.
const (
	NotStarted State = iota
	AuthorityReady
	IdentityIssued
	KeystoreBuilt
	TrustAnchored
	Done
)

var stateNames = [...]string{
	NotStarted:     "NotStarted",
	AuthorityReady: "AuthorityReady",
	IdentityIssued: "IdentityIssued",
	KeystoreBuilt:  "KeystoreBuilt",
	TrustAnchored:  "TrustAnchored",
	Done:           "Done",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText renders the state name in JSON and YAML output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Kind of target.
const (
	KindNode   = "node"
	KindClient = "client"
)

// TargetStatus is the derived state of one target.
type TargetStatus struct {
	Target string `json:"target" yaml:"target" header:"TARGET"`
	Kind   string `json:"kind" yaml:"kind" header:"KIND"`
	State  State  `json:"state" yaml:"state" header:"STATE"`
	Detail string `json:"detail,omitempty" yaml:"detail,omitempty" header:"DETAIL"`
}

// Summary describes a finished run.
type Summary struct {
	RunID       string   `json:"run_id" yaml:"run_id"`
	Mode        Mode     `json:"mode" yaml:"mode"`
	Provisioned []string `json:"provisioned" yaml:"provisioned"`
	Skipped     []string `json:"skipped" yaml:"skipped"`
	// Anchored lists truststore aliases added by this run.
	Anchored []string `json:"anchored" yaml:"anchored"`
}
