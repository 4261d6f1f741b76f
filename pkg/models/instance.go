package models

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"time"
)

// InstanceState represents the current lifecycle state of a sandbox instance
type InstanceState string

const (
	StateStarting InstanceState = "STARTING"
	StateReady    InstanceState = "READY"
	StateStopping InstanceState = "STOPPING"
	StateStopped  InstanceState = "STOPPED"
)

// SetupStatus tracks the in-container setup procedure for an instance
type SetupStatus string

const (
	SetupPending SetupStatus = "pending"
	SetupDone    SetupStatus = "done"
	SetupFailed  SetupStatus = "failed"
)

// Instance represents one live sandbox environment. The ID doubles as the
// capability token for the terminal channel, so it must never be guessable.
type Instance struct {
	ID          string        `json:"instanceId"`
	ScenarioID  string        `json:"scenarioId"`
	State       InstanceState `json:"state"`
	SetupStatus SetupStatus   `json:"setupStatus"`
	CreatedAt   time.Time     `json:"createdAt"`
	ExpiresAt   time.Time     `json:"expiresAt"`
	WSPath      string        `json:"wsPath"`
	WebUIPort   int           `json:"webUIPort,omitempty"`
	ContainerID string        `json:"-"`
}

const instanceIDPrefix = "sad_"

var instanceIDPattern = regexp.MustCompile(`^sad_[a-f0-9]{8}$`)

// NewInstanceID returns a fresh unguessable instance identifier:
// the literal prefix "sad_" followed by 8 lowercase hex characters
// from a cryptographically random source.
func NewInstanceID() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails if the OS entropy source is broken
		panic("models: crypto/rand unavailable: " + err.Error())
	}
	return instanceIDPrefix + hex.EncodeToString(buf)
}

// ValidInstanceID reports whether s matches the exact instance id format.
// Every identifier received from an untrusted source must pass this check
// before it is used to address a container or filesystem path.
func ValidInstanceID(s string) bool {
	return instanceIDPattern.MatchString(s)
}

// WSPathFor returns the terminal channel path for an instance id.
func WSPathFor(id string) string {
	return "/ws/" + id
}
