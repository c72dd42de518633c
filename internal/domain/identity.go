package domain

import (
	"errors"
	"strconv"
)

var (
	// ErrMissingIdentity is returned when the corp id or secret is empty.
	ErrMissingIdentity = errors.New("corp id and secret are required")
	// ErrInvalidAgentID is returned for an agent id that is not an integer.
	ErrInvalidAgentID = errors.New("agent id must be an integer")
)

// Identity is the application identity used to obtain access tokens.
type Identity struct {
	CorpID  string
	Secret  string
	AgentID string
}

func (id Identity) Validate() error {
	if id.CorpID == "" || id.Secret == "" {
		return ErrMissingIdentity
	}
	if !ValidAgentID(id.AgentID) {
		return ErrInvalidAgentID
	}
	return nil
}

// ValidAgentID reports whether s is empty or a decimal integer, the only
// forms the message endpoint accepts for agentid.
func ValidAgentID(s string) bool {
	if s == "" {
		return true
	}
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}
