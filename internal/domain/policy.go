package domain

import (
	"errors"
	"time"
)

// ErrPolicyConflict is returned by Policy.Validate when both throttles are set.
var ErrPolicyConflict = errors.New("send_once and send_frequency can not be set together")

// Policy throttles how often a template may reach the same owner under the
// same label.
type Policy struct {
	SendOnce      bool          `json:"send_once"`
	SendFrequency time.Duration `json:"send_frequency"`
}

// Validate rejects a policy that sets both SendOnce and SendFrequency.
func (p Policy) Validate() error {
	if p.SendOnce && p.SendFrequency != 0 {
		return ErrPolicyConflict
	}
	if p.SendFrequency < 0 {
		return errors.New("send_frequency must not be negative")
	}
	return nil
}

// Unrestricted reports whether the policy lets every owner through.
func (p Policy) Unrestricted() bool {
	return !p.SendOnce && p.SendFrequency == 0
}

// Window returns how far back history counts. unbounded is true for
// send-once, where any earlier record excludes the owner.
func (p Policy) Window() (window time.Duration, unbounded bool) {
	if p.SendOnce {
		return 0, true
	}
	return p.SendFrequency, false
}
