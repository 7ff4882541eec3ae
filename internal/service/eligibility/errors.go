package eligibility

import "errors"

// ErrInvalidPolicy is returned by NewEngine for a policy that cannot be applied.
var ErrInvalidPolicy = errors.New("invalid send policy")
