package registry

import "errors"

// Error kinds from spec.md section 7. Wrapped with fmt.Errorf("%w: ...", ErrX, ...)
// at the call site so callers can errors.Is against them.
var (
	ErrNotFound    = errors.New("registry: not found")
	ErrConfig      = errors.New("registry: config error")
	ErrInvalidAddr = errors.New("registry: invalid addr/key pair")
	ErrInvalidCron = errors.New("registry: invalid cron spec")
)
