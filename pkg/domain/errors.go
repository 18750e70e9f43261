package domain

import "errors"

// ErrConfig is the root of all configuration errors. Configuration errors are fatal
// and are raised before any network activity.
var ErrConfig = errors.New("configuration error")

var (
	ErrNoParams          = configError("no manifest found; first run must provide params")
	ErrMissingCollection = configError("collection_id must be provided in the builder or params extra")
	ErrMissingAPIKey     = configError("MEDIACLOUD_KEY or MEDIACLOUD_API_KEY environment variable is required")
	ErrUnknownExtraKey   = configError("unknown extra key")
	ErrInvalidParams     = configError("invalid builder params")
)

type cfgErr struct{ msg string }

func configError(msg string) error { return &cfgErr{msg: msg} }

func (e *cfgErr) Error() string { return e.msg }

// Is makes every configuration error match ErrConfig.
func (e *cfgErr) Is(target error) bool { return target == ErrConfig }
