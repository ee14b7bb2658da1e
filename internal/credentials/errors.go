package credentials

import "fmt"

// ErrorKind classifies an unusable credential configuration.
type ErrorKind int

const (
	// KindMissingEnvVar means the environment strategy was selected but the
	// region could not be determined from config or the environment snapshot.
	KindMissingEnvVar ErrorKind = iota + 1
	// KindIncompleteKeyPair means the explicit strategy was selected with
	// exactly one of access key / secret key populated.
	KindIncompleteKeyPair
)

func (k ErrorKind) String() string {
	switch k {
	case KindMissingEnvVar:
		return "missing_env_var"
	case KindIncompleteKeyPair:
		return "incomplete_key_pair"
	default:
		return "unknown"
	}
}

// Error is a configuration problem found during resolution. It is never
// retried automatically; a human has to fix the configuration. The message
// names variables and strategies, never secret values.
type Error struct {
	Kind     ErrorKind
	Strategy Source
	Detail   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("credentials: %s (strategy %s): %s", e.Kind, e.Strategy, e.Detail)
}
