package credentials

import "fmt"

// Source identifies which authentication strategy produced a credential set.
// Exactly one source is selected per resolution attempt.
type Source int

const (
	SourceEnvironment Source = iota + 1
	SourceProfile
	SourceExplicit
	SourceInstanceRole
)

func (s Source) String() string {
	switch s {
	case SourceEnvironment:
		return "environment"
	case SourceProfile:
		return "profile"
	case SourceExplicit:
		return "explicit"
	case SourceInstanceRole:
		return "instance-role"
	default:
		return "unknown"
	}
}

const redacted = "[REDACTED]"

// Secret is a string whose value never appears in logs, errors, or encodings.
// Call Reveal at the point the value is handed to the cloud SDK.
type Secret string

func (Secret) String() string   { return redacted }
func (Secret) GoString() string { return redacted }

func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return []byte(`""`), nil
	}
	return []byte(`"` + redacted + `"`), nil
}

// Reveal returns the underlying value.
func (s Secret) Reveal() string { return string(s) }

// Resolved holds the outcome of one resolution attempt. It is immutable for
// the lifetime of a connector instance; callers re-resolve explicitly when
// configuration changes.
type Resolved struct {
	Source         Source
	AccessKey      Secret
	SecretKey      Secret
	SessionToken   Secret
	Region         string
	Profile        string
	HasKeyMaterial bool
}

// String renders the resolution outcome with all key material redacted.
func (r Resolved) String() string {
	return fmt.Sprintf("credentials{source=%s region=%s profile=%q key_material=%t}",
		r.Source, r.Region, r.Profile, r.HasKeyMaterial)
}

// EnvKeys names the environment variables the environment strategy reads.
// The names are supplied by configuration, not baked in.
type EnvKeys struct {
	AccessKey    string `json:"access_key"`
	SecretKey    string `json:"secret_key"`
	SessionToken string `json:"session_token"`
	Region       string `json:"region"`
}

// Config is the input to one resolution attempt. Env is a snapshot of the
// relevant process environment taken by the caller; the resolver itself
// never reads ambient global state.
type Config struct {
	UseEnvironment bool
	ProfileName    string
	AccessKey      string
	SecretKey      string
	SessionToken   string
	Region         string
	EnvKeys        EnvKeys
	Env            map[string]string
}
