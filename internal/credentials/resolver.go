package credentials

import (
	"context"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Resolver selects an authentication strategy in a fixed precedence order
// and produces a Resolved value or a configuration error. Selection is
// total-order: once a strategy is selected there is no fallthrough to the
// next one.
type Resolver struct {
	logger *zap.Logger
}

// NewResolver creates a Resolver that emits audit records through logger.
func NewResolver(logger *zap.Logger) *Resolver {
	return &Resolver{logger: logger}
}

// Resolve picks the first applicable strategy:
//
//  1. environment variables, when enabled
//  2. a named profile, when non-empty
//  3. explicit access/secret values, when both present
//  4. ambient instance-role credentials otherwise
//
// Every resolution emits one audit record naming the strategy and region.
// No code path, including errors, carries secret values into logs.
func (r *Resolver) Resolve(ctx context.Context, cfg Config) (Resolved, error) {
	if err := ctx.Err(); err != nil {
		return Resolved{}, err
	}

	switch {
	case cfg.UseEnvironment:
		return r.resolveEnvironment(cfg)
	case cfg.ProfileName != "":
		return r.audit(Resolved{
			Source:  SourceProfile,
			Profile: cfg.ProfileName,
			Region:  cfg.Region,
		}), nil
	case cfg.AccessKey != "" || cfg.SecretKey != "":
		return r.resolveExplicit(cfg)
	default:
		return r.audit(Resolved{
			Source: SourceInstanceRole,
			Region: cfg.Region,
		}), nil
	}
}

func (r *Resolver) resolveEnvironment(cfg Config) (Resolved, error) {
	region := cfg.Region
	if region == "" {
		region = cfg.Env[cfg.EnvKeys.Region]
	}
	if region == "" {
		return Resolved{}, &Error{
			Kind:     KindMissingEnvVar,
			Strategy: SourceEnvironment,
			Detail:   "region not set and " + cfg.EnvKeys.Region + " absent from environment",
		}
	}

	accessKey := cfg.Env[cfg.EnvKeys.AccessKey]
	secretKey := cfg.Env[cfg.EnvKeys.SecretKey]
	sessionToken := cfg.Env[cfg.EnvKeys.SessionToken]

	res := Resolved{
		Source:         SourceEnvironment,
		AccessKey:      Secret(accessKey),
		SecretKey:      Secret(secretKey),
		SessionToken:   Secret(sessionToken),
		Region:         region,
		HasKeyMaterial: accessKey != "" && secretKey != "",
	}
	if !res.HasKeyMaterial {
		// Not a hard failure: the cloud SDK may still find instance-role
		// credentials. The selected strategy stays "environment".
		r.logger.Warn("environment strategy selected without complete key material, relying on ambient role credentials",
			zap.String("access_key_var", cfg.EnvKeys.AccessKey),
			zap.String("secret_key_var", cfg.EnvKeys.SecretKey),
			zap.String("region", region),
		)
	}
	return r.audit(res), nil
}

func (r *Resolver) resolveExplicit(cfg Config) (Resolved, error) {
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return Resolved{}, &Error{
			Kind:     KindIncompleteKeyPair,
			Strategy: SourceExplicit,
			Detail:   "explicit credentials require both access_key and secret_key",
		}
	}
	r.logger.Warn("explicit credential values configured, prefer environment variables or a profile",
		zap.String("region", cfg.Region),
	)
	return r.audit(Resolved{
		Source:         SourceExplicit,
		AccessKey:      Secret(cfg.AccessKey),
		SecretKey:      Secret(cfg.SecretKey),
		SessionToken:   Secret(cfg.SessionToken),
		Region:         cfg.Region,
		HasKeyMaterial: true,
	}), nil
}

func (r *Resolver) audit(res Resolved) Resolved {
	r.logger.Info("credential strategy selected",
		zap.String("audit_id", uuid.New().String()),
		zap.String("strategy", res.Source.String()),
		zap.String("region", res.Region),
		zap.Bool("key_material", res.HasKeyMaterial),
	)
	return res
}

// SnapshotEnv captures the named variables from the process environment so
// resolution stays deterministic and testable.
func SnapshotEnv(keys EnvKeys) map[string]string {
	snap := make(map[string]string, 4)
	for _, k := range []string{keys.AccessKey, keys.SecretKey, keys.SessionToken, keys.Region} {
		if k == "" {
			continue
		}
		if v, ok := os.LookupEnv(k); ok {
			snap[k] = v
		}
	}
	return snap
}
