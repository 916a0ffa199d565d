package session

import "github.com/bayup/wabridge/internal/config"

const DefaultSessionName = config.DefaultSession

// Resolve determines the active session name using precedence:
// 1. flagOverride (--session flag)
// 2. cfg.DefaultSession (config.toml, overridden by WABRIDGE_SESSION)
// 3. "main"
func Resolve(flagOverride string, cfg *config.Config) string {
	if flagOverride != "" {
		return flagOverride
	}
	if cfg != nil && cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return DefaultSessionName
}
