package config

import (
	"os"
	"strings"
)

const (
	appEnvVar = "APP_ENV"

	// EnvironmentDevelopment is the default application environment.
	EnvironmentDevelopment = "development"
	// EnvironmentProduction is the canonical production identifier.
	EnvironmentProduction = "production"
	// EnvironmentStaging is the canonical staging identifier.
	EnvironmentStaging = "staging"
)

var environmentAliases = map[string]string{
	"prod": EnvironmentProduction,
	"stag": EnvironmentStaging,
	"dev":  EnvironmentDevelopment,
}

// AppEnvironment reads the application environment from APP_ENV, normalising
// common aliases and defaulting to development.
func AppEnvironment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv(appEnvVar)))
	if env == "" {
		return EnvironmentDevelopment
	}
	if canonical, ok := environmentAliases[env]; ok {
		return canonical
	}
	return env
}

// IsProductionLike reports whether env should behave like a production
// deployment. Production-like environments refuse to start venues with live
// credentials unless the read-only gate passes.
func IsProductionLike(env string) bool {
	switch env {
	case EnvironmentProduction, EnvironmentStaging:
		return true
	default:
		return false
	}
}
