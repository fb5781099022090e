package config

import (
	"os"
	"strings"
)

// DeploymentMode represents the context gmaint runs in
type DeploymentMode string

const (
	// ModeInteractive is an operator at a terminal
	// - Credentials via env vars, keychain, or a prompt
	ModeInteractive DeploymentMode = "interactive"

	// ModePipeline is the scheduled load pipeline (Jenkins, cron, CI)
	// - All credentials from environment variables
	// - No interactive prompts allowed
	ModePipeline DeploymentMode = "pipeline"
)

// DetectMode determines the deployment context based on environment
func DetectMode() DeploymentMode {
	// Explicit mode override (highest priority)
	if mode := os.Getenv("GRAPHMAINT_MODE"); mode != "" {
		switch strings.ToLower(mode) {
		case "interactive", "local":
			return ModeInteractive
		case "pipeline", "ci", "batch":
			return ModePipeline
		}
	}

	if isPipeline() {
		return ModePipeline
	}
	return ModeInteractive
}

// isPipeline detects if running under a CI or scheduler
func isPipeline() bool {
	ciEnvVars := []string{
		"CI",                     // Generic CI indicator
		"CONTINUOUS_INTEGRATION", // Generic CI indicator
		"JENKINS_URL",            // Jenkins
		"BUILD_NUMBER",           // Jenkins job
		"GITHUB_ACTIONS",         // GitHub Actions
		"GITLAB_CI",              // GitLab CI
	}

	for _, envVar := range ciEnvVars {
		if os.Getenv(envVar) != "" {
			return true
		}
	}

	return false
}

// String returns the string representation of the mode
func (m DeploymentMode) String() string {
	return string(m)
}

// AllowsInteractivePrompts returns true if interactive prompts are allowed
func (m DeploymentMode) AllowsInteractivePrompts() bool {
	return m == ModeInteractive
}

// ConfigSource returns where credentials should come from
func (m DeploymentMode) ConfigSource() string {
	switch m {
	case ModeInteractive:
		return "environment variables, keychain, or gmaint configure"
	case ModePipeline:
		return "environment variables only (PDBserver, PDBpass)"
	default:
		return "unknown"
	}
}
