// Package appconf holds runtime configuration for the reconciler process.
package appconf

import "time"

// Environment describes the runtime environment of the application.
type Environment int

const (
	Test Environment = iota
	Development
	Production
)

// String returns the lowercase name of the environment.
func (e Environment) String() string {
	switch e {
	case Test:
		return "test"
	case Production:
		return "production"
	default:
		return "development"
	}
}

// EnvFlagToEnvironment maps the -env flag value to an Environment.
// Unrecognized values fall back to Development.
func EnvFlagToEnvironment(flag string) Environment {
	switch flag {
	case "test":
		return Test
	case "production":
		return Production
	default:
		return Development
	}
}

// Config is the process-level configuration assembled from flags in
// cmd/reconciler. Agency definitions live in a separate YAML file
// (see models.LoadAgencies); this struct only carries process wiring.
type Config struct {
	Env          Environment
	Verbose      bool
	Port         int
	AgenciesPath string
	DBPath       string
	SnapshotDir  string
	PollInterval time.Duration
	// FeedRatePerMinute bounds GTFS-RT fetches per agency feed.
	FeedRatePerMinute int
	// ImportStatic triggers a static GTFS import for each agency at startup.
	ImportStatic bool
}
