package gtfsdb

import (
	"reconciler.transitchat.org/internal/appconf"
)

const defaultBulkInsertBatchSize = 3000

// Config holds the schedule store's construction parameters.
type Config struct {
	DBPath    string
	Env       appconf.Environment
	verbose   bool
	batchSize int
}

// NewConfig creates a Config for the given database path and environment.
func NewConfig(dbPath string, env appconf.Environment, verbose bool) Config {
	return Config{
		DBPath:    dbPath,
		Env:       env,
		verbose:   verbose,
		batchSize: defaultBulkInsertBatchSize,
	}
}

// GetBulkInsertBatchSize returns the multi-row INSERT batch size, falling
// back to the default when unset.
func (c Config) GetBulkInsertBatchSize() int {
	if c.batchSize <= 0 {
		return defaultBulkInsertBatchSize
	}
	return c.batchSize
}
