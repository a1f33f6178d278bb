// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package statemap

import (
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/juju/awaitstate/internal/shards"
)

// Logger represents the logging methods called by a Map.
type Logger interface {
	Tracef(message string, args ...interface{})
	Debugf(message string, args ...interface{})
}

// Config holds the dependencies and tuning of a Map.
type Config struct {
	// Clock supplies the timers used by WaitUntilTimeout.
	Clock clock.Clock

	// Logger is used to trace waits and report key replacement.
	Logger Logger

	// ShardCount is the number of independently locked shards in the
	// key directory. Zero selects the default; any other value must be
	// a power of two.
	ShardCount int

	// Capacity is a hint for the number of keys the map will hold.
	Capacity int

	// Metrics receives the map's metrics. A new Collector is created
	// when it is nil.
	Metrics *Collector
}

// DefaultConfig returns a valid Config using the wall clock and the
// "awaitstate.statemap" logger.
func DefaultConfig() Config {
	return Config{
		Clock:  clock.WallClock,
		Logger: loggo.GetLogger("awaitstate.statemap"),
	}
}

// Validate returns an error if the config cannot be used to create a Map.
func (config Config) Validate() error {
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	if config.ShardCount != 0 && !shards.ValidShardCount(config.ShardCount) {
		return errors.NotValidf("shard count %d", config.ShardCount)
	}
	if config.Capacity < 0 {
		return errors.NotValidf("negative capacity %d", config.Capacity)
	}
	return nil
}
