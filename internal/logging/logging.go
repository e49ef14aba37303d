// Package logging centralizes the JSON-formatted logrus setup used across
// the core, so every component logs with a consistent "component" field
// instead of each file calling logrus globally on its own.
package logging

import (
	"os"
	"sync"

	log "github.com/sirupsen/logrus"
)

var initOnce sync.Once

func initLogger() {
	log.SetFormatter(&log.JSONFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.InfoLevel)
}

// For returns a logger entry tagged with the given component name.
func For(component string) *log.Entry {
	initOnce.Do(initLogger)
	return log.WithField("component", component)
}

// SetLevel adjusts the global log level.
func SetLevel(level log.Level) {
	initOnce.Do(initLogger)
	log.SetLevel(level)
}
