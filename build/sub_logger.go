package build

import (
	"sort"
	"sync"

	btclogv1 "github.com/btcsuite/btclog"
	"github.com/btcsuite/btclog/v2"
)

// SubLoggerManager manages a set of subsystem loggers that all write through
// one root handler set. It implements LeveledSubLogger so that a debug level
// string from the config can be applied to it.
type SubLoggerManager struct {
	handler *handlerSet

	mu      sync.Mutex
	loggers SubLoggers
}

// A compile-time check to ensure SubLoggerManager implements
// LeveledSubLogger.
var _ LeveledSubLogger = (*SubLoggerManager)(nil)

// NewSubLoggerManager constructs a SubLoggerManager writing to the given
// handlers.
func NewSubLoggerManager(handlers ...btclog.Handler) *SubLoggerManager {
	level, _ := btclogv1.LevelFromString(LogLevel)

	return &SubLoggerManager{
		handler: newHandlerSet(level, handlers...),
		loggers: make(SubLoggers),
	}
}

// GenSubLogger creates a new logger for the given subsystem. Its signature
// matches the genSubLogger argument of NewSubLogger.
func (r *SubLoggerManager) GenSubLogger(subsystem string) btclog.Logger {
	return btclog.NewSLogger(r.handler.SubSystem(subsystem))
}

// RegisterSubLogger records the logger under the subsystem name so its level
// can later be changed.
func (r *SubLoggerManager) RegisterSubLogger(subsystem string,
	logger btclog.Logger) {

	r.mu.Lock()
	defer r.mu.Unlock()

	r.loggers[subsystem] = logger
}

// SubLoggers returns all currently registered subsystem loggers for this log
// writer.
//
// NOTE: This is part of the LeveledSubLogger interface.
func (r *SubLoggerManager) SubLoggers() SubLoggers {
	r.mu.Lock()
	defer r.mu.Unlock()

	loggers := make(SubLoggers, len(r.loggers))
	for name, logger := range r.loggers {
		loggers[name] = logger
	}

	return loggers
}

// SupportedSubsystems returns a sorted string slice of all keys in the
// subsystems map, corresponding to the names of the subsystems.
//
// NOTE: This is part of the LeveledSubLogger interface.
func (r *SubLoggerManager) SupportedSubsystems() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	subsystems := make([]string, 0, len(r.loggers))
	for subsysID := range r.loggers {
		subsystems = append(subsystems, subsysID)
	}

	sort.Strings(subsystems)

	return subsystems
}

// SetLogLevel sets the logging level for provided subsystem. Invalid
// subsystems are ignored. Uninitialized subsystems are dynamically created as
// needed.
//
// NOTE: This is part of the LeveledSubLogger interface.
func (r *SubLoggerManager) SetLogLevel(subsystemID string, logLevel string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	logger, ok := r.loggers[subsystemID]
	if !ok {
		return
	}

	level, _ := btclogv1.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// SetLogLevels sets the log level for all subsystem loggers to the passed
// level. It also dynamically creates the subsystem loggers as needed, so it
// can be used to initialize the logging system.
//
// NOTE: This is part of the LeveledSubLogger interface.
func (r *SubLoggerManager) SetLogLevels(logLevel string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	level, _ := btclogv1.LevelFromString(logLevel)
	r.handler.SetLevel(level)
	for _, logger := range r.loggers {
		logger.SetLevel(level)
	}
}
