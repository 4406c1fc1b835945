package chancore

import (
	"github.com/btcsuite/btclog/v2"
	"github.com/lightningnetwork/chancore/build"
	"github.com/lightningnetwork/chancore/channeldb"
	"github.com/lightningnetwork/chancore/contractcourt"
	"github.com/lightningnetwork/chancore/htlcswitch"
	"github.com/lightningnetwork/chancore/lnwallet"
	"github.com/lightningnetwork/chancore/lnwallet/chancloser"
	"github.com/lightningnetwork/chancore/monitoring"
)

// Subsystem is the logging subsystem of the chancore package.
const Subsystem = "CHCR"

// chcrLog is the logger of this package. It's replaced by SetupLoggers.
var chcrLog = build.NewSubLogger(Subsystem, nil)

// SetupLoggers initializes all package-global logger variables.
func SetupLoggers(root *build.SubLoggerManager) {
	genLogger := root.GenSubLogger

	chcrLog = build.NewSubLogger(Subsystem, genLogger)
	root.RegisterSubLogger(Subsystem, chcrLog)

	AddSubLogger(root, "LNWL", genLogger, lnwallet.UseLogger)
	AddSubLogger(root, "CHCL", genLogger, chancloser.UseLogger)
	AddSubLogger(root, "CNCT", genLogger, contractcourt.UseLogger)
	AddSubLogger(root, "BRAR", genLogger, contractcourt.UseBreachLogger)
	AddSubLogger(root, "HSWC", genLogger, htlcswitch.UseLogger)
	AddSubLogger(root, "CHDB", genLogger, channeldb.UseLogger)
	AddSubLogger(
		root, monitoring.Subsystem, genLogger, monitoring.UseLogger,
	)
}

// AddSubLogger is a helper method to conveniently create and register the
// logger of one or more sub systems.
func AddSubLogger(root *build.SubLoggerManager, subsystem string,
	genLogger func(string) btclog.Logger,
	useLoggers ...func(btclog.Logger)) {

	// Create and register just a single logger to prevent them from
	// overwriting each other internally.
	logger := build.NewSubLogger(subsystem, genLogger)
	root.RegisterSubLogger(subsystem, logger)
	for _, useLogger := range useLoggers {
		useLogger(logger)
	}
}

// InitLogging sets up the console and file loggers of the configuration and
// applies its debug level. The returned writer must be closed on shutdown.
func InitLogging(cfg *Config) (*build.RotatingLogWriter, error) {
	if err := makeDirectory(cfg.LogDir); err != nil {
		return nil, err
	}

	logWriter := build.NewRotatingLogWriter()
	err := logWriter.InitLogRotator(cfg.LogConfig.File, cfg.LogFile())
	if err != nil {
		return nil, err
	}

	root := build.NewSubLoggerManager(
		build.NewDefaultLogHandlers(cfg.LogConfig, logWriter)...,
	)
	SetupLoggers(root)

	err = build.ParseAndSetDebugLevels(cfg.DebugLevel, root)
	if err != nil {
		_ = logWriter.Close()
		return nil, err
	}

	return logWriter, nil
}
