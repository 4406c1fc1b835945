package chancore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	flags "github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/chancore/build"
	"github.com/lightningnetwork/chancore/channeldb"
	"github.com/lightningnetwork/chancore/contractcourt"
	"github.com/lightningnetwork/chancore/htlcswitch"
	"github.com/lightningnetwork/chancore/lncfg"
	"github.com/lightningnetwork/chancore/lnwire"
	"github.com/lightningnetwork/chancore/monitoring"
)

const (
	defaultDataDirname = "data"
	defaultLogDirname  = "logs"
	defaultLogLevel    = "info"
	defaultNetwork     = "mainnet"
)

var (
	// DefaultChancoreDir is the default directory where chancore keeps
	// its data and config.
	DefaultChancoreDir = btcutil.AppDataDir("chancore", false)

	// DefaultConfigFile is the default full path of the config file.
	DefaultConfigFile = filepath.Join(
		DefaultChancoreDir, lncfg.DefaultConfigFilename,
	)

	defaultDataDir = filepath.Join(DefaultChancoreDir, defaultDataDirname)
	defaultLogDir  = filepath.Join(DefaultChancoreDir, defaultLogDirname)
)

// Config defines the configuration options of the channel core.
//
// See LoadConfig for further details regarding the configuration loading and
// parsing process.
//
//nolint:lll
type Config struct {
	ChancoreDir string `long:"chancoredir" description:"The base directory that contains the data, logs and configuration file."`
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir     string `short:"b" long:"datadir" description:"The directory to store the channel database within"`
	LogDir      string `long:"logdir" description:"Directory to log output."`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <global-level>,<subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems"`
	Network     string `long:"network" description:"The bitcoin network the channels live on" choice:"mainnet" choice:"testnet" choice:"regtest" choice:"simnet" choice:"signet"`

	LogConfig *build.LogConfig `group:"logging" namespace:"logging"`

	DB *lncfg.DB `group:"db" namespace:"db"`

	Channel *lncfg.Channel `group:"channel" namespace:"channel"`

	Closing *lncfg.Closing `group:"closing" namespace:"closing"`

	Monitor *lncfg.Monitor `group:"monitor" namespace:"monitor"`

	Fee *lncfg.Fee `group:"fee" namespace:"fee"`

	Workers *lncfg.Workers `group:"workers" namespace:"workers"`

	Prometheus lncfg.Prometheus `group:"prometheus" namespace:"prometheus"`
}

// DefaultConfig returns all default values for the Config struct.
func DefaultConfig() Config {
	return Config{
		ChancoreDir: DefaultChancoreDir,
		ConfigFile:  DefaultConfigFile,
		DataDir:     defaultDataDir,
		LogDir:      defaultLogDir,
		DebugLevel:  defaultLogLevel,
		Network:     defaultNetwork,
		LogConfig:   build.DefaultLogConfig(),
		DB:          lncfg.DefaultDB(),
		Channel:     lncfg.DefaultChannel(),
		Closing:     lncfg.DefaultClosing(),
		Monitor:     lncfg.DefaultMonitor(),
		Fee:         lncfg.DefaultFee(),
		Workers: &lncfg.Workers{
			Blocks: lncfg.DefaultBlockWorkers,
		},
		Prometheus: lncfg.DefaultPrometheus(),
	}
}

// LoadConfig initializes and parses the config using a config file and the
// passed command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
func LoadConfig(args []string) (*Config, error) {
	// Pre-parse the command line options to pick up an alternative config
	// file.
	preCfg := DefaultConfig()
	if _, err := flags.ParseArgs(&preCfg, args); err != nil {
		return nil, err
	}

	// If the config file path has not been modified by the user, then
	// we'll use the default config file path. However, if the user has
	// modified their chancoredir, then we should assume they intend to use
	// the config file within it.
	configFileDir := lncfg.CleanAndExpandPath(preCfg.ChancoreDir)
	configFilePath := lncfg.CleanAndExpandPath(preCfg.ConfigFile)
	if configFileDir != DefaultChancoreDir &&
		configFilePath == DefaultConfigFile {

		configFilePath = filepath.Join(
			configFileDir, lncfg.DefaultConfigFilename,
		)
	}

	// Next, load any additional configuration options from the file.
	var configFileError error
	cfg := preCfg
	if err := flags.IniParse(configFilePath, &cfg); err != nil {
		// If it's a parsing related error, then we'll return
		// immediately, otherwise we can proceed as possibly the config
		// file doesn't exist which is OK.
		var iniErr *flags.IniError
		if errors.As(err, &iniErr) {
			return nil, err
		}

		configFileError = err
	}

	// Finally, parse the remaining command line options again to ensure
	// they take precedence.
	if _, err := flags.ParseArgs(&cfg, args); err != nil {
		return nil, err
	}

	cleanCfg, err := ValidateConfig(cfg)
	if err != nil {
		return nil, err
	}

	// Warn about missing config file only after all other configuration is
	// done.
	if configFileError != nil {
		chcrLog.Warnf("%v", configFileError)
	}

	return cleanCfg, nil
}

// ValidateConfig checks the given configuration to be sane. All file system
// paths are normalized. The cleaned up config is returned on success.
func ValidateConfig(cfg Config) (*Config, error) {
	// If the provided chancore directory is not the default, we'll modify
	// the path to all of the files and directories that will live within
	// it.
	chancoreDir := lncfg.CleanAndExpandPath(cfg.ChancoreDir)
	if chancoreDir != DefaultChancoreDir {
		cfg.DataDir = filepath.Join(chancoreDir, defaultDataDirname)
		cfg.LogDir = filepath.Join(chancoreDir, defaultLogDirname)
	}

	cfg.DataDir = lncfg.CleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = lncfg.CleanAndExpandPath(cfg.LogDir)

	if _, err := cfg.ChainParams(); err != nil {
		return nil, err
	}

	// The database lives in a per network directory unless it was placed
	// elsewhere explicitly.
	if cfg.DB.Dir == "" {
		cfg.DB.Dir = filepath.Join(cfg.DataDir, cfg.Network)
	}
	cfg.DB.Dir = lncfg.CleanAndExpandPath(cfg.DB.Dir)

	err := lncfg.Validate(
		cfg.DB, cfg.Channel, cfg.Closing, cfg.Monitor, cfg.Fee,
		cfg.Workers, cfg.LogConfig,
	)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ChainParams returns the parameters of the configured network.
func (c *Config) ChainParams() (*chaincfg.Params, error) {
	switch c.Network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil

	case "testnet":
		return &chaincfg.TestNet3Params, nil

	case "regtest":
		return &chaincfg.RegressionNetParams, nil

	case "simnet":
		return &chaincfg.SimNetParams, nil

	case "signet":
		return &chaincfg.SigNetParams, nil

	default:
		return nil, fmt.Errorf("unknown network %q", c.Network)
	}
}

// LogFile returns the full path of the log file.
func (c *Config) LogFile() string {
	return filepath.Join(c.LogDir, c.Network, lncfg.DefaultLogFilename)
}

// SwitchConfig translates the configuration into the config of the switch.
// Monitors and circuits are stored in db, the chain facing dependencies are
// supplied by the caller.
func (c *Config) SwitchConfig(db *channeldb.DB,
	broadcaster contractcourt.Broadcaster,
	genSweepScript func() ([]byte, error)) (htlcswitch.Config, error) {

	params, err := c.ChainParams()
	if err != nil {
		return htlcswitch.Config{}, err
	}

	return htlcswitch.Config{
		Store:          channeldb.NewMonitorStore(db),
		CircuitDB:      db,
		Broadcaster:    broadcaster,
		FeeEstimator:   c.Fee.Estimator(),
		GenSweepScript: genSweepScript,
		FwdPolicy: htlcswitch.ForwardingPolicy{
			BaseFee:       lnwire.MilliSatoshi(c.Channel.BaseFeeMSat),
			FeeRate:       lnwire.MilliSatoshi(c.Channel.FeeRatePPM),
			TimeLockDelta: c.Channel.TimeLockDelta,
		},
		MinFinalCltvDelta:       c.Channel.MinFinalCltvDelta,
		MinExpiryDelta:          c.Channel.MinExpiryDelta,
		JusticeConfTarget:       c.Monitor.JusticeConfTarget,
		SweepConfTarget:         c.Monitor.SweepConfTarget,
		IncomingBroadcastDelta:  c.Monitor.IncomingBroadcastDelta,
		OutgoingBroadcastDelta:  c.Monitor.OutgoingBroadcastDelta,
		CloseConfTarget:         c.Closing.ConfTarget,
		MaxCloseRounds:          c.Closing.MaxRounds,
		CloseNegotiationTimeout: c.Closing.NegotiationTimeout,
		MaxCloseFee:             c.Closing.MaxFeeRate,
		ChainParams:             params,
		BlockWorkers:            c.Workers.Blocks,
	}, nil
}

// StartMetrics launches the Prometheus exporter if it was enabled. It's a
// no-op otherwise.
func (c *Config) StartMetrics() error {
	if !c.Prometheus.Enabled() {
		return nil
	}

	if err := monitoring.ExportPrometheusMetrics(c.Prometheus); err != nil {
		return fmt.Errorf("unable to export metrics: %w", err)
	}

	return nil
}

// makeDirectory creates dir, reporting a dangling symlink in a readable way.
func makeDirectory(dir string) error {
	err := os.MkdirAll(dir, 0700)
	if err == nil {
		return nil
	}

	// Show a nicer error message if it's because a symlink is linked to a
	// directory that does not exist (probably because it's not mounted).
	var pathErr *os.PathError
	if errors.As(err, &pathErr) && os.IsExist(err) {
		link, lerr := os.Readlink(pathErr.Path)
		if lerr == nil {
			err = fmt.Errorf("is symlink %s -> %s mounted?",
				pathErr.Path, link)
		}
	}

	return fmt.Errorf("failed to create directory: %w", err)
}
