// Package daemon holds the configuration, logging, and subsystem
// wiring shared by the cfdmakerd and cfdtakerd entrypoints (spec §6
// "operator surface"). Grounded on lnd.go's loadConfig/backendLog
// pattern: a single flags.Default parse populating a Config struct,
// and one rotating log backend shared by every subsystem's UseLogger
// setter.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	flags "github.com/jessevdk/go-flags"
)

const (
	defaultDataDirname  = "data"
	defaultLogDirname   = "logs"
	defaultLogFilename  = "cfd.log"
	defaultPeerPort     = "10555"
	defaultOracleURL    = "https://oracle.example.com/x/BitMEX/BXBT"
	defaultMinRelayFee  = 1
)

// Config is parsed from the command line only; no config file is read.
type Config struct {
	DataDir string `long:"datadir" description:"directory to store the repository and logs"`
	LogDir  string `long:"logdir" description:"directory to store log files"`
	Network string `long:"network" description:"bitcoin,testnet,regtest" default:"testnet"`

	PeerListenAddr string `long:"peerlisten" description:"address to listen on for taker connections (maker only)"`
	MakerAddr      string `long:"makeraddr" description:"maker address to dial (taker only)"`

	OracleBaseURL   string `long:"oracle.baseurl" description:"base URL of the oracle HTTP endpoint"`
	OraclePublicKey string `long:"oracle.pubkey" description:"hex-encoded oracle public key"`

	MinRelayFeeSatPerVByte int64 `long:"fees.minrelay" description:"minimum relay feerate in sat/vbyte"`

	DebugLevel string `long:"debuglevel" description:"logging level for all subsystems"`
}

// DefaultConfig returns a Config populated with the same defaults
// lnd.go's loadConfig seeds before parsing flags/config file over it.
func DefaultConfig() Config {
	return Config{
		DataDir:                defaultDataDirname,
		LogDir:                 defaultLogDirname,
		Network:                "testnet",
		OracleBaseURL:          defaultOracleURL,
		MinRelayFeeSatPerVByte: defaultMinRelayFee,
		DebugLevel:             "info",
	}
}

// LoadConfig parses command-line flags over DefaultConfig and
// validates the result, mirroring lnd.go's loadConfig: flags first,
// then directory creation, then the required oracle public key check.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()
	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}
	if cfg.LogDir == defaultLogDirname {
		cfg.LogDir = filepath.Join(cfg.DataDir, defaultLogDirname)
	}
	if err := os.MkdirAll(cfg.LogDir, 0700); err != nil {
		return nil, fmt.Errorf("create log directory %s: %w", cfg.LogDir, err)
	}

	if cfg.OraclePublicKey == "" {
		return nil, fmt.Errorf("oracle.pubkey is required")
	}

	return &cfg, nil
}

// LogFilePath is the rotating log file path under LogDir.
func (c *Config) LogFilePath() string {
	return filepath.Join(c.LogDir, defaultLogFilename)
}
