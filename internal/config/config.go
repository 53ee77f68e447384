// Package config parses ncnoded's command-line configuration (no
// configuration file is read), grounded on the NetworkFlags/NetConfig idiom spread
// across cmd/kaspawallet/config.go and cmd/addsubnetwork/config.go:
// a flat flags struct parsed with github.com/jessevdk/go-flags, a
// mutually-exclusive set of network-selection bools resolved into a
// single chaincfg.Params after Parse returns, and defaulted data/log
// directories under the user's home directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	flags "github.com/jessevdk/go-flags"
	"github.com/pkg/errors"

	"github.com/ncnode/ncnode/chaincfg"
)

const (
	defaultConfigFilename = "ncnode.conf"
	defaultLogFilename    = "ncnode.log"
	defaultDataDirname    = "data"

	defaultCommandAddr  = "127.0.0.1:8334"
	defaultHTTPAddr     = "127.0.0.1:8335"
	defaultKeysFile     = "keys"
	defaultPrivKeyFile  = ".private_key"
	defaultMaxPeers     = 125
	defaultLogLevel     = "info"
)

// Config holds every option ncnoded accepts from the command line.
// Load does not read a config file.
type Config struct {
	AppDir  string `short:"A" long:"appdir" description:"Application data directory"`
	LogDir  string `long:"logdir" description:"Directory to log output to"`
	LogLevel string `long:"loglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical, off}"`

	TestNet bool `long:"testnet" description:"Use the public test network"`
	RegTest bool `long:"regtest" description:"Use the regression test network"`

	Listen      string   `long:"listen" description:"Address to listen for incoming peer connections"`
	ConnectPeers []string `long:"connect" description:"Connect only to the specified peers at startup"`
	MaxPeers    int      `long:"maxpeers" description:"Maximum number of peers to hold open connections with"`

	CommandAddr    string `long:"cmdlisten" description:"Address for the authenticated line-oriented query channel"`
	HTTPAddr       string `long:"httplisten" description:"Address for the query channel's HTTP/websocket fallback"`
	KeysFile       string `long:"keysfile" description:"File listing public keys authorized on the query channel"`
	PrivateKeyFile string `long:"privkeyfile" description:"File holding this node's query-channel signing key"`

	// Params is resolved from TestNet/RegTest after parsing; it carries
	// no flag tags of its own.
	Params chaincfg.Params
}

// Load parses os.Args (or args, for tests), applies defaults relative
// to the resolved application directory, and resolves the
// network-selection flags into a single chaincfg.Params.
func Load(args []string) (*Config, error) {
	cfg := &Config{
		MaxPeers: defaultMaxPeers,
		LogLevel: defaultLogLevel,
	}
	parser := flags.NewParser(cfg, flags.PrintErrors|flags.HelpFlag)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	if err := cfg.resolveNetwork(); err != nil {
		return nil, err
	}
	if err := cfg.applyDefaultPaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) resolveNetwork() error {
	if cfg.TestNet && cfg.RegTest {
		return errors.New("config: testnet and regtest are mutually exclusive")
	}
	switch {
	case cfg.TestNet:
		cfg.Params = chaincfg.TestNetParams
	case cfg.RegTest:
		cfg.Params = chaincfg.RegressionNetParams
	default:
		cfg.Params = chaincfg.MainNetParams
	}
	return nil
}

func (cfg *Config) applyDefaultPaths() error {
	if cfg.AppDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return errors.Wrap(err, "config: failed to resolve home directory")
		}
		cfg.AppDir = filepath.Join(home, ".ncnode", cfg.Params.Name)
	}
	if err := os.MkdirAll(cfg.AppDir, 0700); err != nil {
		return errors.Wrap(err, "config: failed to create application directory")
	}

	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(cfg.AppDir, "logs")
	}
	if cfg.Listen == "" {
		cfg.Listen = fmt.Sprintf("0.0.0.0:%s", cfg.Params.DefaultPort)
	}
	if cfg.CommandAddr == "" {
		cfg.CommandAddr = defaultCommandAddr
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = defaultHTTPAddr
	}
	if cfg.KeysFile == "" {
		cfg.KeysFile = filepath.Join(cfg.AppDir, defaultKeysFile)
	}
	if cfg.PrivateKeyFile == "" {
		cfg.PrivateKeyFile = filepath.Join(cfg.AppDir, defaultPrivKeyFile)
	}
	return nil
}

// DataDir is where block, UTXO, and scoreboard databases are kept,
// namespaced under the resolved application directory.
func (cfg *Config) DataDir() string {
	return filepath.Join(cfg.AppDir, defaultDataDirname)
}

// LogFile is the rotating log file path passed to logger.InitLogRotator.
func (cfg *Config) LogFile() string {
	return filepath.Join(cfg.LogDir, defaultLogFilename)
}
