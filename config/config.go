// Package config loads the csnd configuration from the command line and an
// optional ini style config file.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcutil"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "csnd.conf"
	defaultDataDirname    = "data"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "csnd.log"
	defaultLogLevel       = "info"
	defaultMaxReorgDepth  = 100
)

var (
	defaultHomeDir    = btcutil.AppDataDir("csnd", false)
	defaultConfigFile = filepath.Join(defaultHomeDir, defaultConfigFilename)
	defaultDataDir    = filepath.Join(defaultHomeDir, defaultDataDirname)
	defaultLogDir     = filepath.Join(defaultHomeDir, defaultLogDirname)
)

// netParams pairs the chain parameters with the default RPC port.
type netParams struct {
	*chaincfg.Params
	rpcPort string
}

var (
	mainNetParams       = netParams{&chaincfg.MainNetParams, "8334"}
	testNet3Params      = netParams{&chaincfg.TestNet3Params, "18334"}
	regressionNetParams = netParams{&chaincfg.RegressionNetParams, "18334"}
	simNetParams        = netParams{&chaincfg.SimNetParams, "18556"}
)

// Config defines the configuration options for csnd.
type Config struct {
	ShowVersion    bool   `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile     string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir        string `short:"b" long:"datadir" description:"Directory to store data"`
	LogDir         string `long:"logdir" description:"Directory to log output."`
	DebugLevel     string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems"`
	TestNet3       bool   `long:"testnet" description:"Use the test network"`
	RegressionTest bool   `long:"regtest" description:"Use the regression test network"`
	SimNet         bool   `long:"simnet" description:"Use the simulation test network"`
	MaxReorgDepth  int32  `long:"maxreorgdepth" description:"Number of blocks kept for undo; deeper reorgs are refused"`
	RPCListen      string `long:"rpclisten" description:"Interface/port to listen for JSON-RPC connections (default port: 8334, testnet: 18334)"`
	DisableRPC     bool   `long:"norpc" description:"Disable the JSON-RPC server"`
	ImportFile     string `long:"importfile" description:"Connect the utreexo blocks in this file at startup"`

	params netParams
}

// Params is the network the config selects.
func (c *Config) Params() *chaincfg.Params {
	return c.params.Params
}

// LogFile is where the log rotator writes.
func (c *Config) LogFile() string {
	return filepath.Join(c.LogDir, defaultLogFilename)
}

// DBPath is the chain state database directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "chainstate")
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(defaultHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}
	return filepath.Clean(os.ExpandEnv(path))
}

// Load initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// A missing config file is only an error when it was asked for explicitly.
func Load(args []string) (*Config, []string, error) {
	cfg := Config{
		ConfigFile:    defaultConfigFile,
		DataDir:       defaultDataDir,
		LogDir:        defaultLogDir,
		DebugLevel:    defaultLogLevel,
		MaxReorgDepth: defaultMaxReorgDepth,
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.HelpFlag)
	_, err := preParser.ParseArgs(args)
	if err != nil {
		return nil, nil, err
	}
	if preCfg.ShowVersion {
		return &preCfg, nil, nil
	}

	parser := flags.NewParser(&cfg, flags.Default&^flags.PrintErrors)
	err = flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
	if err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) || preCfg.ConfigFile != defaultConfigFile {
			return nil, nil, fmt.Errorf("error parsing config file: %v", err)
		}
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.ParseArgs(args)
	if err != nil {
		return nil, nil, err
	}

	// Multiple networks can't be selected simultaneously.
	numNets := 0
	cfg.params = mainNetParams
	if cfg.TestNet3 {
		numNets++
		cfg.params = testNet3Params
	}
	if cfg.RegressionTest {
		numNets++
		cfg.params = regressionNetParams
	}
	if cfg.SimNet {
		numNets++
		cfg.params = simNetParams
	}
	if numNets > 1 {
		return nil, nil, errors.New("the testnet, regtest, and simnet " +
			"params can't be used together -- choose one of the three")
	}

	if cfg.MaxReorgDepth < 1 {
		return nil, nil, fmt.Errorf("maxreorgdepth must be at least 1, "+
			"got %d", cfg.MaxReorgDepth)
	}

	// Append the network type to the data and log directories so they are
	// "namespaced" per network.
	cfg.DataDir = filepath.Join(cleanAndExpandPath(cfg.DataDir),
		netName(cfg.params.Params))
	cfg.LogDir = filepath.Join(cleanAndExpandPath(cfg.LogDir),
		netName(cfg.params.Params))
	if cfg.ImportFile != "" {
		cfg.ImportFile = cleanAndExpandPath(cfg.ImportFile)
	}

	if cfg.RPCListen == "" {
		cfg.RPCListen = net.JoinHostPort("127.0.0.1", cfg.params.rpcPort)
	} else if _, _, err := net.SplitHostPort(cfg.RPCListen); err != nil {
		cfg.RPCListen = net.JoinHostPort(cfg.RPCListen, cfg.params.rpcPort)
	}

	return &cfg, remainingArgs, nil
}

// netName is the per network directory name. testnet3 lives in "testnet".
func netName(params *chaincfg.Params) string {
	if params.Name == chaincfg.TestNet3Params.Name {
		return "testnet"
	}
	return params.Name
}
