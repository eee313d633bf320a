// Copyright (c) 2024 The exccidx developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package config loads exccidxd's configuration the way exccd loads
// its own: jessevdk/go-flags parses the command line first, an
// optional INI config file supplies anything not given on the
// command line, and defaults are applied to whatever neither supplied.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/EXCCoin/exccidx/internal/netparams"
)

const (
	defaultConfigFilename = "exccidxd.conf"
	defaultLogFilename    = "exccidxd.log"
	defaultLogLevel       = "info"
	defaultNetwork        = "mainnet"
	defaultHTTPListen     = ":8866"
	defaultWSListen       = ":8867"
	defaultIPCSocketPath  = "exccidxd.sock"
	defaultSQLDSN         = "exccidx.sqlite"
	defaultLoaderCacheDir = "loadercache"
)

// Config is the full set of exccidxd knobs, shaped like exccd's own
// dcrdConfig struct: long flag names plus a description, short flags
// only for configfile (-C), appdata (-A) and debuglevel (-d); defaults
// come from defaultConfig before parsing.
type Config struct {
	ConfigFile    string `short:"C" long:"configfile" description:"Path to configuration file"`
	AppDataDir    string `short:"A" long:"appdata" description:"Directory to store data"`
	LogDir        string `long:"logdir" description:"Directory to log output"`
	LogLevel      string `short:"d" long:"debuglevel" description:"Logging level: trace, debug, info, warn, error, critical"`
	NoFileLogging bool   `long:"nofilelogging" description:"Disable logging to a log file"`

	Network string `long:"network" description:"Network to track: mainnet, testnet, simnet, regnet"`

	NodeRPCHost string `long:"noderpchost" description:"Hostname/IP of the Bitcoin-compatible node's RPC endpoint"`
	NodeRPCUser string `long:"noderpcuser" description:"RPC username for the node connection"`
	NodeRPCPass string `long:"noderpcpass" description:"RPC password for the node connection"`

	SQLDSN string `long:"sqldsn" description:"SQLite DSN/file path for the event store"`

	LoaderCacheDir             string        `long:"loadercachedir" description:"Directory for the pull loader's on-disk resume cache"`
	MaxQueueBytes              int64         `long:"maxqueuebytes" description:"Maximum BlockQueue size in bytes"`
	MaxBlockBytes              int64         `long:"maxblockbytes" description:"Maximum accepted single-block size in bytes"`
	InitialMaxPreloadCount     int           `long:"initialpreloadcount" description:"Initial number of blocks the pull loader preloads metadata for"`
	MaxRequestBlocksBatchBytes int64         `long:"maxrequestbatchbytes" description:"Maximum bytes of blocks fetched per pull loader tick"`
	FetchRetries               int           `long:"fetchretries" description:"Number of retries per block fetch"`
	FetchRetryDelay            time.Duration `long:"fetchretrydelay" description:"Delay between block fetch retries"`
	ParallelFetchLimit         int           `long:"parallelfetchlimit" description:"Maximum concurrent in-flight block fetches"`
	BlockTime                  time.Duration `long:"blocktime" description:"Target chain block time, used to cap preload backoff"`

	IteratorBudgetBytes int64 `long:"iteratorbudgetbytes" description:"Maximum bytes per batch handed to the domain executor"`
	DeliveryBudgetBytes int64 `long:"deliverybudgetbytes" description:"Maximum bytes per outbox delivery chunk"`

	HTTPListen    string `long:"httplisten" description:"HTTP transport listen address"`
	WSListen      string `long:"wslisten" description:"WebSocket transport listen address"`
	IPCSocketPath string `long:"ipcsocketpath" description:"Unix domain socket path for the IPC transport"`

	AckTimeout        time.Duration `long:"acktimeout" description:"Timeout waiting for a streamed batch's ACK"`
	HeartbeatInterval time.Duration `long:"heartbeatinterval" description:"Producer heartbeat ping interval"`
	MaxMessageBytes   int           `long:"maxmessagebytes" description:"Maximum wire envelope size in bytes"`
}

// defaultConfig returns a Config with every default value applied; the
// flags parser overlays anything the user actually supplied on top.
func defaultConfig() Config {
	return Config{
		AppDataDir:                 defaultAppDataDir(),
		LogLevel:                   defaultLogLevel,
		Network:                    defaultNetwork,
		SQLDSN:                     defaultSQLDSN,
		LoaderCacheDir:             defaultLoaderCacheDir,
		MaxQueueBytes:              512 << 20,
		MaxBlockBytes:              32 << 20,
		InitialMaxPreloadCount:     16,
		MaxRequestBlocksBatchBytes: 16 << 20,
		FetchRetries:               3,
		FetchRetryDelay:            2 * time.Second,
		ParallelFetchLimit:         4,
		BlockTime:                  5 * time.Minute,
		IteratorBudgetBytes:        8 << 20,
		DeliveryBudgetBytes:        8 << 20,
		HTTPListen:                 defaultHTTPListen,
		WSListen:                   defaultWSListen,
		IPCSocketPath:              defaultIPCSocketPath,
		AckTimeout:                 10 * time.Second,
		HeartbeatInterval:          30 * time.Second,
		MaxMessageBytes:            4 << 20,
	}
}

func defaultAppDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".exccidxd")
}

// Load parses args (typically os.Args[1:]) against the command line
// first, then an INI file (explicit -C flag, or <appdata>/exccidxd.conf
// when present), and finally fills in anything still unset from
// defaultConfig — the same precedence order exccd's own config.go
// uses: flags override file, file overrides defaults.
func Load(args []string) (*Config, error) {
	preCfg := defaultConfig()
	preParser := flags.NewParser(&preCfg, flags.Default)
	if _, err := preParser.ParseArgs(args); err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	cfg.AppDataDir = preCfg.AppDataDir

	cfgFile := preCfg.ConfigFile
	if cfgFile == "" {
		cfgFile = filepath.Join(cfg.AppDataDir, defaultConfigFilename)
	}
	if _, err := os.Stat(cfgFile); err == nil {
		iniParser := flags.NewParser(&cfg, flags.Default)
		if err := flags.NewIniParser(iniParser).ParseFile(cfgFile); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", cfgFile, err)
		}
	}

	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(cfg.AppDataDir, "logs")
	}
	if !filepath.IsAbs(cfg.LoaderCacheDir) {
		cfg.LoaderCacheDir = filepath.Join(cfg.AppDataDir, cfg.LoaderCacheDir)
	}
	if !filepath.IsAbs(cfg.SQLDSN) && cfg.SQLDSN == defaultSQLDSN {
		cfg.SQLDSN = filepath.Join(cfg.AppDataDir, cfg.SQLDSN)
	}

	if _, err := netparams.ByName(cfg.Network); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LogFilePath returns the path of the rotating log file, honoring
// NoFileLogging.
func (c *Config) LogFilePath() string {
	if c.NoFileLogging {
		return ""
	}
	return filepath.Join(c.LogDir, defaultLogFilename)
}
