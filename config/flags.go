package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
)

// Flags holds parsed command-line flags.
type Flags struct {
	Help    bool
	Version bool

	DataDir string
	Config  string

	P2PListen string
	P2PPort   int

	LogLevel string
	LogFile  string
	LogJSON  bool
	SetJSON  bool

	Args []string
}

// ParseFlags parses command-line flags.
func ParseFlags() *Flags {
	f := &Flags{}
	fs := flag.NewFlagSet("lbnoded", flag.ContinueOnError)

	fs.BoolVar(&f.Help, "help", false, "Show help message")
	fs.BoolVar(&f.Help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&f.Version, "version", false, "Show version information")

	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")
	fs.StringVar(&f.Config, "config", "", "Config file path")
	fs.StringVar(&f.Config, "c", "", "Config file path (shorthand)")

	fs.StringVar(&f.P2PListen, "p2p-listen", "", "P2P listen address")
	fs.IntVar(&f.P2PPort, "p2p-port", 0, "P2P listen port")

	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Output logs as JSON")

	fs.Usage = func() { printUsage() }

	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	f.SetJSON = isFlagSet(fs, "log-json")
	f.Args = fs.Args()
	return f
}

// ApplyFlags applies command-line flags to a Config struct.
func ApplyFlags(cfg *Config, f *Flags) {
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}
	if f.P2PListen != "" {
		cfg.P2P.ListenAddr = f.P2PListen
	}
	if f.P2PPort != 0 {
		cfg.P2P.Port = f.P2PPort
	}
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.SetJSON {
		cfg.Log.JSON = f.LogJSON
	}
}

func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(fl *flag.Flag) {
		if fl.Name == name {
			found = true
		}
	})
	return found
}

func printUsage() {
	usage := `lbnoded - Learning Battery Market node

Usage:
  lbnoded [options]
  lbnoded --help

Commands:
  --help, -h      Show this help message
  --version       Show version information

Core Options:
  --datadir       Data directory (default: ~/.lbm, or $LB_DATA_DIR)
  --config, -c    Config file path (default: <datadir>/lbnode.conf)

P2P Options:
  --p2p-listen    P2P listen address (default: 0.0.0.0)
  --p2p-port      P2P listen port (default: 7733)

Logging Options:
  --log-level     Log level: debug, info, warn, error (default: info, or $LB_LOG_LEVEL)
  --log-file      Log file path (default: <datadir>/logs/lbnode.log, or $LB_LOG_DIR/lbnode.log; plus console)
  --log-json      Output logs as JSON
`
	fmt.Print(usage)
}

// Load loads configuration with precedence: defaults, then auto-created
// config file, then file contents, then the LB_LOG_LEVEL/LB_LOG_DIR
// environment variables, then flags.
func Load() (*Config, *Flags, error) {
	flags := ParseFlags()

	if flags.Help {
		printUsage()
		os.Exit(0)
	}
	if flags.Version {
		fmt.Println("lbnoded version 0.1.0")
		os.Exit(0)
	}

	cfg := Default()
	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}

	if err := EnsureDataDirs(cfg); err != nil {
		return nil, nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	configPath := flags.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}

	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config file: %w", err)
	}
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, nil, fmt.Errorf("applying config file: %w", err)
	}

	if v := os.Getenv("LB_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LB_LOG_DIR"); v != "" {
		cfg.Log.File = filepath.Join(v, "lbnode.log")
	}

	ApplyFlags(cfg, flags)
	if err := Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, flags, nil
}

// EnsureDataDirs creates the data directory structure and a default
// config file if they don't already exist. Idempotent.
func EnsureDataDirs(cfg *Config) error {
	dirs := []string{
		cfg.DataDir,
		cfg.KeystoreDir(),
		cfg.GroupsDir(),
		cfg.CASDir(),
		cfg.WALDir(),
		cfg.LogsDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}
	return nil
}
