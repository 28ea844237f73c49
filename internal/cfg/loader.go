package cfg

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	ConfigPath string `short:"c" long:"config" env:"BROADCAST_CONFIG" default:"./broadcast.yml" description:"Path to the YAML configuration file"`
	EnvFile    string `long:"env-file" env:"BROADCAST_ENV_FILE" default:".env" description:"Optional dotenv file loaded before anything else"`

	// Overrides for values from the configuration file
	StateDriver string `long:"state-driver" env:"BROADCAST_STATE_DRIVER" choice:"file" choice:"sqlite" description:"State storage driver"`
	StatePath   string `long:"state-path" env:"BROADCAST_STATE_PATH" description:"Location of the persisted state"`
	LogLevel    string `long:"log-level" env:"LOG_LEVEL" description:"Log level (trace, debug, info, warn, error)"`
	LogJSON     bool   `long:"log-json" env:"LOG_JSON" description:"Write logs as JSON lines"`

	// Run behaviour
	DryRun              bool   `long:"dry-run" env:"DRY_RUN" description:"Detect and log new items without delivering them or saving state"`
	FailOnDeliveryError bool   `long:"fail-on-delivery-error" env:"FAIL_ON_DELIVERY_ERROR" description:"Exit non-zero when any item could not be delivered"`
	ShowState           bool   `long:"show-state" description:"Print the persisted state and exit"`
	UserAgent           string `long:"user-agent" env:"USER_AGENT" default:"Broadcast/1.0" description:"User agent string for HTTP requests"`
	Version             bool   `short:"v" long:"version" description:"Print the version and exit"`
}

// Load parses process options from args and the environment. It returns
// nil, nil when help was requested.
func Load(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)
	parser.Name = "broadcast"

	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse options: %w", err)
	}

	return &Cfg{
		ConfigPath:          raw.ConfigPath,
		StateDriver:         raw.StateDriver,
		StatePath:           raw.StatePath,
		LogLevel:            raw.LogLevel,
		LogJSON:             raw.LogJSON,
		DryRun:              raw.DryRun,
		FailOnDeliveryError: raw.FailOnDeliveryError,
		ShowState:           raw.ShowState,
		ShowVersion:         raw.Version,
		UserAgent:           raw.UserAgent,
		Version:             GetVersion(),
	}, nil
}

// LoadEnvFile loads variables from a dotenv file without overriding ones
// already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// EnvFileFromArgs finds the --env-file value before full option parsing so
// the file can feed the env fallbacks of every other option.
func EnvFileFromArgs(args []string, def string) string {
	for i, arg := range args {
		if arg == "--env-file" && i+1 < len(args) {
			return args[i+1]
		}
		if v, ok := strings.CutPrefix(arg, "--env-file="); ok && v != "" {
			return v
		}
	}
	if v := os.Getenv("BROADCAST_ENV_FILE"); v != "" {
		return v
	}
	return def
}
