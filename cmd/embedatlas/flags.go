package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath  string
	DatasetPath string
	Identifier  string
	Addr        string
	StaticPath  string
	CacheDir    string
	ExportPath  string
	LogLevel    string
	LogFormat   string
	Debug       bool
	ShowVersion bool
	ShowHelp    bool
	Validate    bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	// Define flags with environment variable fallback
	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("EMBEDATLAS_CONFIG", ""),
		"Path to configuration file, optional (env: EMBEDATLAS_CONFIG)")

	flag.StringVar(&cfg.DatasetPath, "dataset",
		getEnv("EMBEDATLAS_DATASET", ""),
		"Path to the dataset JSON file to serve (env: EMBEDATLAS_DATASET)")

	flag.StringVar(&cfg.Identifier, "identifier",
		getEnv("EMBEDATLAS_IDENTIFIER", ""),
		"Dataset identifier, namespaces the scratch cache (env: EMBEDATLAS_IDENTIFIER)")

	flag.StringVar(&cfg.Addr, "addr",
		getEnv("EMBEDATLAS_ADDR", ""),
		"host:port to listen on (env: EMBEDATLAS_ADDR)")

	flag.StringVar(&cfg.StaticPath, "static",
		getEnv("EMBEDATLAS_STATIC", ""),
		"Directory with the frontend bundle (env: EMBEDATLAS_STATIC)")

	flag.StringVar(&cfg.CacheDir, "cache-dir",
		getEnv("EMBEDATLAS_CACHE_DIR", ""),
		"Root directory for projection and scratch caches (env: EMBEDATLAS_CACHE_DIR)")

	flag.StringVar(&cfg.ExportPath, "export", "",
		"Export a static build of the dataset to this folder and exit")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("EMBEDATLAS_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: EMBEDATLAS_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("EMBEDATLAS_LOG_FORMAT", "json"),
		"Log format: json, text (env: EMBEDATLAS_LOG_FORMAT)")

	flag.BoolVar(&cfg.Debug, "debug",
		getEnvBool("EMBEDATLAS_DEBUG", false),
		"Enable debug mode (env: EMBEDATLAS_DEBUG)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	// Custom usage
	flag.Usage = func() {
		printDetailedHelp()
	}

	flag.Parse()

	// Override log level if debug is set
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	// Skip validation for special flags
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	if cfg.DatasetPath != "" {
		if _, err := os.Stat(cfg.DatasetPath); err != nil {
			return fmt.Errorf("dataset file not found: %s", cfg.DatasetPath)
		}
	}

	// Validate log level
	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	// Validate log format
	validFormats := []string{"json", "text"}
	if !contains(validFormats, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - Embedding Visualization Backend

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Serve a dataset on the default port
  %s --dataset=/path/to/data.json

  # Run with a full config file and debug logging
  %s --config=/etc/embedatlas/config.json --log-level=debug --log-format=text

  # Run with environment variables
  export EMBEDATLAS_DATASET=/data/reviews.json
  export EMBEDATLAS_ADDR=0.0.0.0:5055
  %s

  # Export a static build and exit
  %s --dataset=/data/reviews.json --static=/opt/viewer --export=/tmp/site

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Utility function to check if slice contains string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
