// Package config loads process settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-converter/internal/csvformat"
	"github.com/dvloznov/statement-converter/internal/logger"
)

// Config holds settings shared by the binaries.
type Config struct {
	Port        string
	LogLevel    zerolog.Level
	WorkerCount int
	QueueSize   int
	CSV         csvformat.Options
}

// Load reads .env if present, then the environment. Values already set in the
// environment win over .env entries.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (Config, error) {
	get := func(key, fallback string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return fallback
	}

	cfg := Config{
		Port: get("PORT", "8080"),
		CSV:  csvformat.DefaultOptions(),
	}

	var err error
	if cfg.LogLevel, err = logger.ParseLevel(get("LOG_LEVEL", "info")); err != nil {
		return Config{}, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if cfg.WorkerCount, err = positiveInt("WORKER_COUNT", get("WORKER_COUNT", "5")); err != nil {
		return Config{}, err
	}
	if cfg.QueueSize, err = positiveInt("QUEUE_SIZE", get("QUEUE_SIZE", "100")); err != nil {
		return Config{}, err
	}

	if cfg.CSV.Delimiter, err = Rune("CSV_DELIMITER", get("CSV_DELIMITER", ",")); err != nil {
		return Config{}, err
	}
	if cfg.CSV.DecimalSeparator, err = Rune("CSV_DECIMAL_SEPARATOR", get("CSV_DECIMAL_SEPARATOR", ".")); err != nil {
		return Config{}, err
	}
	cfg.CSV.DateLayout = get("CSV_DATE_FORMAT", csvformat.DefaultDateLayout)
	cfg.CSV.Encoding = get("CSV_ENCODING", csvformat.DefaultEncoding)
	cfg.CSV.Currency = strings.ToUpper(get("CSV_CURRENCY", ""))

	return cfg, nil
}

func positiveInt(key, v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s: %q is not a positive integer", key, v)
	}
	return n, nil
}

// Rune parses a single-character setting. "\t" and "tab" name the tab character.
func Rune(key, v string) (rune, error) {
	switch strings.ToLower(v) {
	case `\t`, "tab":
		return '\t', nil
	}
	if utf8.RuneCountInString(v) != 1 {
		return 0, fmt.Errorf("%s: %q must be a single character", key, v)
	}
	r, _ := utf8.DecodeRuneInString(v)
	return r, nil
}
