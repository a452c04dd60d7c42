package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "BENCHGUARD_"

func getString(name string) string {
	return strings.TrimSpace(os.Getenv(EnvPrefix + name))
}

func getInt(name string) (int, bool, error) {
	raw := getString(name)
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	return v, true, nil
}

func getFloat(name string) (float64, bool, error) {
	raw := getString(name)
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	return v, true, nil
}

func getBool(name string) (bool, bool, error) {
	raw := getString(name)
	if raw == "" {
		return false, false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	return v, true, nil
}

func getDuration(name string) (time.Duration, bool, error) {
	raw := getString(name)
	if raw == "" {
		return 0, false, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
	}
	return v, true, nil
}
