package utils

import (
	"os"
	"strconv"

	log "github.com/sirupsen/logrus"
)

func LoadEnvWithDefault(key string, fallback string) string {
	value, valid := os.LookupEnv(key)
	if !valid || value == "" {
		return fallback
	}
	return value
}

func LoadIntEnvWithDefault(key string, fallback int) int {
	value, valid := os.LookupEnv(key)
	if !valid || value == "" {
		return fallback
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Warnf("env '%v' is not integer, using %d", key, fallback)
		return fallback
	}
	return intValue
}

// LoadBoolEnvWithDefault accepts the strconv.ParseBool spellings.
func LoadBoolEnvWithDefault(key string, fallback bool) bool {
	value, valid := os.LookupEnv(key)
	if !valid || value == "" {
		return fallback
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		log.Warnf("env '%v' is not boolean, using %t", key, fallback)
		return fallback
	}
	return boolValue
}
