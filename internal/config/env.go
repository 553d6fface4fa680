package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

// Environment variables that override the config file.
const (
	EnvConfigPath     = "FOCUSWARDEN_CONFIG"
	EnvListen         = "FOCUSWARDEN_LISTEN"
	EnvStorageBackend = "FOCUSWARDEN_STORAGE_BACKEND"
	EnvStoragePath    = "FOCUSWARDEN_STORAGE_PATH"
	EnvStorageDSN     = "FOCUSWARDEN_STORAGE_DSN"
	EnvMQTTBroker     = "FOCUSWARDEN_MQTT_BROKER"
	EnvBus            = "FOCUSWARDEN_BUS"
)

// LoadEnv loads the given .env files into the process environment. Files
// that do not exist are skipped; variables already set are kept.
func LoadEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		if err := godotenv.Load(f); err != nil {
			return err
		}
		log.Printf("Loaded environment from %s", f)
	}
	return nil
}

// ConfigPath returns the config file named by the environment, or def.
func ConfigPath(def string) string {
	return getEnv(EnvConfigPath, def)
}

// ApplyEnv overrides values with FOCUSWARDEN_* variables.
func (c *Config) ApplyEnv() {
	c.Server.Listen = getEnv(EnvListen, c.Server.Listen)
	c.Storage.Backend = getEnv(EnvStorageBackend, c.Storage.Backend)
	c.Storage.Path = getEnv(EnvStoragePath, c.Storage.Path)
	c.Storage.DSN = getEnv(EnvStorageDSN, c.Storage.DSN)
	c.Events.Broker = getEnv(EnvMQTTBroker, c.Events.Broker)
	c.IPC.Bus = getEnv(EnvBus, c.IPC.Bus)
}

func getEnv(key string, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
