// Package config provides YAML-based configuration for the LogHaven server.
//
// Configuration is loaded from a YAML file, defaulted, validated, and
// optionally overridden by LOGHAVEN_* environment variables. The Watcher
// reloads the file on change so the cleanup schedule can be adjusted
// without a restart.
//
//	cfg, err := config.LoadConfigWithEnvOverrides("config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
