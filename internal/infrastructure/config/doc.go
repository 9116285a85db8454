// Package config handles loading and validating Prism configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Reading a dotenv file for local secrets
//   - Overriding with environment variables
//   - Validation and default value handling
//   - Deriving the initial entity subscription set from the panel layout
//
// Security Considerations:
//   - The hub token should be set via PRISM_HUB_TOKEN or the dotenv file
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load(os.Getenv(config.EnvConfigPath))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	subs := realtime.NewSubscriptions(cfg.WatchedEntities()...)
//
// The file is read again on SIGHUP; see cmd/prism.
package config
