// Package config loads the license server configuration.
//
// Values are resolved in this order, later sources winning:
//
//	1. Default()
//	2. YAML file (LICENSED_CONFIG_FILE, or licensed.yaml / configs/licensed.yaml)
//	3. LICENSED_* environment variables
//
// Environment variable names follow the struct nesting, for example
// LICENSED_SERVER_PORT, LICENSED_DATABASE_DSN or LICENSED_HARDWARE_MAX_ATTEMPTS.
package config
