// Package config loads the service configuration from a YAML file, with
// secrets resolved from the environment (optionally seeded from a .env file).
package config
