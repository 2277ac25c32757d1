// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// MARKETFEED_API_HOST, when set, takes precedence over api.host.
package config
