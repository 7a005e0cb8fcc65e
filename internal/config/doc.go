// Package config loads the relay configuration.
//
// Settings are layered: built-in defaults, an optional YAML file, an optional
// dotenv file and finally the process environment. Command-line flags are
// applied by the caller on top of the loaded value before Validate runs.
// A dotenv file never overrides variables that are already set in the
// environment.
//
// Example YAML file:
//
//	provider:
//	  tenant_id: contoso
//	  client_id: relay
//	  scope: api://backend/.default
//	server:
//	  port: 8080
//	  allowed_origins: [https://app.example.com]
//	refresh:
//	  margin: 5m
//	log:
//	  format: json
package config
