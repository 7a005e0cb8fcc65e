// Package app assembles the token relay from its configuration and runs it.
package app
