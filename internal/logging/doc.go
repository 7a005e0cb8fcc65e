// Package logging builds the process-wide slog logger from configuration.
//
// Components never construct handlers themselves; they receive a
// *slog.Logger through their WithLogger option, usually tagged via Subsystem.
package logging
