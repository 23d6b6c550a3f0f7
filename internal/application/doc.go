// Package application provides application initialization and dependency wiring.
// It loads the configuration catalog and creates the composer, validator,
// handlers, router and HTTP server, and exposes the check and run-preparation
// flows shared by the CLI commands and the server.
package application
