// Package cli provides output formatting and error types shared by the
// loghaven command-line interface.
package cli
