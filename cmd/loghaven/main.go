// LogHaven is a self-hosted log collection and viewing server.
//
// This binary hosts the retention cleanup engine: cascading retention
// policies (app, environment, global) with time- and count-based rules,
// dry-run preview, scheduled and manual cleanup runs, and a persisted audit
// trail.
//
// Usage:
//
//	# Start server with default configuration
//	loghaven run
//
//	# Start with custom configuration file
//	loghaven run --config /path/to/config.yaml
//
//	# Trigger a cleanup run across all apps
//	loghaven cleanup run
//
//	# Preview what a cleanup would delete for one app
//	loghaven cleanup preview --app 7c0ad180-2b3c-4ca4-a9a9-0a4f30e31de1
//
//	# Show recent cleanup runs
//	loghaven cleanup history --limit 20
package main

func main() {
	Execute()
}
