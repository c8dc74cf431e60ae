// Package main hosts the sift CLI entrypoint and command graph.
//
// The Cobra command tree resolves configuration once, applies flag overrides
// for the scan command, and hands the work to internal/pipeline. Cache,
// history, preflight, and config subcommands are thin views over their
// internal packages.
package main
