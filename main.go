// =============================================================================
// PFI Indexer - Main Entry Point
// =============================================================================
//
// This is the main entry point for the PFI Indexer CLI application. It
// delegates command execution to the cmd package.
//
// USAGE:
//   pfi ingest      - Load register extracts into the document store
//   pfi validate    - Check extracts without storing anything
//   pfi serve       - Serve stored projects over a read-only JSON API
//   pfi version     - Display the application version
//
// ARCHITECTURE:
//   - cmd/           : CLI command definitions (Cobra)
//   - internal/      : Mapping, readers, stores, ingest driver and API
//   - pkg/           : Shared file and report utilities
//
// =============================================================================

package main

import (
	"github.com/ginjaninja78/pfi-indexer/cmd"
)

func main() {
	cmd.Execute()
}
