package config

import (
	"os"
	"strings"
)

// WorkflowAutoAdvance makes a progress post that completes the current step
// advance the ticket inside the same transaction. When disabled, a separate
// advance call is required after the step total is met.
//
// Set via env:
// - WORKFLOW_AUTO_ADVANCE=false (defaults to true)
func WorkflowAutoAdvance() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("WORKFLOW_AUTO_ADVANCE")))
	if v == "" {
		return true
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// BlockInsufficientStock hardens material deduction: instead of posting
// consumption into a negative balance with a warning, the whole deduction
// fails before any write.
//
// Set via env:
// - BLOCK_INSUFFICIENT_STOCK=true
func BlockInsufficientStock() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("BLOCK_INSUFFICIENT_STOCK")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
