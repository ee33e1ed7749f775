// Package trainer runs model training in an external process and speaks the
// line protocol from package protocol with it.
//
// Key features:
//   - One subprocess per run, configured command and arguments
//   - Run request on stdin, stop control line when the orchestrator asks
//   - Progress, checkpoint and log messages relayed to hooks as they arrive
//   - Context cancellation with SIGTERM → grace period → SIGKILL
//   - Stderr capture (capped at 64KB)
//
// Outcome mapping:
//   - result completed → Outcome with ArtifactDir
//   - result stopped → Outcome with Stopped set (not an error)
//   - result error, missing result, spawn failure → *Error
package trainer
