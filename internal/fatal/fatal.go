// Package fatal implements the process-abort path for errors that
// threaten state integrity (spec.md §7's StorageError: commit failure or
// corruption) rather than a single message or block.
package fatal

import (
	"log"
	"os"
)

// exit is overridden in tests so Abort's control-flow can be exercised
// without killing the test binary.
var exit = os.Exit

// Abort logs err via logger and terminates the process. Every call site
// that hits a StorageError must flush its logs through logger before
// calling this, per spec.md §7's "abort the process after flushing logs".
func Abort(logger *log.Logger, err error) {
	logger.Printf("fatal: %v", err)
	exit(1)
}
