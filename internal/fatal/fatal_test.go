package fatal

import (
	"bytes"
	"errors"
	"log"
	"testing"
)

func TestAbortLogsBeforeExiting(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)

	var exitCode int
	origExit := exit
	exit = func(code int) { exitCode = code }
	defer func() { exit = origExit }()

	Abort(logger, errors.New("disk full"))

	if exitCode != 1 {
		t.Fatalf("exit code = %d, want 1", exitCode)
	}
	if !bytes.Contains(buf.Bytes(), []byte("disk full")) {
		t.Fatalf("log output %q does not mention the error", buf.String())
	}
}
