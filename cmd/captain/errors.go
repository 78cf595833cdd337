package main

import (
	"fmt"
	"os"
)

// WarnError writes a warning message to stderr and returns.
// Use this for optional setup that should not stop the command.
func WarnError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Warning: "+format+"\n", args...)
}
