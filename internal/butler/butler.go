// Package butler launches the itch.io installer daemon ("butler daemon") and
// talks to it over its JSON-RPC TCP transport.
package butler

import (
	"errors"
	"fmt"
	"os/exec"
)

// ExecutableName is the name looked up on PATH when no executable is configured.
const ExecutableName = "butler"

// InstallURL is where users are pointed when butler is missing.
const InstallURL = "https://itch.io/docs/butler/installing.html"

// Sentinel errors
var (
	ErrExecutableNotFound = errors.New("could not find butler executable")
	ErrDaemonStart        = errors.New("butler daemon failed to start")
	ErrRPC                = errors.New("butler call failed")
)

// RPCError describes a failed daemon call. Code is the JSON-RPC error code, or
// zero when the call failed before a response was received.
type RPCError struct {
	Method  string
	Code    int64
	Message string
	Err     error
}

func (e *RPCError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("butler %s: %s (code %d)", e.Method, e.Message, e.Code)
	}
	return fmt.Sprintf("butler %s: %s", e.Method, e.Message)
}

func (e *RPCError) Unwrap() error {
	return e.Err
}

func (e *RPCError) Is(target error) bool {
	return target == ErrRPC
}

// Locate resolves the butler executable. An explicit path is used as given
// when it exists; otherwise "butler" is looked up on PATH.
func Locate(explicit string) (string, error) {
	name := explicit
	if name == "" {
		name = ExecutableName
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w (%s): you can install it from %s", ErrExecutableNotFound, name, InstallURL)
	}
	return path, nil
}
