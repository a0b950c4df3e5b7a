//go:build !unix

package resolver

import "os/exec"

// isolate relies on the default CommandContext kill on platforms without
// process groups.
func isolate(*exec.Cmd) {}

func reapGroup(*exec.Cmd) {}
