// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package testutil

import (
	"os"
	"testing"
)

// RequireVM skips the test if the FLOWPLANE_VM_TEST environment variable is
// not set. Tests needing real kernel capabilities (nftables, net devices)
// only run in the VM harness.
func RequireVM(t *testing.T) {
	t.Helper()
	if os.Getenv("FLOWPLANE_VM_TEST") == "" {
		t.Skip("Skipping test: requires FLOWPLANE_VM_TEST environment")
	}
}
