// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

// Identity is the OS account assigned to a tenant. Once allocated the
// (UID, Username) pair is stable for the tenant's lifetime.
type Identity struct {
	TenantID string
	Username string
	UID      int
	GID      int
}
