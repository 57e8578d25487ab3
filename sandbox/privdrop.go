// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import "strconv"

// dropPrivileges prefixes command with setpriv, switching real and
// effective ids to identity and loading its supplementary groups.
func (b *Builder) dropPrivileges(identity RunAs, command []string) []string {
	args := make([]string, 0, len(b.Escalate)+5+len(command))
	args = append(args, b.Escalate...)
	args = append(args,
		b.Available.Setpriv,
		"--reuid="+strconv.Itoa(identity.UID),
		"--regid="+strconv.Itoa(identity.GID),
		"--init-groups",
		"--",
	)
	return append(args, command...)
}
