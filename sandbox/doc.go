// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox wraps commands in the strongest isolation the host
// offers.
//
// Two jails are supported: firejail, preferred, and bubblewrap. Both
// confine the command to an explicit list of read-write and read-only
// paths with a private /dev and /tmp. When a jail is available and a
// tenant identity is requested, the jail is launched through setpriv
// so the jailed workload runs under the tenant's uid and gid. Without a
// jail, setpriv alone drops privileges with no filesystem confinement.
// Without either, the command runs unwrapped unless isolation is
// required, in which case Build fails with a configuration error.
//
// Builder.Build is pure. Tool discovery happens once, in Detector, and
// its result is handed to the Builder as an Availability value. The
// same Request and Availability always yield the same argument list.
package sandbox
