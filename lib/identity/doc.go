// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity allocates and revokes the OS accounts that tenants'
// sandboxed processes run under.
//
// Each tenant gets one account and one group sharing a numeric id from
// a reserved range (10000 to 60000 by default). The account has no
// login shell and no managed home; its home field points at the
// tenant workspace, which is chowned to it. Allocation scans the host
// passwd and group databases for the lowest id free in both, so the
// scan and the account creation run under a single lock.
//
// Account management goes through a CommandRunner (groupadd, useradd,
// chown, userdel, groupdel, each behind the configured escalation
// prefix). Tests substitute a recording runner and synthetic passwd
// and group files.
package identity
