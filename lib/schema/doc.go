// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema defines the records the workbench engine reads and
// writes: jobs, projects, tenant identities, and artifacts.
//
// These records belong to the surrounding service. The engine mutates
// jobs (status, timestamps, pid, log path), creates artifacts, and
// reads projects and identities. It never deletes any of them.
package schema
