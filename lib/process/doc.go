// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds binary entrypoint helpers and the
// process-group signalling used to stop sandboxed children.
//
// Every child the engine starts is placed in its own process group
// (Setpgid), because the jail and privilege-drop wrappers fork the real
// workload as a grandchild. Signalling the group reaches the workload
// as well as the wrapper.
package process
