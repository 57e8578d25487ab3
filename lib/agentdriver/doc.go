// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package agentdriver runs the coding agent for a tenant and turns its
// output into normalized events.
//
// Both modes run one sandboxed agent process per request, with the
// tenant workspace, agent config directory, and project directory as
// the only writable paths. [Invoker.Send] waits for the process and
// returns the full text with heuristic extractions of modified files
// and suggested commands. [Invoker.Stream] decodes the agent's
// newline-delimited stream-json output incrementally with a [Decoder]
// and delivers events on a channel that always ends with exactly one
// terminal Done or Error event.
//
// The tenant's MCP server configuration is read and edited through
// [ListPlugins] and friends.
package agentdriver
