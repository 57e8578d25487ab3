// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

// firejailDenyFlags switch off every device class and privilege the
// workload has no use for.
var firejailDenyFlags = []string{
	"--private-dev",
	"--private-tmp",
	"--noroot",
	"--nosound",
	"--no3d",
	"--nodvd",
	"--notv",
	"--nou2f",
	"--novideo",
}

func firejailArgs(binary string, command, readWrite, readOnly []string, isolateNetwork bool) []string {
	args := []string{binary, "--quiet", "--noprofile"}
	args = append(args, firejailDenyFlags...)
	if isolateNetwork {
		args = append(args, "--net=none")
	}
	for _, path := range readWrite {
		args = append(args, "--whitelist="+path)
	}
	for _, path := range readOnly {
		args = append(args, "--whitelist="+path, "--read-only="+path)
	}
	// Everything not whitelisted is hidden behind a private home.
	args = append(args, "--private", "--")
	return append(args, command...)
}
