// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

// systemReadOnly are host paths every jailed toolchain needs: binaries,
// shared libraries, DNS, and TLS roots. They are bound with
// --ro-bind-try so a host lacking one (no /lib64) still builds the
// same argument list.
var systemReadOnly = []string{
	"/usr",
	"/lib",
	"/lib64",
	"/bin",
	"/etc/resolv.conf",
	"/etc/ssl",
	"/etc/ca-certificates",
}

// bwrapArgs accumulates a bubblewrap command line. Mount order matters:
// later mounts shadow earlier ones, so system paths go first and the
// request's own paths are layered on top.
type bwrapArgs struct {
	args []string
}

func newBwrapArgs(binary string) *bwrapArgs {
	return &bwrapArgs{args: []string{binary}}
}

func (b *bwrapArgs) namespaces(isolateNetwork bool) *bwrapArgs {
	b.args = append(b.args, "--unshare-all")
	if !isolateNetwork {
		b.args = append(b.args, "--share-net")
	}
	b.args = append(b.args, "--die-with-parent", "--new-session")
	return b
}

func (b *bwrapArgs) baseMounts() *bwrapArgs {
	b.args = append(b.args, "--dev", "/dev", "--proc", "/proc", "--tmpfs", "/tmp")
	return b
}

func (b *bwrapArgs) systemMounts() *bwrapArgs {
	for _, path := range systemReadOnly {
		b.args = append(b.args, "--ro-bind-try", path, path)
	}
	return b
}

func (b *bwrapArgs) binds(readWrite, readOnly []string) *bwrapArgs {
	for _, path := range readWrite {
		b.args = append(b.args, "--bind", path, path)
	}
	for _, path := range readOnly {
		b.args = append(b.args, "--ro-bind", path, path)
	}
	return b
}

// chdir sets the working directory inside the jail. Empty keeps
// bwrap's default of the caller's directory.
func (b *bwrapArgs) chdir(workDir string) *bwrapArgs {
	if workDir != "" {
		b.args = append(b.args, "--chdir", workDir)
	}
	return b
}

func (b *bwrapArgs) command(command []string) []string {
	b.args = append(b.args, "--")
	return append(b.args, command...)
}
