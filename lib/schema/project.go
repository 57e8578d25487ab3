// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "time"

// ProjectType selects the toolchain used for test and dev-server jobs.
type ProjectType string

const (
	ProjectFlutter ProjectType = "flutter"
	ProjectWeb     ProjectType = "web"
	ProjectNode    ProjectType = "node"
	ProjectPython  ProjectType = "python"
	ProjectOther   ProjectType = "other"
)

// Project is a tenant-owned source tree.
type Project struct {
	ID       string
	OwnerID  string
	Name     string
	Type     ProjectType
	RootPath string

	CreatedAt time.Time
}
