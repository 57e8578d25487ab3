// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "time"

// ArtifactKind classifies a captured build output.
type ArtifactKind string

const (
	ArtifactAPK      ArtifactKind = "apk"
	ArtifactAAB      ArtifactKind = "aab"
	ArtifactIPA      ArtifactKind = "ipa"
	ArtifactZip      ArtifactKind = "zip"
	ArtifactWebBuild ArtifactKind = "web_build"
	ArtifactOther    ArtifactKind = "other"
)

// Artifact is a build output copied into per-tenant artifact storage.
// Artifacts are immutable once created.
type Artifact struct {
	ID        string
	ProjectID string
	OwnerID   string
	JobID     string
	Kind      ArtifactKind
	Label     string

	// FilePath is absolute, inside the owner's artifact directory.
	FilePath string
	FileSize int64

	// Digest is the hex BLAKE3-256 of the stored file.
	Digest string

	CreatedAt time.Time
}
