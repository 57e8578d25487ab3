// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func TestReadAccountDatabase(t *testing.T) {
	directory := t.TempDir()
	passwd := filepath.Join(directory, "passwd")
	group := filepath.Join(directory, "group")
	writeFile(t, passwd, "# comment\nroot:x:0:0:root:/root:/bin/bash\nbroken:x:notanumber\nalice:x:1000:1000::/home/alice:/bin/sh\n")
	writeFile(t, group, "root:x:0:\nwheel:x:10:alice\nshared:x:1001:\n")

	database, err := readAccountDatabase(passwd, group)
	if err != nil {
		t.Fatal(err)
	}
	if len(database.accounts) != 2 {
		t.Errorf("accounts = %+v, want root and alice", database.accounts)
	}
	entry, found := database.lookup("alice")
	if !found || entry.uid != 1000 || entry.home != "/home/alice" {
		t.Errorf("lookup(alice) = %+v, %v", entry, found)
	}
	if _, found := database.lookup("wheel"); found {
		t.Error("group names are not passwd entries")
	}
	if !database.usedNames["wheel"] {
		t.Error("group names must count as used")
	}

	id, err := database.lowestFreeID(1000, 1010, map[int]bool{1002: true})
	if err != nil || id != 1003 {
		t.Errorf("lowestFreeID = %d, %v; want 1003", id, err)
	}
	if _, err := database.lowestFreeID(1000, 1002, nil); err == nil {
		t.Error("lowestFreeID succeeded on an exhausted range")
	}
}

func TestReadAccountDatabaseMissingFiles(t *testing.T) {
	directory := t.TempDir()
	database, err := readAccountDatabase(filepath.Join(directory, "passwd"), filepath.Join(directory, "group"))
	if err != nil {
		t.Fatal(err)
	}
	if id, _ := database.lowestFreeID(500, 600, nil); id != 500 {
		t.Errorf("lowestFreeID = %d, want 500", id)
	}
}

func TestUsernameCandidates(t *testing.T) {
	tests := []struct {
		tenantID string
		want     []string
	}{
		{"abc12345-aaaa-bbbb", []string{"wb_abc12345", "wb_abc12345aaaabbbb"}},
		{"single", []string{"wb_single"}},
		{"Mixed.Case-x", []string{"wb_mixedcase", "wb_mixedcasex"}},
	}
	for _, test := range tests {
		if got := usernameCandidates("wb_", test.tenantID); !slices.Equal(got, test.want) {
			t.Errorf("usernameCandidates(%q) = %v, want %v", test.tenantID, got, test.want)
		}
	}
}

func TestSanitizeUsernameTruncates(t *testing.T) {
	name := sanitizeUsername("wb_" + strings.Repeat("a", 64))
	if len(name) != maxUsernameLength {
		t.Errorf("len = %d, want %d", len(name), maxUsernameLength)
	}
}
