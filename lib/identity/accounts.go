// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
)

// account is one passwd entry.
type account struct {
	name string
	uid  int
	gid  int
	home string
}

// accountDatabase is the subset of the host account databases the
// allocator consults.
type accountDatabase struct {
	accounts  []account
	usedIDs   map[int]bool
	usedNames map[string]bool
}

// readAccountDatabase parses passwd and group files. A missing file
// contributes nothing; malformed lines are skipped.
func readAccountDatabase(passwdPath, groupPath string) (*accountDatabase, error) {
	database := &accountDatabase{usedIDs: make(map[int]bool), usedNames: make(map[string]bool)}

	err := scanColonFile(passwdPath, func(fields []string) {
		if len(fields) < 6 {
			return
		}
		uid, uidErr := strconv.Atoi(fields[2])
		gid, gidErr := strconv.Atoi(fields[3])
		if uidErr != nil || gidErr != nil {
			return
		}
		database.accounts = append(database.accounts, account{name: fields[0], uid: uid, gid: gid, home: fields[5]})
		database.usedIDs[uid] = true
		database.usedNames[fields[0]] = true
	})
	if err != nil {
		return nil, err
	}

	err = scanColonFile(groupPath, func(fields []string) {
		if len(fields) < 3 {
			return
		}
		if gid, err := strconv.Atoi(fields[2]); err == nil {
			database.usedIDs[gid] = true
		}
		database.usedNames[fields[0]] = true
	})
	if err != nil {
		return nil, err
	}
	return database, nil
}

func scanColonFile(path string, visit func(fields []string)) error {
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("identity: reading %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		visit(strings.Split(line, ":"))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("identity: reading %s: %w", path, err)
	}
	return nil
}

// lowestFreeID returns the lowest id in [low, high) that is neither a
// uid nor a gid on the host and not in reserved.
func (d *accountDatabase) lowestFreeID(low, high int, reserved map[int]bool) (int, error) {
	for id := low; id < high; id++ {
		if !d.usedIDs[id] && !reserved[id] {
			return id, nil
		}
	}
	return 0, fmt.Errorf("no free id in [%d, %d)", low, high)
}

// lookup returns the passwd entry for name.
func (d *accountDatabase) lookup(name string) (account, bool) {
	for _, entry := range d.accounts {
		if entry.name == name {
			return entry, true
		}
	}
	return account{}, false
}

const maxUsernameLength = 32

// usernameCandidates returns the names tried for a tenant, shortest
// first: the prefix plus the first dash-separated segment of the
// tenant id, then the prefix plus the whole id without dashes.
func usernameCandidates(prefix, tenantID string) []string {
	first, _, _ := strings.Cut(tenantID, "-")
	short := sanitizeUsername(prefix + first)
	long := sanitizeUsername(prefix + strings.ReplaceAll(tenantID, "-", ""))
	if short == long {
		return []string{short}
	}
	return []string{short, long}
}

func sanitizeUsername(name string) string {
	var builder strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			builder.WriteRune(r)
		}
		if builder.Len() == maxUsernameLength {
			break
		}
	}
	return builder.String()
}
