// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agentdriver

import (
	"regexp"
	"strings"
)

// MaxSuggestedCommands caps ExtractCommands.
const MaxSuggestedCommands = 10

var (
	modifiedFilePatterns = []*regexp.Regexp{
		regexp.MustCompile("(?i)(?:Created|Modified|Updated|Wrote to|Writing to)\\s+[`']?([^`'\\n]+)[`']?"),
		regexp.MustCompile(`(?i)File:\s*([^\n]+)`),
	}

	shellBlockPattern = regexp.MustCompile("(?s)```(?:bash|sh|shell)?\\n(.*?)```")
)

// ExtractModifiedFiles returns paths the response text says were
// written, in first-mention order without duplicates. Best effort: it
// matches prose, not tool calls.
func ExtractModifiedFiles(response string) []string {
	var files []string
	seen := make(map[string]bool)
	for _, pattern := range modifiedFilePatterns {
		for _, match := range pattern.FindAllStringSubmatch(response, -1) {
			path := strings.TrimSpace(match[1])
			if path == "" || seen[path] {
				continue
			}
			seen[path] = true
			files = append(files, path)
		}
	}
	return files
}

// ExtractCommands returns the non-comment lines of fenced shell code
// blocks, without duplicates, at most MaxSuggestedCommands.
func ExtractCommands(response string) []string {
	var commands []string
	seen := make(map[string]bool)
	for _, block := range shellBlockPattern.FindAllStringSubmatch(response, -1) {
		for _, line := range strings.Split(strings.TrimSpace(block[1]), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") || seen[line] {
				continue
			}
			seen[line] = true
			commands = append(commands, line)
			if len(commands) == MaxSuggestedCommands {
				return commands
			}
		}
	}
	return commands
}
