// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fault

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestKindSurvivesWrapping(t *testing.T) {
	base := New(Validation, "custom command", "disallowed pattern %q", ";")
	wrapped := fmt.Errorf("scheduler: job j1: %w", base)

	if !IsKind(wrapped, Validation) {
		t.Errorf("IsKind(wrapped, Validation) = false")
	}
	if IsKind(wrapped, Execution) {
		t.Errorf("IsKind(wrapped, Execution) = true")
	}
	if got := wrapped.Error(); got != `scheduler: job j1: custom command: disallowed pattern ";"` {
		t.Errorf("Error() = %q", got)
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(Execution, "op", nil); err != nil {
		t.Errorf("Wrap(nil) = %v, want nil", err)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	err := Wrap(Execution, "agent", io.ErrUnexpectedEOF)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("errors.Is lost the cause")
	}
	if KindOf(io.EOF) != 0 {
		t.Error("unclassified error reported a kind")
	}
}

func TestKindString(t *testing.T) {
	for kind, want := range map[Kind]string{
		Configuration: "configuration",
		Validation:    "validation",
		Execution:     "execution",
		Kind(42):      "kind(42)",
	} {
		if got := kind.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", int(kind), got, want)
		}
	}
}
