package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"
)

func TestAppErrorFormattingAndUnwrap(t *testing.T) {
	err := NewAppError("repo.SQLiteStore", "get INC-1", fs.ErrNotExist)
	if got := err.Error(); got != "repo.SQLiteStore: get INC-1: file does not exist" {
		t.Fatalf("unexpected message %q", got)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected cause to unwrap")
	}

	wrapped := fmt.Errorf("run: %w", err)
	if OpOf(wrapped) != "repo.SQLiteStore" {
		t.Fatalf("OpOf = %q", OpOf(wrapped))
	}
	if OpOf(errors.New("plain")) != "" {
		t.Fatalf("plain errors have no op")
	}
	if got := NewAppError("notify", "", nil).Error(); got != "notify" {
		t.Fatalf("unexpected bare message %q", got)
	}
}
