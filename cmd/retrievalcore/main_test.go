package main

import "testing"

func TestVersion(t *testing.T) {
	if version == "" {
		t.Error("version must not be empty")
	}
}

func TestRunSearch_RequiresQuery(t *testing.T) {
	if err := runSearch(nil); err == nil {
		t.Error("expected error when -q is omitted")
	}
}

func TestRunSimilar_RequiresItemID(t *testing.T) {
	if err := runSimilar(nil); err == nil {
		t.Error("expected error when -item is omitted")
	}
}
