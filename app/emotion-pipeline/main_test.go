package main

import (
	"os"
	"testing"
)

func TestProgressWriter(t *testing.T) {
	if w := progressWriter(false); w != nil {
		t.Errorf("progressWriter(false) = %v, expected nil", w)
	}
	w := progressWriter(true)
	if w != os.Stderr {
		t.Errorf("progress goes to %v, expected stderr", w)
	}
	if w == os.Stdout {
		t.Error("progress shares stdout with the log output")
	}
}
