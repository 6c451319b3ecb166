package util_test

import (
	"testing"

	"github.com/downfa11-org/raftlog/util"
)

func TestNewIDUnique(t *testing.T) {
	a := util.NewID()
	b := util.NewID()
	if a == b {
		t.Errorf("expected distinct ids, got %q twice", a)
	}
	if a == "" {
		t.Error("expected non-empty id")
	}
}
