package types

import "testing"

func TestSegFlagString(t *testing.T) {
	if got := SegFlag(0).String(); got != "None" {
		t.Errorf("SegFlag(0) = %q", got)
	}
	if got := (NoReLoc | ReadOnly).String(); got != "NoReLoc, ReadOnly" {
		t.Errorf("NoReLoc|ReadOnly = %q", got)
	}
	if got := SegFlag(0x4000).String(); got != "0x4000" {
		t.Errorf("unknown seg flag = %q", got)
	}
}

func TestLoadCmdIsKnown(t *testing.T) {
	if !LC_SEGMENT_64.IsKnown() || !LC_FILESET_ENTRY.IsKnown() {
		t.Error("enumerated commands not reported as known")
	}
	if LoadCmd(0x7777).IsKnown() {
		t.Error("arbitrary command value reported as known")
	}
}
