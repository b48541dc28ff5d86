package types

import "testing"

func TestCPUString(t *testing.T) {
	cases := []struct {
		cpu  CPU
		want string
	}{
		{CPU386, "i386"},
		{CPUAmd64, "x86_64"},
		{CPUArm, "ARM"},
		{CPUArm64, "ARM64"},
		{CPUArm6432, "ARM64_32"},
		{CPUPpc, "PowerPC"},
		{CPUPpc64, "PowerPC 64"},
		{CPU(42), "unknown(type=42)"},
	}
	for _, c := range cases {
		if got := c.cpu.String(); got != c.want {
			t.Errorf("CPU(%d).String() = %q, want %q", uint32(c.cpu), got, c.want)
		}
	}
}

func TestCPUIs64(t *testing.T) {
	if !CPUAmd64.Is64() || !CPUArm64.Is64() {
		t.Error("64-bit cpu types not reported as such")
	}
	if CPU386.Is64() || CPUArm.Is64() || CPUArm6432.Is64() {
		t.Error("32-bit cpu types reported as 64-bit")
	}
}

func TestCPUSubtypeString(t *testing.T) {
	if got := CPUSubtypeArm64E.String(CPUArm64); got != "ARM64e (ARMv8.3)" {
		t.Errorf("arm64e = %q", got)
	}
	if got := CPUSubtypeX8664All.String(CPUAmd64); got != "x86_64" {
		t.Errorf("x86_64 all = %q", got)
	}
	// Capability bits do not change the subtype name.
	if got := (CPUSubtypeArm64E | CpuSubtypeLib64).String(CPUArm64); got != "ARM64e (ARMv8.3)" {
		t.Errorf("arm64e with capability bits = %q", got)
	}
	if got := CPUSubtypeArm6432V8.String(CPUArm6432); got != "ARM64_32 (ARMv8)" {
		t.Errorf("arm64_32 v8 = %q", got)
	}
	if got := CPUSubtype(9).String(CPUPpc); got != "unknown(subtype=9)" {
		t.Errorf("ppc subtype = %q", got)
	}
}
