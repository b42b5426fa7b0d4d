package target

import "testing"

func TestTripleRenderingOmitsNoneABI(t *testing.T) {
	info := Info{Arch: ArchWasm32, OS: OSWasi, ABI: ABINone}
	if got, want := info.Triple(), "wasm32-wasi"; got != want {
		t.Fatalf("Triple() = %q, want %q", got, want)
	}
}

func TestTripleRenderingIncludesABI(t *testing.T) {
	info := Info{Arch: ArchX86_64, OS: OSLinux, ABI: ABIMusl}
	if got, want := info.Triple(), "x86_64-linux-musl"; got != want {
		t.Fatalf("Triple() = %q, want %q", got, want)
	}
}

func TestForbidsDynamicLinking(t *testing.T) {
	cases := []struct {
		info Info
		want bool
	}{
		{Info{OS: OSFreestanding}, true},
		{Info{OS: OSWasi}, true},
		{Info{Arch: ArchWasm32, OS: OSLinux}, true},
		{Info{Arch: ArchX86_64, OS: OSLinux}, false},
	}
	for _, tc := range cases {
		if got := tc.info.ForbidsDynamicLinking(); got != tc.want {
			t.Fatalf("ForbidsDynamicLinking(%+v) = %v, want %v", tc.info, got, tc.want)
		}
	}
}

func TestIsGlibcAndIsMusl(t *testing.T) {
	glibc := Info{OS: OSLinux, ABI: ABIGnu}
	if !glibc.IsGlibc() {
		t.Fatalf("expected glibc target to report IsGlibc")
	}
	if glibc.IsMusl() {
		t.Fatalf("glibc target unexpectedly reported IsMusl")
	}

	musl := Info{OS: OSLinux, ABI: ABIMusl}
	if !musl.IsMusl() {
		t.Fatalf("expected musl target to report IsMusl")
	}
	if musl.IsGlibc() {
		t.Fatalf("musl target unexpectedly reported IsGlibc")
	}
}

func TestSupportsPICExcludesWindows(t *testing.T) {
	if (Info{OS: OSWindows}).SupportsPIC() {
		t.Fatalf("Windows target unexpectedly supports PIC")
	}
	if !(Info{OS: OSLinux}).SupportsPIC() {
		t.Fatalf("Linux target should support PIC")
	}
}

func TestIsSingleThreadedOnlyWasmNonWasi(t *testing.T) {
	if !(Info{Arch: ArchWasm32, OS: OSFreestanding}).IsSingleThreaded() {
		t.Fatalf("freestanding wasm32 should be single-threaded")
	}
	if (Info{Arch: ArchWasm32, OS: OSWasi}).IsSingleThreaded() {
		t.Fatalf("wasi wasm32 should not be forced single-threaded")
	}
}

func TestRelaxFeatureOnlyRISCV(t *testing.T) {
	nonRISCV := Info{Arch: ArchX86_64}
	if _, ok := nonRISCV.RelaxFeature(); ok {
		t.Fatalf("non-RISC-V target unexpectedly reports a relax feature")
	}

	riscv := Info{Arch: ArchRISCV64, Features: []Feature{{Name: "relax", LLVMName: "relax", Enabled: true}}}
	enabled, ok := riscv.RelaxFeature()
	if !ok || !enabled {
		t.Fatalf("RelaxFeature() = (%v, %v), want (true, true)", enabled, ok)
	}
}
