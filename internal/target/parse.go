package target

import (
	"fmt"
	"strings"
)

// Parse builds an Info from an arch-os[-abi] triple string such as
// "x86_64-linux-musl" or "aarch64-macos", filling in the object format
// and a small default feature table per arch. This is the one piece of
// triple bookkeeping the driver core needs that no example repo in the
// retrieval pack ships (no repo targets cross-compilation), so it stays
// on the standard library's strings.Split/Fields rather than reaching
// for an external triple-parsing library.
func Parse(triple string) (*Info, error) {
	parts := strings.Split(triple, "-")
	if len(parts) < 2 {
		return nil, fmt.Errorf("target: malformed triple %q", triple)
	}

	arch := Arch(parts[0])
	switch arch {
	case ArchX86_64, ArchAarch64, ArchRISCV64, ArchWasm32:
	default:
		return nil, fmt.Errorf("target: unknown arch %q", parts[0])
	}

	os := OS(parts[1])
	switch os {
	case OSLinux, OSMacOS, OSWindows, OSFreestanding, OSWasi:
	default:
		return nil, fmt.Errorf("target: unknown os %q", parts[1])
	}

	abi := ABINone
	if len(parts) >= 3 {
		abi = ABI(parts[2])
		switch abi {
		case ABIGnu, ABIMusl, ABIMsvc, ABIGnuEabi:
		default:
			return nil, fmt.Errorf("target: unknown abi %q", parts[2])
		}
	} else if os == OSLinux {
		abi = ABIGnu
	} else if os == OSWindows {
		abi = ABIMsvc
	}

	info := &Info{
		Arch:        arch,
		OS:          os,
		ABI:         abi,
		LLVMCPUName: "generic",
	}

	switch {
	case os == OSMacOS:
		info.ObjectFormat = ObjectFormatMachO
	case os == OSWindows:
		info.ObjectFormat = ObjectFormatCoff
	case arch == ArchWasm32:
		info.ObjectFormat = ObjectFormatWasm
	default:
		info.ObjectFormat = ObjectFormatElf
	}

	if arch == ArchRISCV64 {
		info.Features = append(info.Features, Feature{Name: "relax", LLVMName: "relax", Enabled: true})
	}

	return info, nil
}
