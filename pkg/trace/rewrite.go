package trace

// CPUIDResult is the four general-purpose registers as left by a
// `cpuid` instruction.
type CPUIDResult struct {
	EAX, EBX, ECX, EDX uint32
}

// FixedRDRANDOff is the -r CLI sentinel meaning "do not substitute
// RDRAND output".
const FixedRDRANDOff = 0xBADBADBADBADBAD

// RewriteCPUID overwrites the architectural CPUID outputs according to
// profile for the given input leaf/subleaf, per §4.4. Leaves other
// than 0, 1, 0x80000000, 0x80000001, and 7/0 are left untouched.
func RewriteCPUID(profile Profile, eaxIn, ecxIn uint32, out CPUIDResult) CPUIDResult {
	switch eaxIn {
	case 0:
		out.EAX = profile.MaxStdLeaf
		out.EBX = 0x756e6547 // "Genu"
		out.EDX = 0x49656e69 // "ineI"
		out.ECX = 0x6c65746e // "ntel"
	case 1:
		out.EAX = profile.EncodedFamily
		out.EDX = profile.StdFeaturesEDX
		out.ECX = profile.StdFeaturesECX
	case 0x80000000:
		out.EAX = profile.MaxExtLeaf
	case 0x80000001:
		if profile.MaxExtLeaf >= 0x80000001 {
			out.EDX = profile.ExtFeaturesEDX
			out.ECX = profile.ExtFeaturesECX
		} else {
			out.EDX = 0
			out.ECX = 0
		}
	case 7:
		if ecxIn == 0 {
			if profile.MaxStdLeaf >= 7 {
				out.EBX = profile.StructuredExtFeaturesEBX
			} else {
				out.EBX = 0
			}
		}
	}
	return out
}

// RewriteRDRAND returns the configured fixed value to substitute for
// the destination register of an `rdrand` instruction. The caller is
// responsible for checking that fixed-random is enabled (value !=
// FixedRDRANDOff) before invoking the rewrite.
func RewriteRDRAND(fixed uint64) uint64 {
	return fixed
}

// RDRANDEnabled reports whether the CLI's -r value requests
// substitution rather than pass-through.
func RDRANDEnabled(fixed uint64) bool {
	return fixed != FixedRDRANDOff
}
