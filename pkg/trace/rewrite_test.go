package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCPUIDLeaf1Merom(t *testing.T) {
	out := RewriteCPUID(Merom, 1, 0, CPUIDResult{})
	assert.Equal(t, uint32(0x6fb), out.EAX)
	assert.Equal(t, Merom.StdFeaturesEDX, out.EDX)
	assert.Equal(t, Merom.StdFeaturesECX, out.ECX)
}

func TestCPUIDLeaf0GenuineIntel(t *testing.T) {
	out := RewriteCPUID(Ivybridge, 0, 0, CPUIDResult{})
	assert.Equal(t, Ivybridge.MaxStdLeaf, out.EAX)
	assert.Equal(t, uint32(0x756e6547), out.EBX)
	assert.Equal(t, uint32(0x49656e69), out.EDX)
	assert.Equal(t, uint32(0x6c65746e), out.ECX)
}

func TestCPUIDExtendedLeaves(t *testing.T) {
	out := RewriteCPUID(Westmere, 0x80000000, 0, CPUIDResult{})
	assert.Equal(t, Westmere.MaxExtLeaf, out.EAX)

	out = RewriteCPUID(Westmere, 0x80000001, 0, CPUIDResult{})
	assert.Equal(t, Westmere.ExtFeaturesEDX, out.EDX)
	assert.Equal(t, Westmere.ExtFeaturesECX, out.ECX)
}

func TestCPUIDLeaf7RequiresSupport(t *testing.T) {
	out := RewriteCPUID(Pentium3, 7, 0, CPUIDResult{})
	assert.Equal(t, uint32(0), out.EBX, "Pentium3 max std leaf is 3, leaf 7 unsupported => zero")

	out = RewriteCPUID(Ivybridge, 7, 0, CPUIDResult{})
	assert.Equal(t, Ivybridge.StructuredExtFeaturesEBX, out.EBX)
}

func TestCPUIDOtherLeavesUntouched(t *testing.T) {
	seed := CPUIDResult{EAX: 1, EBX: 2, ECX: 3, EDX: 4}
	out := RewriteCPUID(Merom, 2, 0, seed)
	assert.Equal(t, seed, out)
}

func TestRDRANDSentinelDisables(t *testing.T) {
	assert.False(t, RDRANDEnabled(FixedRDRANDOff))
	assert.True(t, RDRANDEnabled(0x0123456789ABCDEF))
	assert.Equal(t, uint64(0x0123456789ABCDEF), RewriteRDRAND(0x0123456789ABCDEF))
}

func TestEncodeFamilySplitRules(t *testing.T) {
	// family 6: model high nibble goes to ext_model, family untouched
	assert.Equal(t, uint32(0x6fb), EncodeFamily(6, 15, 11))
	// family >= 15: family split into base+ext
	f := EncodeFamily(15, 3, 2)
	assert.Equal(t, uint32(0xf), (f>>8)&0xf, "base family nibble")
}
