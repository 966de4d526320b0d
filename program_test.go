package nodegraph

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const doubleWGSL = `
@group(0) @binding(0) var<storage, read_write> data: array<u32>;

@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    if (id.x < arrayLength(&data)) {
        data[id.x] = data[id.x] * 2u;
    }
}
`

func TestSetProgram_Formats(t *testing.T) {
	s := newTestSession(t)

	spirv := binary.LittleEndian.AppendUint32(nil, spirvMagic)
	spirv = binary.LittleEndian.AppendUint32(spirv, 0x00010300)
	require.NoError(t, s.SetProgram("test/spirv", spirv))
	require.NoError(t, s.SetProgram("test/wgsl", []byte(doubleWGSL)))

	assert.True(t, s.HasProgram("test/spirv"))
	assert.True(t, s.HasProgram("test/wgsl"))
	assert.Contains(t, s.Programs(), "test/wgsl")

	assert.Error(t, s.SetProgram("test/empty", nil))
	assert.Error(t, s.SetProgram("test/truncated", append(spirv, 0x01)))
}

func TestGetProgram(t *testing.T) {
	s := newTestSession(t)

	p, err := s.GetProgram(testAddProgram)
	require.NoError(t, err)
	assert.Equal(t, testAddProgram, p.Name())
	assert.Equal(t, testAddWGSL, p.WGSL())

	again, err := s.GetProgram(testAddProgram)
	require.NoError(t, err)
	assert.Same(t, p, again)

	_, err = s.GetProgram("test/missing")
	assert.ErrorIs(t, err, ErrUnknownProgram)

	// Registered, but the software device has no kernel for it.
	require.NoError(t, s.SetProgram("test/no-kernel", []byte(doubleWGSL)))
	_, err = s.GetProgram("test/no-kernel")
	assert.ErrorIs(t, err, ErrUnknownProgram)
}

func TestCompileProgram(t *testing.T) {
	s := newTestSession(t)

	p, err := s.CompileProgram("test/double", doubleWGSL)
	require.NoError(t, err)
	require.NotEmpty(t, p.SPIRV())
	assert.Equal(t, uint32(spirvMagic), p.SPIRV()[0])
	assert.Equal(t, doubleWGSL, p.WGSL())
	assert.True(t, s.HasProgram("test/double"))

	_, err = s.CompileProgram("test/broken", "fn main( {")
	assert.Error(t, err)
	assert.False(t, s.HasProgram("test/broken"))
}
