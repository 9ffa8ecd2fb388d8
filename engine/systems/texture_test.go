package systems

import (
	"testing"

	"github.com/spaghettifunk/sonar/engine/core"
	"github.com/spaghettifunk/sonar/engine/math"
	"github.com/spaghettifunk/sonar/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextureSystemDefault(t *testing.T) {
	b := newTestBackend(t)
	ts, err := NewTextureSystem(&TextureSystemConfig{MaxTextureCount: 2}, b)
	require.NoError(t, err)

	def := ts.GetDefaultTexture()
	assert.Equal(t, DefaultTextureName, def.Name)
	assert.Equal(t, TextureHeapSlotBase, def.HeapSlot)
	pixels, err := b.ReadBuffer(def.Buffer)
	require.NoError(t, err)
	assert.Equal(t, []byte{255, 255, 255, 255}, pixels[:4])
	assert.Equal(t, uint32(1), ts.Count())
}

func TestTextureCreate(t *testing.T) {
	b := newTestBackend(t)
	ts, err := NewTextureSystem(&TextureSystemConfig{MaxTextureCount: 2}, b)
	require.NoError(t, err)

	h, err := ts.Create("sand", 2, 1, math.NewVec4(1, 0.5, 0, 1))
	require.NoError(t, err)
	tex, err := ts.Get(h)
	require.NoError(t, err)
	assert.Equal(t, TextureHeapSlotBase+1, tex.HeapSlot)
	pixels, err := b.ReadBuffer(tex.Buffer)
	require.NoError(t, err)
	assert.Equal(t, []byte{255, 128, 0, 255, 255, 128, 0, 255}, pixels)

	found, ok := ts.Lookup("sand")
	require.True(t, ok)
	assert.Equal(t, h, found)

	_, err = ts.Create("sand", 1, 1, math.NewVec4One())
	assert.ErrorIs(t, err, core.ErrInvalidTexture)
	_, err = ts.Create("full", 1, 1, math.NewVec4One())
	assert.ErrorIs(t, err, core.ErrInvalidTexture)
	_, err = ts.Get(9)
	assert.ErrorIs(t, err, core.ErrInvalidTexture)
}

func TestTextureDescriptors(t *testing.T) {
	b := newTestBackend(t)
	ts, err := NewTextureSystem(&TextureSystemConfig{MaxTextureCount: 4}, b)
	require.NoError(t, err)
	_, err = ts.Create("rock", 4, 4, math.NewVec4One())
	require.NoError(t, err)

	heap, err := b.DescriptorHeapCreate(TextureHeapSlotBase + ts.Count())
	require.NoError(t, err)
	require.NoError(t, ts.WriteDescriptors(heap))

	d, ok := b.Descriptor(heap, TextureHeapSlotBase+1)
	require.True(t, ok)
	assert.Equal(t, metadata.DESCRIPTOR_KIND_TEXTURE, d.Kind)
	assert.Equal(t, uint32(4), d.Width)

	small, err := b.DescriptorHeapCreate(TextureHeapSlotBase)
	require.NoError(t, err)
	assert.Error(t, ts.WriteDescriptors(small))
}
