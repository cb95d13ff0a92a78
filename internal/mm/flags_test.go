package mm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagsLayout_Indexes(t *testing.T) {
	t.Parallel()

	f := DefaultFlagsLayout()

	tests := []struct {
		name    string
		flags   uint64
		zone    uint64
		section uint64
	}{
		{name: "zero flags", flags: 0, zone: 0, section: 0},
		{name: "zone bits set", flags: 0b11 << 26, zone: 3, section: 0},
		{name: "section bits 1010", flags: 0b1010 << 28, zone: 0, section: 10},
		{name: "low flag bits ignored", flags: 0x03ffffff, zone: 0, section: 0},
		{name: "both fields", flags: 0b0101_10 << 26, zone: 2, section: 5},
		{name: "bits above section ignored", flags: 0xff << 32, zone: 0, section: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.zone, f.ZoneIndex(tt.flags))
			assert.Equal(t, tt.section, f.SectionIndex(tt.flags))
		})
	}
}

func TestFlagsLayout_CustomWidths(t *testing.T) {
	t.Parallel()

	f := FlagsLayout{ZoneShift: 60, ZoneBits: 3, SectionShift: 40, SectionBits: 8}
	require.NoError(t, f.Validate())

	flags := uint64(0b101)<<60 | uint64(0xab)<<40

	assert.Equal(t, uint64(5), f.ZoneIndex(flags))
	assert.Equal(t, uint64(0xab), f.SectionIndex(flags))
}

func TestFlagsLayout_Validate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, DefaultFlagsLayout().Validate())
	assert.ErrorIs(t, FlagsLayout{ZoneShift: 63, ZoneBits: 2, SectionShift: 0, SectionBits: 1}.Validate(), ErrUnsupportedConfiguration)
	assert.ErrorIs(t, FlagsLayout{ZoneShift: 0, ZoneBits: 1, SectionShift: 0, SectionBits: 0}.Validate(), ErrUnsupportedConfiguration)
}
