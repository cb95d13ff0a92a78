// Package profile loads the description of the kernel build that produced a
// captured image: symbols, struct layouts, config options and the build
// constants the page resolver cannot discover on its own.
package profile

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/e2b-dev/infra/packages/ramdump/internal/image"
	"github.com/e2b-dev/infra/packages/ramdump/internal/mm"
)

var ErrInvalidProfile = errors.New("invalid profile")

// Hex is an address or size written either as a YAML integer or as a string
// in any base strconv accepts ("0xc0000000", "3221225472").
type Hex uint64

func (h *Hex) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar address", value.Line)
	}

	v, err := strconv.ParseUint(value.Value, 0, 64)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}

	*h = Hex(v)

	return nil
}

func (h Hex) MarshalYAML() (any, error) {
	return fmt.Sprintf("%#x", uint64(h)), nil
}

type Region struct {
	Virt   Hex `yaml:"virt"`
	Size   Hex `yaml:"size"`
	Offset Hex `yaml:"offset"`
}

// LayoutOverrides replaces individual defaults of mm.DefaultLayout. Unset
// fields keep the default.
type LayoutOverrides struct {
	ZoneShift         *uint `yaml:"zone_shift,omitempty"`
	ZoneBits          *uint `yaml:"zone_bits,omitempty"`
	SectionShift      *uint `yaml:"section_shift,omitempty"`
	SectionBits       *uint `yaml:"section_bits,omitempty"`
	PageShift         *uint `yaml:"page_shift,omitempty"`
	SectionSizeBits   *uint `yaml:"section_size_bits,omitempty"`
	SectionRootSize   *Hex  `yaml:"section_root_size,omitempty"`
	DirectMapBase     *Hex  `yaml:"direct_map_base,omitempty"`
	HashBits          *uint `yaml:"hash_bits,omitempty"`
	MaxListSteps      *int  `yaml:"max_list_steps,omitempty"`
	ZoneNameMaxLength *int  `yaml:"zone_name_max_length,omitempty"`
}

type Profile struct {
	Name      string `yaml:"name"`
	Is64Bit   bool   `yaml:"is_64bit"`
	BigEndian bool   `yaml:"big_endian,omitempty"`

	PhysOffset Hex `yaml:"phys_offset"`
	PageOffset Hex `yaml:"page_offset"`

	Config  map[string]bool           `yaml:"config"`
	Symbols map[string]Hex            `yaml:"symbols"`
	Sizes   map[string]Hex            `yaml:"sizes"`
	Fields  map[string]map[string]Hex `yaml:"fields"`
	Layout  LayoutOverrides           `yaml:"layout,omitempty"`
	Regions []Region                  `yaml:"regions"`
}

func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}

	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}

	return p, nil
}

func Parse(data []byte) (*Profile, error) {
	var p Profile

	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile: %w", err)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	return &p, nil
}

func (p *Profile) Validate() error {
	var errs []error

	if len(p.Regions) == 0 {
		errs = append(errs, errors.New("no memory regions"))
	}

	for i, r := range p.Regions {
		if r.Size == 0 {
			errs = append(errs, fmt.Errorf("region %d at %#x is empty", i, uint64(r.Virt)))
		}
	}

	if _, err := image.NewMapping(p.ImageRegions()); err != nil {
		errs = append(errs, err)
	}

	if err := p.MMLayout().Validate(); err != nil {
		errs = append(errs, err)
	}

	if !p.Is64Bit && (p.PhysOffset > 0xffffffff || p.PageOffset > 0xffffffff) {
		errs = append(errs, errors.New("32-bit profile with offsets above 4GiB"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidProfile, errors.Join(errs...))
	}

	return nil
}

// WordSize returns the pointer width of the kernel in bytes.
func (p *Profile) WordSize() int {
	if p.Is64Bit {
		return 8
	}

	return 4
}

func (p *Profile) Target() mm.Target {
	return mm.Target{
		Is64Bit:    p.Is64Bit,
		PhysOffset: uint64(p.PhysOffset),
		PageOffset: uint64(p.PageOffset),
	}
}

// MMLayout returns mm.DefaultLayout with the profile's overrides applied.
func (p *Profile) MMLayout() mm.Layout {
	l := mm.DefaultLayout()
	o := p.Layout

	setUint(&l.Flags.ZoneShift, o.ZoneShift)
	setUint(&l.Flags.ZoneBits, o.ZoneBits)
	setUint(&l.Flags.SectionShift, o.SectionShift)
	setUint(&l.Flags.SectionBits, o.SectionBits)
	setUint(&l.PageShift, o.PageShift)
	setUint(&l.SectionSizeBits, o.SectionSizeBits)
	setUint(&l.HashBits, o.HashBits)

	if o.SectionRootSize != nil {
		l.SectionRootSize = uint64(*o.SectionRootSize)
	}

	if o.DirectMapBase != nil {
		l.DirectMapBase = uint64(*o.DirectMapBase)
	}

	if o.MaxListSteps != nil {
		l.MaxListSteps = *o.MaxListSteps
	}

	if o.ZoneNameMaxLength != nil {
		l.ZoneNameMaxLength = *o.ZoneNameMaxLength
	}

	return l
}

func setUint(dst *uint, v *uint) {
	if v != nil {
		*dst = *v
	}
}

// ImageRegions returns the regions sorted by virtual address.
func (p *Profile) ImageRegions() []image.Region {
	regions := make([]image.Region, 0, len(p.Regions))
	for _, r := range p.Regions {
		regions = append(regions, image.Region{
			BaseVirtAddr: uint64(r.Virt),
			Size:         uint64(r.Size),
			Offset:       int64(r.Offset),
		})
	}

	sort.Slice(regions, func(i, j int) bool {
		return regions[i].BaseVirtAddr < regions[j].BaseVirtAddr
	})

	return regions
}
