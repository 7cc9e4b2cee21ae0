// Package layout maps signed component binaries onto the fixed flash layout of
// the device and produces the ordered manifests handed to the package serializer.
package layout

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Role is the logical position of a component in flash.
type Role string

const (
	RoleLoaderBoot      Role = "loader-boot"
	RoleParams          Role = "params"
	RoleSecondaryBoot   Role = "secondary-boot"
	RoleFlashBoot       Role = "flash-boot"
	RoleFlashBootBackup Role = "flash-boot-backup"
	RoleNV              Role = "nv"
	RoleNVFactory       Role = "nv-factory"
	RoleApplication     Role = "application"
	RoleManufacturing   Role = "manufacturing"
	RoleEfuseConfig     Role = "efuse-config"
)

// Type codes understood by the package serializer.
const (
	TypeLoader = 0
	TypeImage  = 1
	TypeEfuse  = 3
)

// DefaultProduct is the application target the SDK builds.
const DefaultProduct = "ws63-liteos-app"

// FlagNVFactory in the extra defines adds the factory NV backup to the full manifest.
const FlagNVFactory = "PACKET_NV_FACTORY"

// loaderWindow is the size field carried by entries loaded into loader RAM.
const loaderWindow = 0x200000

// Slot is one entry of the fixed addressing table. A zero Size means the
// size is taken from the file at build time.
type Slot struct {
	Role   Role
	File   string
	Offset uint64
	Size   uint64
	Type   int
}

// Slots returns the addressing table for product. Offsets are reserved
// regions and never derived from component sizes.
func Slots(product string) map[Role]Slot {
	if product == "" {
		product = DefaultProduct
	}
	slots := []Slot{
		{RoleLoaderBoot, "root_loaderboot_sign.bin", 0x0, loaderWindow, TypeLoader},
		{RoleParams, "root_params_sign.bin", 0x200000, 0, TypeImage},
		{RoleSecondaryBoot, "ssb_sign.bin", 0x202000, 0, TypeImage},
		{RoleFlashBootBackup, "flashboot_backup_sign.bin", 0x210000, 0, TypeImage},
		{RoleFlashBoot, "flashboot_sign.bin", 0x220000, 0, TypeImage},
		{RoleNV, "ws63_all_nv.bin", 0x5FC000, 0x4000, TypeImage},
		{RoleNVFactory, "ws63_all_nv_factory.bin", 0x20C000, 0x4000, TypeImage},
		{RoleApplication, product + "_sign.bin", 0x230000, 0, TypeImage},
		{RoleManufacturing, "ws63-liteos-mfg_sign.bin", 0x470000, 0x183000, TypeImage},
		{RoleEfuseConfig, "efuse_cfg.bin", 0x0, loaderWindow, TypeEfuse},
	}

	m := make(map[Role]Slot, len(slots))
	for _, s := range slots {
		m[s.Role] = s
	}
	return m
}

// Descriptor places one component binary in flash.
type Descriptor struct {
	Role   Role
	Path   string
	Offset uint64
	Size   uint64
	Type   int
}

// String renders the descriptor in serializer form: path|offset|size|type.
func (d Descriptor) String() string {
	return fmt.Sprintf("%s|0x%x|0x%x|%d", d.Path, d.Offset, d.Size, d.Type)
}

// Manifest is one ordered packaging variant.
type Manifest struct {
	Name    string
	Output  string
	Entries []Descriptor
}

// Strings renders all entries in serializer form.
func (m Manifest) Strings() []string {
	out := make([]string, len(m.Entries))
	for i, d := range m.Entries {
		out[i] = d.String()
	}
	return out
}

// Defines is a parsed set of extra build defines.
type Defines map[string]string

// ParseDefines splits a define list separated by whitespace, commas or
// semicolons. NAME and NAME=value forms are accepted.
func ParseDefines(s string) Defines {
	d := Defines{}
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t' || r == '\n'
	})
	for _, f := range fields {
		f = strings.TrimPrefix(f, "-D")
		name, value, _ := strings.Cut(f, "=")
		if name != "" {
			d[name] = value
		}
	}
	return d
}

// Has reports whether name is defined.
func (d Defines) Has(name string) bool {
	_, ok := d[name]
	return ok
}

// OutputName returns the package file name of a manifest variant.
func OutputName(dir, product, variant string) string {
	if product == "" {
		product = DefaultProduct
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%s.fwpkg", product, variant))
}
