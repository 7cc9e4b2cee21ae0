package security

import (
	"log/slog"

	"github.com/ws63-tools/fwpack/pkg/errors"
	"github.com/ws63-tools/fwpack/pkg/layout"
	"go.uber.org/multierr"
)

// ErrRegionOverflow reports a component larger than its reserved flash region.
var ErrRegionOverflow = errors.New("region overflow")

// RegionCapacity is the reserved flash span of each role, the distance to
// the next region in the addressing table. Loader-RAM entries have none.
var RegionCapacity = map[layout.Role]uint64{
	layout.RoleParams:          0x202000 - 0x200000,
	layout.RoleSecondaryBoot:   0x20C000 - 0x202000,
	layout.RoleNVFactory:       0x210000 - 0x20C000,
	layout.RoleFlashBootBackup: 0x220000 - 0x210000,
	layout.RoleFlashBoot:       0x230000 - 0x220000,
	layout.RoleApplication:     0x470000 - 0x230000,
	layout.RoleManufacturing:   0x183000,
	layout.RoleNV:              0x4000,
}

// ValidateRegions checks every sized entry of a manifest against its region.
// All overflows are reported together.
func ValidateRegions(entries []layout.Descriptor) error {
	var err error
	for _, d := range entries {
		capacity, ok := RegionCapacity[d.Role]
		if !ok {
			continue
		}
		if d.Size > capacity {
			slog.Error("security_region_overflow", "role", d.Role, "path", d.Path, "size", d.Size, "capacity", capacity)
			err = multierr.Append(err, errors.Newf(ErrRegionOverflow,
				"%s is 0x%x bytes, region holds 0x%x", d.Role, d.Size, capacity))
		}
	}
	return err
}
