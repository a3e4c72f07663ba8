// Package bytesize parses and prints human readable sizes such as "64Ki"
// or "1MB" for configuration values like I/O sizes and cache blocks.
package bytesize

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// ByteSize is a size in bytes.
type ByteSize uint64

const (
	B  ByteSize = 1
	KB ByteSize = 1000
	MB ByteSize = 1000 * KB
	GB ByteSize = 1000 * MB

	KiB ByteSize = 1024
	MiB ByteSize = 1024 * KiB
	GiB ByteSize = 1024 * MiB
)

var units = map[string]ByteSize{
	"":    B,
	"b":   B,
	"k":   KB,
	"kb":  KB,
	"m":   MB,
	"mb":  MB,
	"g":   GB,
	"gb":  GB,
	"ki":  KiB,
	"kib": KiB,
	"mi":  MiB,
	"mib": MiB,
	"gi":  GiB,
	"gib": GiB,
}

// Parse converts strings like "64Ki", "1.5MiB" or "4096" into a ByteSize.
func Parse(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty byte size")
	}

	i := strings.IndexFunc(s, func(r rune) bool {
		return !unicode.IsDigit(r) && r != '.'
	})
	num, unit := s, ""
	if i >= 0 {
		num, unit = s[:i], strings.ToLower(strings.TrimSpace(s[i:]))
	}
	if num == "" {
		return 0, fmt.Errorf("invalid byte size %q", s)
	}

	mult, ok := units[unit]
	if !ok {
		return 0, fmt.Errorf("unknown byte size unit %q in %q", unit, s)
	}

	if !strings.Contains(num, ".") {
		n, err := strconv.ParseUint(num, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
		}
		if n > math.MaxUint64/uint64(mult) {
			return 0, fmt.Errorf("byte size %q overflows", s)
		}
		return ByteSize(n) * mult, nil
	}

	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	v := f * float64(mult)
	if v >= math.MaxUint64 {
		return 0, fmt.Errorf("byte size %q overflows", s)
	}
	return ByteSize(v), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so mapstructure and
// yaml can decode sizes directly.
func (b *ByteSize) UnmarshalText(text []byte) error {
	v, err := Parse(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// MarshalText writes the size in the shortest exact binary unit.
func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.Exact()), nil
}

// Exact returns a representation that parses back to the same value.
func (b ByteSize) Exact() string {
	switch {
	case b == 0:
		return "0"
	case b%GiB == 0:
		return strconv.FormatUint(uint64(b/GiB), 10) + "Gi"
	case b%MiB == 0:
		return strconv.FormatUint(uint64(b/MiB), 10) + "Mi"
	case b%KiB == 0:
		return strconv.FormatUint(uint64(b/KiB), 10) + "Ki"
	default:
		return strconv.FormatUint(uint64(b), 10)
	}
}

// String returns a rounded human readable size.
func (b ByteSize) String() string {
	switch {
	case b >= GiB:
		return fmt.Sprintf("%.2fGiB", float64(b)/float64(GiB))
	case b >= MiB:
		return fmt.Sprintf("%.2fMiB", float64(b)/float64(MiB))
	case b >= KiB:
		return fmt.Sprintf("%.2fKiB", float64(b)/float64(KiB))
	default:
		return fmt.Sprintf("%dB", uint64(b))
	}
}

// Uint32 clamps the size into a uint32, as used by NFSv4 count fields.
func (b ByteSize) Uint32() uint32 {
	if b > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(b)
}
