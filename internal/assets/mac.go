package assets

import (
	"fmt"
	"net"
	"strings"

	"github.com/utv-amats/amats/internal/shared"
)

// NormalizeMAC converts colon, hyphen, dotted or bare-hex MAC addresses to
// upper-case colon form. Only 48-bit addresses are accepted.
func NormalizeMAC(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	if len(raw) == 12 && !strings.ContainsAny(raw, ":-.") {
		var b strings.Builder
		for i := 0; i < 12; i += 2 {
			if i > 0 {
				b.WriteByte(':')
			}
			b.WriteString(raw[i : i+2])
		}
		raw = b.String()
	}
	hw, err := net.ParseMAC(raw)
	if err != nil || len(hw) != 6 {
		return "", fmt.Errorf("%w: invalid MAC address %q", shared.ErrValidation, raw)
	}
	return strings.ToUpper(hw.String()), nil
}
