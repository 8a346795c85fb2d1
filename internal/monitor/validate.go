package monitor

import (
	"fmt"
	"net"
	"regexp"
	"strings"
)

const maxTargetLen = 253

var hostnameLabel = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?$`)

// ValidateTarget checks that t is an IP literal or a syntactically valid hostname
func ValidateTarget(t string) error {
	switch {
	case t == "":
		return fmt.Errorf("%w: empty", ErrInvalidTarget)
	case len(t) > maxTargetLen:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidTarget, maxTargetLen)
	case strings.ContainsAny(t, " \t\r\n"):
		return fmt.Errorf("%w: %q contains whitespace", ErrInvalidTarget, t)
	}

	if net.ParseIP(t) != nil {
		return nil
	}

	host := strings.TrimSuffix(t, ".")
	if host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidTarget, t)
	}
	for _, label := range strings.Split(host, ".") {
		if !hostnameLabel.MatchString(label) {
			return fmt.Errorf("%w: %q is not an IP address or hostname", ErrInvalidTarget, t)
		}
	}
	return nil
}
