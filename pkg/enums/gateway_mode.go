package enums

import "fmt"

// GatewayMode records which processor environment an order was taken in.
type GatewayMode string

const (
	GatewayModeLive GatewayMode = "live"
	GatewayModeTest GatewayMode = "test"
)

var validGatewayModes = []GatewayMode{
	GatewayModeLive,
	GatewayModeTest,
}

// String implements fmt.Stringer.
func (m GatewayMode) String() string {
	return string(m)
}

// IsValid reports whether the value is a known GatewayMode.
func (m GatewayMode) IsValid() bool {
	for _, candidate := range validGatewayModes {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParseGatewayMode converts raw input into a GatewayMode.
func ParseGatewayMode(value string) (GatewayMode, error) {
	for _, candidate := range validGatewayModes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid gateway mode %q", value)
}
