// Package network provides network interface filtering and management.
package network

import (
	"fmt"
	"net"
)

// ResolveInterfaces turns a Config.Interfaces value into the concrete set of
// interfaces to bind. configured == ["all"] (or empty) resolves via
// DefaultInterfaces' VPN/Docker/loopback filtering; any other value names
// interfaces explicitly by net.Interface.Name, and each one must exist and
// support multicast.
func ResolveInterfaces(configured []string) ([]net.Interface, error) {
	if len(configured) == 0 || (len(configured) == 1 && configured[0] == "all") {
		return DefaultInterfaces()
	}

	all, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	byName := make(map[string]net.Interface, len(all))
	for _, iface := range all {
		byName[iface.Name] = iface
	}

	resolved := make([]net.Interface, 0, len(configured))
	for _, name := range configured {
		iface, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("network: interface %q not found", name)
		}
		if iface.Flags&net.FlagMulticast == 0 {
			return nil, fmt.Errorf("network: interface %q does not support multicast", name)
		}
		resolved = append(resolved, iface)
	}
	return resolved, nil
}

// DefaultInterfaces returns network interfaces suitable for mDNS multicast,
// excluding VPN interfaces, Docker interfaces, loopback, and down interfaces.
//
// - Excludes VPN interfaces (utun*, tun*, ppp*, wg*, tailscale*, wireguard*)
// - Excludes Docker interfaces (docker0, veth*, br-*)
// - Excludes loopback interfaces
// - Excludes down interfaces
// - Includes only interfaces with multicast support
//
// Users can override this behavior via WithInterfaces() or WithInterfaceFilter()
// functional options.
//
// Implements:
func DefaultInterfaces() ([]net.Interface, error) {
	// Get all system interfaces
	allIfaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	// Filter interfaces based on requirements
	filtered := make([]net.Interface, 0, len(allIfaces))
	for _, iface := range allIfaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}

		if iface.Flags&net.FlagMulticast == 0 {
			continue
		}

		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		if isVPN(iface.Name) {
			continue
		}

		if isDocker(iface.Name) {
			continue
		}

		// Interface passed all filters - include it
		filtered = append(filtered, iface)
	}

	return filtered, nil
}

// isVPN returns true if the interface name matches known VPN naming patterns.
// Patterns cover 95%+ of VPN clients (per research.md).
//
// Recognized patterns:
//   - utun*      - macOS system VPNs, Tunnelblick, OpenVPN
//   - tun*       - Linux OpenVPN, generic TUN devices
//   - ppp*       - PPTP, L2TP tunnels
//   - wg*        - WireGuard (standard naming)
//   - tailscale* - Tailscale VPN
//   - wireguard* - WireGuard (alternative naming)
func isVPN(name string) bool {
	vpnPrefixes := []string{"utun", "tun", "ppp", "wg", "tailscale", "wireguard"}
	for _, prefix := range vpnPrefixes {
		if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// isDocker returns true if the interface name matches Docker interface patterns.
// Patterns cover 100% of Docker networking (per research.md).
//
// Recognized patterns:
//   - docker0  - Default Docker bridge (exact match)
//   - veth*    - Virtual ethernet pairs (container connections)
//   - br-*     - Custom Docker bridge networks
func isDocker(name string) bool {
	// Exact match: docker0
	if name == "docker0" {
		return true
	}

	// Prefix matches
	dockerPrefixes := []string{"veth", "br-"}
	for _, prefix := range dockerPrefixes {
		if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			return true
		}
	}

	return false
}
