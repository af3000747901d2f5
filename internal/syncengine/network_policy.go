package syncengine

import "net"

// NetworkState is the coarse connectivity class the sync policy gates on.
type NetworkState string

const (
	NetworkNone     NetworkState = "none"
	NetworkWifi     NetworkState = "wifi"
	NetworkCellular NetworkState = "cellular"
)

// SyncPolicy mirrors the configured sync_policy setting.
type SyncPolicy string

const (
	PolicyWifiOnly     SyncPolicy = "wifi_only"
	PolicyWifiCellular SyncPolicy = "wifi_cellular"
)

// PolicyConfig is the subset of settings that gate queue dispatch.
type PolicyConfig struct {
	SyncPolicy  SyncPolicy
	LowDataMode bool
}

// NetworkMonitor reports the device's current connectivity class. Declared
// here, at the consumer, so tests can pin a state without touching real
// network interfaces.
type NetworkMonitor interface {
	Current() NetworkState
}

// interfaceNetworkMonitor is the production NetworkMonitor, built on
// net.Interfaces since nothing in this codebase's dependency set offers a
// richer connectivity API — this binary runs on desktops and servers, not
// the mobile platform the sync_policy setting was originally written for,
// so "wifi" here really means "any non-cellular link" (including wired
// ethernet and loopback-adjacent virtual adapters).
type interfaceNetworkMonitor struct{}

// NewInterfaceNetworkMonitor returns the default, stdlib-backed
// NetworkMonitor.
func NewInterfaceNetworkMonitor() NetworkMonitor {
	return interfaceNetworkMonitor{}
}

func (interfaceNetworkMonitor) Current() NetworkState {
	ifaces, err := net.Interfaces()
	if err != nil {
		return NetworkNone
	}

	best := NetworkNone

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil || len(addrs) == 0 {
			continue
		}

		if isCellularInterfaceName(iface.Name) {
			if best == NetworkNone {
				best = NetworkCellular
			}

			continue
		}

		best = NetworkWifi
	}

	return best
}

func isCellularInterfaceName(name string) bool {
	prefixes := []string{"wwan", "rmnet", "ppp", "wwp"}

	for _, p := range prefixes {
		if len(name) >= len(p) && name[:len(p)] == p {
			return true
		}
	}

	return false
}

// admitByPolicy reports whether a dispatch attempt is allowed under the
// current network state and configured policy, per the settings' gate:
// a policy value outside the enumerated set behaves as wifi_only, and
// low_data_mode additionally restricts wifi_cellular down to wifi.
func admitByPolicy(state NetworkState, policy PolicyConfig) bool {
	if state == NetworkNone {
		return false
	}

	effective := policy.SyncPolicy
	if effective != PolicyWifiOnly && effective != PolicyWifiCellular {
		effective = PolicyWifiOnly
	}

	if policy.LowDataMode {
		return state == NetworkWifi
	}

	switch effective {
	case PolicyWifiCellular:
		return state == NetworkWifi || state == NetworkCellular
	default:
		return state == NetworkWifi
	}
}
