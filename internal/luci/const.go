// Package luci turns the configuration of an OpenWrt router into switches:
// custom UCI settings declared in .uci files, OpenVPN instances and firewall
// rules.
package luci

import "time"

const (
	Domain = "luci_config"

	// SignalStateUpdated is sent once an entry is set up, asking every entity
	// to write its state.
	SignalStateUpdated = Domain + ".updated"

	IconConfig = "mdi:script-text"
	IconVPN    = "mdi:vpn"
	IconRule   = "mdi:fire"

	ConfigOpenVPN  = "openvpn"
	ConfigFirewall = "firewall"
	OptionEnabled  = "enabled"
	OptionName     = "name"
	SectionName    = ".name"

	// ConnectTimeout bounds the connectivity check done before an entry is
	// saved.
	ConnectTimeout = 5 * time.Second
)

// assumedEnabled is the value used when reading "enabled" fails with an
// authentication-shaped error, which the router returns for a missing option.
const assumedEnabled = "true"
