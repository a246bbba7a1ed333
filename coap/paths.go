package coap

import "fmt"

// Resource path builders for the fixed golioth resource table (spec §6
// "Resource paths used by the services"). Unlike the teacher's
// coap_paths.go, which maps an open-ended set of Matrix HTTP routes onto
// single-byte CoAP path codes via regex capture groups, golioth's resource
// set is a small fixed template table, so a handful of Sprintf builders
// replace that machinery entirely (see DESIGN.md).

// LightDBStatePath builds the ".d/<path>" resource for LightDB state.
func LightDBStatePath(path string) string {
	return ".d/" + path
}

// StreamPath builds the ".s/<path>" resource for LightDB stream.
func StreamPath(path string) string {
	return ".s/" + path
}

// ManifestPath is the fixed OTA manifest observation resource.
const ManifestPath = ".u/desired"

// ComponentPath builds the OTA component-block resource for pkg@version.
func ComponentPath(pkg, version string) string {
	return fmt.Sprintf(".u/c/%s@%s", pkg, version)
}

// ComponentStatusPath builds the OTA state/reason report resource for pkg.
func ComponentStatusPath(pkg string) string {
	return fmt.Sprintf(".u/c/%s/status", pkg)
}

// RPCPath is the fixed RPC request/response resource.
const RPCPath = ".rpc"

// SettingsPath is the fixed settings resource.
const SettingsPath = ".c"

// LogsPath is the fixed structured-log resource.
const LogsPath = "logs"

// LocationPath is the fixed location-query resource.
const LocationPath = "loc"

// NetInfoPath is the fixed network-info resource.
const NetInfoPath = "loc/net"
