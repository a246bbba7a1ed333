// Package ota implements the firmware-update state machine (spec §4.8,
// component C9): manifest observation, component selection, the resumable
// blockwise download, SHA-256 verification, and the platform apply/reboot/
// rollback handshake. It is grounded on original_source/include/golioth/
// fw_update.h and ota.h for the platform callback surface and the state/
// reason vocabulary, and on the teacher's CBOR codec (cbor_codec.go /
// cbor.go) for decoding the manifest notification payload.
package ota

// Component is OtaComponent from spec §3: "package (≤16), version (≤16),
// size, 32-byte hash, uri, optional bootloader tag".
type Component struct {
	Package        string
	Version        string
	Size           uint32
	Hash           [32]byte
	URI            string
	BootloaderTag  string
	HasBootloaderTag bool
}

// Manifest is OtaManifest from spec §3: "Sequence number + ordered list of
// OtaComponent ... Lifetime: parsed per notification; only the component
// currently being acted on is retained across notifications."
type Manifest struct {
	SequenceNumber uint32
	Components     []Component
}

// MaxPackageNameLen and MaxVersionLen are spec §6's default caps ("OTA max
// package-name 16, OTA max version 16").
const (
	MaxPackageNameLen = 16
	MaxVersionLen     = 16
	MaxComponents     = 1 // spec §6 "OTA max components 1"
)

// ComponentByPackage returns the component matching name, the configured
// package name to act on (spec §4.8 step 3 "Look up the configured package
// name"), or false if the manifest doesn't mention it.
func (m *Manifest) ComponentByPackage(name string) (Component, bool) {
	for _, c := range m.Components {
		if c.Package == name {
			return c, true
		}
	}
	return Component{}, false
}
