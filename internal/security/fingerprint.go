package security

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"strings"
)

// HardwareInfo describes the machine a license is bound to.
type HardwareInfo struct {
	CPUID      string `json:"cpu_id,omitempty"`
	DiskID     string `json:"disk_id,omitempty"`
	MACAddress string `json:"mac_address,omitempty"`
	BIOSID     string `json:"bios_id,omitempty"`
}

// Normalize returns a copy with whitespace trimmed, case folded and the
// MAC address in canonical colon form.
func (h HardwareInfo) Normalize() HardwareInfo {
	out := HardwareInfo{
		CPUID:  normalizeComponent(h.CPUID),
		DiskID: normalizeComponent(h.DiskID),
		BIOSID: normalizeComponent(h.BIOSID),
	}
	mac := strings.TrimSpace(h.MACAddress)
	if hw, err := net.ParseMAC(mac); err == nil {
		out.MACAddress = hw.String()
	} else {
		out.MACAddress = normalizeComponent(mac)
	}
	return out
}

// IsEmpty reports whether no component is set.
func (h HardwareInfo) IsEmpty() bool {
	return len(h.Normalize().components()) == 0
}

// components returns the populated fields in a fixed order.
func (h HardwareInfo) components() [][2]string {
	var out [][2]string
	for _, kv := range [][2]string{
		{"bios_id", h.BIOSID},
		{"cpu_id", h.CPUID},
		{"disk_id", h.DiskID},
		{"mac_address", h.MACAddress},
	} {
		if kv[1] != "" {
			out = append(out, kv)
		}
	}
	return out
}

// HardwareHash is the deterministic SHA-256 of the normalized descriptor.
// Two descriptors differing only in case or whitespace hash identically.
func HardwareHash(info HardwareInfo) string {
	parts := make([]string, 0, 4)
	for _, kv := range info.Normalize().components() {
		parts = append(parts, kv[0]+"="+kv[1])
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// HardwareSimilarity returns the fraction of stored components that the
// presented descriptor reproduces, in [0, 1].
func HardwareSimilarity(stored, presented HardwareInfo) float64 {
	s := stored.Normalize()
	p := presented.Normalize()

	want := s.components()
	if len(want) == 0 {
		return 0
	}

	have := make(map[string]string, 4)
	for _, kv := range p.components() {
		have[kv[0]] = kv[1]
	}

	matches := 0
	for _, kv := range want {
		if have[kv[0]] == kv[1] {
			matches++
		}
	}
	return float64(matches) / float64(len(want))
}

func normalizeComponent(v string) string {
	return strings.ToLower(strings.Join(strings.Fields(v), ""))
}
