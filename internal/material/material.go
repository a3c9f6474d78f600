// Package material renders the daemon configuration artifacts from
// discovered parameters. Rendering is pure: the same inputs always produce
// byte-identical output, so re-materializing on every boot is safe.
package material

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Mode selects the bootstrap posture written into the I2P config.
type Mode int

const (
	// ModeGentle is the steady-state posture: high reseed-acceptance
	// threshold, larger exploratory tunnel pool.
	ModeGentle Mode = iota
	// ModeAggressive is the cold-start / forced-recovery posture: low
	// threshold, minimal tunnel pool, unverified reseed accepted.
	ModeAggressive
	// ModeMinimal is the last-resort posture after a failed recovery:
	// the router keeps only enough capability to serve the local proxy.
	ModeMinimal
)

func (m Mode) String() string {
	switch m {
	case ModeGentle:
		return "gentle"
	case ModeAggressive:
		return "aggressive"
	case ModeMinimal:
		return "minimal"
	default:
		return "unknown"
	}
}

// SelectMode implements the posture rule: gentle unless the route store's
// fresh-record count is below the minimum or a forced-reseed path was
// explicitly triggered.
func SelectMode(freshCount, freshMin int, forced bool) Mode {
	if forced || freshCount < freshMin {
		return ModeAggressive
	}
	return ModeGentle
}

// I2PParams carries everything the I2P daemon config depends on.
type I2PParams struct {
	Mode            Mode
	ReseedEndpoints string // comma-joined, from reseed.Join
	DataDir         string
	HTTPProxyPort   int
	ConsolePort     int
	SAMPort         int    // 0 disables the SAM bridge
	OpenFileCeiling uint64 // from rlimit.Result.Soft
	BandwidthKBps   int
	SharePercent    int
}

// TorParams carries the tor client config inputs.
type TorParams struct {
	SocksPort int
	DataDir   string
}

// per-mode bootstrap tuning, from operational experience with cold routers.
type posture struct {
	reseedThreshold int
	reseedVerify    bool
	exploratoryQty  int
	noTransit       bool
}

func postureFor(m Mode) posture {
	switch m {
	case ModeAggressive:
		return posture{reseedThreshold: 5, reseedVerify: false, exploratoryQty: 2}
	case ModeMinimal:
		return posture{reseedThreshold: 5, reseedVerify: false, exploratoryQty: 1, noTransit: true}
	default:
		return posture{reseedThreshold: 25, reseedVerify: true, exploratoryQty: 6}
	}
}

// RenderI2P produces the i2pd key-value configuration text.
func RenderI2P(p I2PParams) string {
	pos := postureFor(p.Mode)

	var b strings.Builder
	fmt.Fprintf(&b, "# generated by veild (%s mode); do not edit\n", p.Mode)
	fmt.Fprintf(&b, "datadir = %s\n", p.DataDir)
	b.WriteString("ipv4 = true\n")
	b.WriteString("ipv6 = false\n")
	fmt.Fprintf(&b, "notransit = %t\n", pos.noTransit)
	b.WriteString("floodfill = false\n")
	b.WriteString("nat = true\n")
	b.WriteString("\n")
	fmt.Fprintf(&b, "bandwidth = %d\n", p.BandwidthKBps)
	fmt.Fprintf(&b, "share = %d\n", p.SharePercent)
	fmt.Fprintf(&b, "limits.openfiles = %d\n", p.OpenFileCeiling)
	b.WriteString("\n")
	b.WriteString("httpproxy.enabled = true\n")
	b.WriteString("httpproxy.address = 127.0.0.1\n")
	fmt.Fprintf(&b, "httpproxy.port = %d\n", p.HTTPProxyPort)
	b.WriteString("\n")
	b.WriteString("http.enabled = true\n")
	b.WriteString("http.address = 127.0.0.1\n")
	fmt.Fprintf(&b, "http.port = %d\n", p.ConsolePort)
	b.WriteString("\n")
	if p.SAMPort > 0 {
		b.WriteString("sam.enabled = true\n")
		fmt.Fprintf(&b, "sam.port = %d\n", p.SAMPort)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "reseed.verify = %t\n", pos.reseedVerify)
	fmt.Fprintf(&b, "reseed.threshold = %d\n", pos.reseedThreshold)
	fmt.Fprintf(&b, "reseed.urls = %s\n", p.ReseedEndpoints)
	b.WriteString("\n")
	fmt.Fprintf(&b, "exploratory.inbound.quantity = %d\n", pos.exploratoryQty)
	fmt.Fprintf(&b, "exploratory.outbound.quantity = %d\n", pos.exploratoryQty)
	return b.String()
}

// RenderTor produces the torrc text.
func RenderTor(p TorParams) string {
	var b strings.Builder
	b.WriteString("# generated by veild; do not edit\n")
	fmt.Fprintf(&b, "SocksPort 127.0.0.1:%d\n", p.SocksPort)
	fmt.Fprintf(&b, "DataDirectory %s\n", p.DataDir)
	b.WriteString("ClientOnly 1\n")
	b.WriteString("AvoidDiskWrites 1\n")
	b.WriteString("Log notice stderr\n")
	return b.String()
}

// WriteArtifact writes content to path, creating parent directories.
// Re-invoking with identical content yields a byte-identical file.
func WriteArtifact(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o640)
}
