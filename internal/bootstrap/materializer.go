package bootstrap

import (
	"github.com/hollowtree/veild/internal/material"
)

// Materializer writes the daemon configuration artifacts the orchestrator
// needs before launching each proxy. ApplyLimits feeds the effective
// file-descriptor ceiling into the i2p config before it is written.
type Materializer interface {
	ApplyLimits(softCeiling uint64)
	WriteTor() error
	WriteI2P(mode material.Mode, endpoints string) error
}

// ArtifactWriter renders and writes torrc and i2pd.conf from fixed
// parameters, with mode and reseed endpoints supplied per call.
type ArtifactWriter struct {
	TorPath string
	I2PPath string
	Tor     material.TorParams
	I2P     material.I2PParams
}

func (w *ArtifactWriter) ApplyLimits(softCeiling uint64) {
	w.I2P.OpenFileCeiling = softCeiling
}

func (w *ArtifactWriter) WriteTor() error {
	return material.WriteArtifact(w.TorPath, material.RenderTor(w.Tor))
}

func (w *ArtifactWriter) WriteI2P(mode material.Mode, endpoints string) error {
	p := w.I2P
	p.Mode = mode
	p.ReseedEndpoints = endpoints
	return material.WriteArtifact(w.I2PPath, material.RenderI2P(p))
}
