package uploader

import (
	"fmt"

	"github.com/librescoot/fwupload/pkg/protocol"
)

// progressMeter tracks every byte transmitted or awaited as part of a
// session -- the size field, the payload, the CRC command byte, the CRC
// value, and the terminal response -- and reports percentage against that
// total, N + 14 bytes for an image of N bytes (4 size + 1 CRC command +
// 4 CRC value + 5 terminal response), so the bar reaches 100% exactly at
// session completion instead of clamping early.
type progressMeter struct {
	total       int
	transmitted int
}

func newProgressMeter(imageLen int) *progressMeter {
	total := imageLen + protocol.SizeFieldLen + 1 + protocol.CRCFieldLen + protocol.TerminalResponseLen
	return &progressMeter{total: total}
}

func (p *progressMeter) add(n int) {
	p.transmitted += n
}

func (p *progressMeter) percent() int {
	if p.total <= 0 {
		return 100
	}
	pct := p.transmitted * 100 / p.total
	if pct > 100 {
		pct = 100
	}
	return pct
}

// bar renders a fixed-width text progress bar, used when verbose logging is
// off (spec §4.2: "a live progress bar is drawn").
func (p *progressMeter) bar() string {
	const width = 30
	filled := width * p.percent() / 100
	b := make([]byte, width)
	for i := range b {
		if i < filled {
			b[i] = '='
		} else {
			b[i] = ' '
		}
	}
	return fmt.Sprintf("[%s] %3d%%", string(b), p.percent())
}
