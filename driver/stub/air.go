// Package stub simulates nRF24 radios sharing one channel space in memory.
// Radios created from the same Air hear each other by pipe address, with
// hardware auto-ack and an on-air CRC check.
package stub

import (
	"bytes"
	"log/slog"
	"sync"

	"github.com/sigurn/crc8"
)

// Air is the shared medium. All radio state is guarded by its mutex so
// nodes may run on separate goroutines.
type Air struct {
	mu     sync.Mutex
	radios []*Radio
	table  *crc8.Table
	log    *slog.Logger
}

func NewAir(logger *slog.Logger) *Air {
	if logger == nil {
		logger = slog.Default()
	}
	return &Air{
		table: crc8.MakeTable(crc8.CRC8_MAXIM),
		log:   logger.With("component", "stub"),
	}
}

// NewRadio attaches a powered down radio with the chip's reset defaults.
func (a *Air) NewRadio() *Radio {
	a.mu.Lock()
	defer a.mu.Unlock()
	r := &Radio{
		air:     a,
		id:      len(a.radios),
		channel: 76,
		autoAck: [6]bool{true, true, true, true, true, true},
	}
	a.radios = append(a.radios, r)
	return r
}

// transmit puts raw on air from src and reports whether a receiver
// acknowledged it. Multicast frames count as sent once they leave src.
// Called with a.mu held.
func (a *Air) transmit(src *Radio, raw []byte, multicast bool) bool {
	onAir := make([]byte, len(raw)+1)
	copy(onAir, raw)
	onAir[len(raw)] = crc8.Checksum(raw, a.table)
	if src.corruptNext {
		onAir[0] ^= 0x01
		src.corruptNext = false
	}
	src.txLog.push(append([]byte(nil), raw...))

	acked := false
	for _, r := range a.radios {
		if r == src || r.channel != src.channel || !r.powered || r.dead {
			continue
		}
		pipe, ok := r.matchPipe(src.txAddr)
		if !ok {
			continue
		}
		body := onAir[:len(onAir)-1]
		if crc8.Checksum(body, a.table) != onAir[len(onAir)-1] {
			a.log.Debug("crc mismatch, frame dropped", "radio", r.id, "pipe", pipe)
			continue
		}
		if r.rx.full() {
			continue
		}
		r.rx.push(append([]byte{pipe}, body...))
		if r.autoAck[pipe] {
			acked = true
		}
	}
	return multicast || acked
}

func (r *Radio) matchPipe(addr []byte) (uint8, bool) {
	for p := uint8(0); p < 6; p++ {
		if r.pipes[p] != nil && bytes.Equal(r.pipes[p], addr) {
			return p, true
		}
	}
	return 0, false
}
