//go:build rpi

// This file is built only for a Raspberry Pi with an nRF24 on spidev.
package nrfmesh

import (
	"fmt"

	"github.com/ystepanoff/nrfmesh/driver/rf24"
	"github.com/ystepanoff/nrfmesh/driver/spidev"
	"github.com/ystepanoff/nrfmesh/network"
)

var _ network.RadioDriver = (*rf24.Radio)(nil)

// NewNode opens the SPI bus named in cfg and builds a node on it. Zero
// hardware fields fall back to spidev.DefaultConfig.
func NewNode(cfg Config) (*Node, error) {
	busCfg := spidev.DefaultConfig()
	if cfg.SPIDevice != "" {
		busCfg.Device = cfg.SPIDevice
	}
	if cfg.CEPin != 0 {
		busCfg.CEPin = cfg.CEPin
	}
	bus, err := spidev.Open(busCfg)
	if err != nil {
		return nil, fmt.Errorf("nrfmesh: %w", err)
	}
	return newNode(rf24.New(bus, cfg.Logger), bus, cfg), nil
}
