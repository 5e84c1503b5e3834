//go:build rpi

// Package spidev connects the rf24 driver to a Linux spidev device, with
// the chip-enable line driven through wiringPi.
package spidev

import (
	"fmt"

	"github.com/cyoung/rpi"
	"golang.org/x/exp/io/spi"
)

type Config struct {
	Device   string // e.g. /dev/spidev0.0
	MaxSpeed int64  // Hz
	CEPin    int    // wiringPi pin number
}

// DefaultConfig matches the usual Raspberry Pi wiring: SPI0 CE0 for chip
// select and BCM22 (wiringPi 3) for chip enable.
func DefaultConfig() Config {
	return Config{
		Device:   "/dev/spidev0.0",
		MaxSpeed: 8000000,
		CEPin:    rpi.PIN_GPIO_3,
	}
}

// Bus implements rf24.Bus.
type Bus struct {
	dev   *spi.Device
	cePin int
}

func Open(cfg Config) (*Bus, error) {
	rpi.WiringPiSetup()
	rpi.PinMode(cfg.CEPin, rpi.OUTPUT)
	rpi.DigitalWrite(cfg.CEPin, rpi.LOW)

	dev, err := spi.Open(&spi.Devfs{
		Dev:      cfg.Device,
		Mode:     spi.Mode0,
		MaxSpeed: cfg.MaxSpeed,
	})
	if err != nil {
		return nil, fmt.Errorf("spidev: open %s: %w", cfg.Device, err)
	}
	if err := dev.SetBitsPerWord(8); err != nil {
		dev.Close()
		return nil, fmt.Errorf("spidev: bits per word: %w", err)
	}
	if err := dev.SetBitOrder(spi.MSBFirst); err != nil {
		dev.Close()
		return nil, fmt.Errorf("spidev: bit order: %w", err)
	}
	return &Bus{dev: dev, cePin: cfg.CEPin}, nil
}

func (b *Bus) Transfer(tx, rx []byte) error { return b.dev.Tx(tx, rx) }

func (b *Bus) SetCE(high bool) error {
	if high {
		rpi.DigitalWrite(b.cePin, rpi.HIGH)
	} else {
		rpi.DigitalWrite(b.cePin, rpi.LOW)
	}
	return nil
}

func (b *Bus) Close() error {
	rpi.DigitalWrite(b.cePin, rpi.LOW)
	return b.dev.Close()
}
