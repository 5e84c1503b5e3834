// Package rf24 drives an nRF24L01(+) transceiver over an SPI bus.
package rf24

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	proto "github.com/ystepanoff/nrfmesh/protocol"
)

// Bus is the physical link to the chip: a full-duplex SPI transfer plus
// the chip-enable line.
type Bus interface {
	Transfer(tx, rx []byte) error
	SetCE(high bool) error
	Close() error
}

// ErrInvalidPipe is returned for pipe numbers outside 0-5.
var ErrInvalidPipe = errors.New("rf24: pipe out of range (0-5)")

const attemptTimeout = 95 * time.Millisecond

// Radio is a register-level nRF24L01(+) driver. All methods are safe for
// concurrent use; each call holds the bus for its whole register sequence.
type Radio struct {
	mu  sync.Mutex
	bus Bus
	log *slog.Logger

	pVariant        bool
	payloadSize     uint8
	addrWidth       uint8
	dynamicPayloads bool
	ackPayloads     bool
	pipe0Reading    []byte
	txDelay         time.Duration
	failureDetected bool
}

func New(bus Bus, logger *slog.Logger) *Radio {
	if logger == nil {
		logger = slog.Default()
	}
	return &Radio{
		bus:         bus,
		log:         logger.With("component", "rf24"),
		payloadSize: maxPayloadSize,
		addrWidth:   5,
		txDelay:     250 * time.Microsecond,
	}
}

// Begin resets the chip into a known state: CRC16, 1500µs/5 auto retries,
// 1Mbps, channel 76, static payloads, empty FIFOs, powered up in standby.
// It returns proto.ErrHardwareUnresponsive if the chip does not answer.
func (r *Radio) Begin() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ce(false); err != nil {
		return err
	}
	time.Sleep(5 * time.Millisecond)

	if err := r.writeRegister(regConfig, bitEnCRC|bitCRCO); err != nil {
		return err
	}
	if err := r.setRetries(5, 5); err != nil {
		return err
	}

	// Only the plus variant supports 250Kbps
	ok, err := r.setDataRate(proto.DataRate250Kbps)
	if err != nil {
		return err
	}
	r.pVariant = ok
	setup, err := r.readRegister(regRFSetup)
	if err != nil {
		return err
	}
	if _, err := r.setDataRate(proto.DataRate1Mbps); err != nil {
		return err
	}

	if err := r.toggleFeatures(); err != nil {
		return err
	}
	if err := r.writeRegister(regFeature, 0); err != nil {
		return err
	}
	if err := r.writeRegister(regDynPD, 0); err != nil {
		return err
	}
	r.dynamicPayloads = false
	r.ackPayloads = false

	if err := r.writeRegister(regStatus, statusIRQ); err != nil {
		return err
	}
	if err := r.setChannel(proto.DefaultChannel); err != nil {
		return err
	}
	if _, err := r.command(cmdFlushRx); err != nil {
		return err
	}
	if _, err := r.command(cmdFlushTx); err != nil {
		return err
	}
	if err := r.powerUp(); err != nil {
		return err
	}
	if err := r.updateRegister(regConfig, bitPrimRx, false); err != nil {
		return err
	}

	if setup == 0 || setup == 0xFF {
		r.log.Error("radio not responding", "rf_setup", setup)
		return proto.ErrHardwareUnresponsive
	}
	r.log.Debug("radio initialised", "plus", r.pVariant)
	return nil
}

func (r *Radio) StartListening() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.powerUp(); err != nil {
		return err
	}
	if err := r.updateRegister(regConfig, bitPrimRx, true); err != nil {
		return err
	}
	if err := r.writeRegister(regStatus, statusIRQ); err != nil {
		return err
	}
	if err := r.ce(true); err != nil {
		return err
	}
	// Opening a writing pipe clobbers pipe 0
	if len(r.pipe0Reading) > 0 {
		if err := r.writeRegisterN(regRxAddrP0, r.pipe0Reading); err != nil {
			return err
		}
	} else if err := r.updateRegister(regEnRxAddr, 1, false); err != nil {
		return err
	}
	if r.ackPayloads {
		if _, err := r.command(cmdFlushTx); err != nil {
			return err
		}
	}
	return nil
}

func (r *Radio) StopListening() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ce(false); err != nil {
		return err
	}
	time.Sleep(r.txDelay)
	if r.ackPayloads {
		time.Sleep(r.txDelay)
		if _, err := r.command(cmdFlushTx); err != nil {
			return err
		}
	}
	if err := r.updateRegister(regConfig, bitPrimRx, false); err != nil {
		return err
	}
	return r.updateRegister(regEnRxAddr, 1, true)
}

// Available reports whether a payload is waiting and on which pipe.
func (r *Radio) Available() (uint8, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fifo, err := r.readRegister(regFIFOStatus)
	if err != nil {
		return 0, false, err
	}
	if fifo&bitFIFORxEmpty != 0 {
		return 0, false, nil
	}
	status, err := r.command(cmdNOP)
	if err != nil {
		return 0, false, err
	}
	return (status >> 1) & 0x07, true, nil
}

// DynamicPayloadSize returns the width of the payload at the head of the
// RX FIFO. Corrupt widths flush the FIFO and report 0.
func (r *Radio) DynamicPayloadSize() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rx, err := r.transfer([]byte{cmdRRxPlWid, cmdNOP})
	if err != nil {
		return 0, err
	}
	if rx[1] > maxPayloadSize {
		if _, err := r.command(cmdFlushRx); err != nil {
			return 0, err
		}
		time.Sleep(2 * time.Millisecond)
		return 0, nil
	}
	return int(rx[1]), nil
}

// Read pops the head of the RX FIFO into buf and clears the interrupt flags.
func (r *Radio) Read(buf []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.readPayload(buf)
	if err != nil {
		return 0, err
	}
	if err := r.writeRegister(regStatus, statusIRQ); err != nil {
		return 0, err
	}
	return n, nil
}

// Write transmits buf and blocks until it is acknowledged, the hardware
// gives up retrying, or the attempt times out.
func (r *Radio) Write(buf []byte, multicast bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.startFastWrite(buf, multicast); err != nil {
		return false, err
	}

	deadline := time.Now().Add(attemptTimeout)
	var status byte
	for {
		var err error
		status, err = r.command(cmdNOP)
		if err != nil {
			return false, err
		}
		if status&(bitTxDS|bitMaxRT) != 0 {
			break
		}
		if time.Now().After(deadline) {
			r.failureDetected = true
			r.log.Error("write timed out, check wiring")
			return false, r.ce(false)
		}
		time.Sleep(20 * time.Microsecond)
	}

	if err := r.ce(false); err != nil {
		return false, err
	}
	if err := r.writeRegister(regStatus, statusIRQ); err != nil {
		return false, err
	}
	if status&bitMaxRT != 0 {
		if _, err := r.command(cmdFlushTx); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// WriteFast queues buf for transmission and leaves CE asserted. It only
// blocks while the TX FIFO is full, and fails if a previous payload hit
// the retry limit.
func (r *Radio) WriteFast(buf []byte, multicast bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deadline := time.Now().Add(attemptTimeout)
	for {
		status, err := r.command(cmdNOP)
		if err != nil {
			return false, err
		}
		if status&bitTxFull == 0 {
			break
		}
		if status&bitMaxRT != 0 {
			if err := r.writeRegister(regStatus, bitMaxRT); err != nil {
				return false, err
			}
			return false, nil
		}
		if time.Now().After(deadline) {
			r.failureDetected = true
			r.log.Error("fast write timed out, check wiring")
			return false, nil
		}
		time.Sleep(20 * time.Microsecond)
	}

	if err := r.startFastWrite(buf, multicast); err != nil {
		return false, err
	}
	return true, nil
}

// TxStandBy waits for the TX FIFO to drain and drops CE. Payloads that hit
// the retry limit are retried until timeout elapses, then flushed.
func (r *Radio) TxStandBy(timeout time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	for {
		fifo, err := r.readRegister(regFIFOStatus)
		if err != nil {
			return false, err
		}
		if fifo&bitFIFOTxEmpty != 0 {
			break
		}

		status, err := r.command(cmdNOP)
		if err != nil {
			return false, err
		}
		if status&bitMaxRT != 0 {
			if err := r.writeRegister(regStatus, bitMaxRT); err != nil {
				return false, err
			}
			if err := r.ce(false); err != nil {
				return false, err
			}
			if err := r.ce(true); err != nil {
				return false, err
			}
			if time.Since(start) >= timeout {
				if err := r.ce(false); err != nil {
					return false, err
				}
				if _, err := r.command(cmdFlushTx); err != nil {
					return false, err
				}
				return false, nil
			}
		}
		if time.Since(start) > timeout+attemptTimeout {
			r.failureDetected = true
			r.log.Error("standby timed out, check wiring")
			return false, nil
		}
		time.Sleep(20 * time.Microsecond)
	}

	if err := r.ce(false); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Radio) OpenWritingPipe(addr []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a := r.clipAddress(addr)
	if err := r.writeRegisterN(regRxAddrP0, a); err != nil {
		return err
	}
	if err := r.writeRegisterN(regTxAddr, a); err != nil {
		return err
	}
	return r.writeRegister(regRxPwP0, r.payloadSize)
}

// OpenReadingPipe enables pipe with addr. Pipes 2-5 share bytes 1-4 with
// pipe 1 so only the first byte of addr is written for them.
func (r *Radio) OpenReadingPipe(pipe uint8, addr []byte) error {
	if pipe >= maxPipes {
		return ErrInvalidPipe
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	a := r.clipAddress(addr)
	if pipe == 0 {
		r.pipe0Reading = append(r.pipe0Reading[:0], a...)
	}
	if pipe < 2 {
		if err := r.writeRegisterN(regRxAddrP0+pipe, a); err != nil {
			return err
		}
	} else if err := r.writeRegister(regRxAddrP0+pipe, a[0]); err != nil {
		return err
	}
	if err := r.writeRegister(regRxPwP0+pipe, r.payloadSize); err != nil {
		return err
	}
	return r.updateRegister(regEnRxAddr, 1<<pipe, true)
}

func (r *Radio) CloseReadingPipe(pipe uint8) error {
	if pipe >= maxPipes {
		return ErrInvalidPipe
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updateRegister(regEnRxAddr, 1<<pipe, false)
}

func (r *Radio) SetChannel(ch uint8) error {
	if ch > proto.MaxChannel {
		return proto.ErrInvalidChannel
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setChannel(ch)
}

func (r *Radio) Channel() (uint8, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readRegister(regRFCh)
}

// SetDataRate reports whether the chip accepted the new rate.
func (r *Radio) SetDataRate(rate proto.DataRate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setDataRate(rate)
}

func (r *Radio) DataRate() (proto.DataRate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	setup, err := r.readRegister(regRFSetup)
	if err != nil {
		return 0, err
	}
	switch setup & (bitRFDRLow | bitRFDRHigh) {
	case bitRFDRLow:
		return proto.DataRate250Kbps, nil
	case bitRFDRHigh:
		return proto.DataRate2Mbps, nil
	}
	return proto.DataRate1Mbps, nil
}

func (r *Radio) SetPALevel(level proto.PALevel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	setup, err := r.readRegister(regRFSetup)
	if err != nil {
		return err
	}
	setup &= 0xF8
	if level > proto.PAMax {
		level = proto.PAMax
	}
	setup |= byte(level)<<1 | bitLNAHCurr
	return r.writeRegister(regRFSetup, setup)
}

func (r *Radio) PALevel() (proto.PALevel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	setup, err := r.readRegister(regRFSetup)
	if err != nil {
		return proto.PAError, err
	}
	return proto.PALevel((setup & (bitRFPwrLow | bitRFPwrHigh)) >> 1), nil
}

func (r *Radio) SetCRCLength(length proto.CRCLength) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	config, err := r.readRegister(regConfig)
	if err != nil {
		return err
	}
	config &^= bitEnCRC | bitCRCO
	switch length {
	case proto.CRC8:
		config |= bitEnCRC
	case proto.CRC16:
		config |= bitEnCRC | bitCRCO
	}
	return r.writeRegister(regConfig, config)
}

func (r *Radio) DisableCRC() error { return r.SetCRCLength(proto.CRCDisabled) }

// CRCLength reports the active CRC. Auto-ack forces CRC on even if EN_CRC is clear.
func (r *Radio) CRCLength() (proto.CRCLength, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	config, err := r.readRegister(regConfig)
	if err != nil {
		return proto.CRCDisabled, err
	}
	aa, err := r.readRegister(regEnAA)
	if err != nil {
		return proto.CRCDisabled, err
	}
	if config&bitEnCRC == 0 && aa == 0 {
		return proto.CRCDisabled, nil
	}
	if config&bitCRCO != 0 {
		return proto.CRC16, nil
	}
	return proto.CRC8, nil
}

// SetRetries sets the auto-retransmit delay ((delay+1)*250µs) and count, both 0-15.
func (r *Radio) SetRetries(delay, count uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setRetries(delay, count)
}

func (r *Radio) SetAutoAck(enable bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var v byte
	if enable {
		v = allPipes
	}
	return r.writeRegister(regEnAA, v)
}

func (r *Radio) SetAutoAckPipe(pipe uint8, enable bool) error {
	if pipe >= maxPipes {
		return ErrInvalidPipe
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updateRegister(regEnAA, 1<<pipe, enable)
}

func (r *Radio) EnableDynamicPayloads() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.setFeature(bitEnDPL, true); err != nil {
		return err
	}
	if err := r.writeRegister(regDynPD, allPipes); err != nil {
		return err
	}
	r.dynamicPayloads = true
	return nil
}

func (r *Radio) DisableDynamicPayloads() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.writeRegister(regFeature, 0); err != nil {
		return err
	}
	if err := r.writeRegister(regDynPD, 0); err != nil {
		return err
	}
	r.dynamicPayloads = false
	r.ackPayloads = false
	return nil
}

// EnableDynamicAck allows per-payload NO_ACK writes (multicast).
func (r *Radio) EnableDynamicAck() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setFeature(bitEnDynAck, true)
}

func (r *Radio) EnableAckPayload() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.setFeature(bitEnAckPay|bitEnDPL, true); err != nil {
		return err
	}
	if err := r.updateRegister(regDynPD, 0x03, true); err != nil {
		return err
	}
	r.dynamicPayloads = true
	r.ackPayloads = true
	return nil
}

func (r *Radio) SetPayloadSize(size uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloadSize = min(size, maxPayloadSize)
}

func (r *Radio) PayloadSize() uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.payloadSize
}

// SetAddressWidth sets the on-air address width (3-5 bytes).
func (r *Radio) SetAddressWidth(width uint8) error {
	width = max(3, min(width, 5))
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.writeRegister(regSetupAW, width-2); err != nil {
		return err
	}
	r.addrWidth = width
	return nil
}

func (r *Radio) PowerUp() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.powerUp()
}

func (r *Radio) PowerDown() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ce(false); err != nil {
		return err
	}
	return r.updateRegister(regConfig, bitPwrUp, false)
}

func (r *Radio) RxFifoFull() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fifo, err := r.readRegister(regFIFOStatus)
	if err != nil {
		return false, err
	}
	return fifo&bitFIFORxFull != 0, nil
}

// TestRPD reports whether a carrier above -64dBm was present during the
// last receive.
func (r *Radio) TestRPD() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, err := r.readRegister(regRPD)
	if err != nil {
		return false, err
	}
	return v&1 != 0, nil
}

// IsConnected checks SETUP_AW for a sane value as a wiring probe.
func (r *Radio) IsConnected() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	aw, err := r.readRegister(regSetupAW)
	if err != nil {
		return false, err
	}
	return aw >= 1 && aw <= 3, nil
}

func (r *Radio) IsPVariant() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pVariant
}

// FailureDetected is set when a transmit attempt timed out without any
// status from the chip.
func (r *Radio) FailureDetected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failureDetected
}

func (r *Radio) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return errors.Join(r.ce(false), r.bus.Close())
}

// Register helpers below assume r.mu is held.

func (r *Radio) transfer(tx []byte) ([]byte, error) {
	rx := make([]byte, len(tx))
	if err := r.bus.Transfer(tx, rx); err != nil {
		return nil, fmt.Errorf("rf24: spi transfer 0x%02x: %w", tx[0], err)
	}
	return rx, nil
}

func (r *Radio) command(cmd byte) (byte, error) {
	rx, err := r.transfer([]byte{cmd})
	if err != nil {
		return 0, err
	}
	return rx[0], nil
}

func (r *Radio) readRegister(reg byte) (byte, error) {
	rx, err := r.transfer([]byte{cmdRRegister | reg&registerMask, cmdNOP})
	if err != nil {
		return 0, err
	}
	return rx[1], nil
}

func (r *Radio) writeRegister(reg, v byte) error {
	_, err := r.transfer([]byte{cmdWRegister | reg&registerMask, v})
	return err
}

func (r *Radio) writeRegisterN(reg byte, v []byte) error {
	tx := make([]byte, 1+len(v))
	tx[0] = cmdWRegister | reg&registerMask
	copy(tx[1:], v)
	_, err := r.transfer(tx)
	return err
}

// updateRegister sets or clears mask in reg with a read-modify-write.
func (r *Radio) updateRegister(reg, mask byte, set bool) error {
	v, err := r.readRegister(reg)
	if err != nil {
		return err
	}
	if set {
		v |= mask
	} else {
		v &^= mask
	}
	return r.writeRegister(reg, v)
}

func (r *Radio) ce(high bool) error {
	if err := r.bus.SetCE(high); err != nil {
		return fmt.Errorf("rf24: chip enable: %w", err)
	}
	return nil
}

func (r *Radio) powerUp() error {
	config, err := r.readRegister(regConfig)
	if err != nil {
		return err
	}
	if config&bitPwrUp != 0 {
		return nil
	}
	if err := r.writeRegister(regConfig, config|bitPwrUp); err != nil {
		return err
	}
	// Tpd2stby
	time.Sleep(5 * time.Millisecond)
	return nil
}

func (r *Radio) setChannel(ch uint8) error {
	return r.writeRegister(regRFCh, min(ch, proto.MaxChannel))
}

func (r *Radio) setRetries(delay, count uint8) error {
	return r.writeRegister(regSetupRetr, (delay&0x0F)<<4|count&0x0F)
}

func (r *Radio) setDataRate(rate proto.DataRate) (bool, error) {
	setup, err := r.readRegister(regRFSetup)
	if err != nil {
		return false, err
	}
	setup &^= bitRFDRLow | bitRFDRHigh
	switch rate {
	case proto.DataRate250Kbps:
		setup |= bitRFDRLow
		r.txDelay = 450 * time.Microsecond
	case proto.DataRate2Mbps:
		setup |= bitRFDRHigh
		r.txDelay = 190 * time.Microsecond
	default:
		r.txDelay = 250 * time.Microsecond
	}
	if err := r.writeRegister(regRFSetup, setup); err != nil {
		return false, err
	}
	got, err := r.readRegister(regRFSetup)
	if err != nil {
		return false, err
	}
	return got == setup, nil
}

// toggleFeatures unlocks FEATURE/DYNPD on non-plus chips.
func (r *Radio) toggleFeatures() error {
	_, err := r.transfer([]byte{cmdActivate, 0x73})
	return err
}

func (r *Radio) setFeature(mask byte, set bool) error {
	if err := r.updateRegister(regFeature, mask, set); err != nil {
		return err
	}
	v, err := r.readRegister(regFeature)
	if err != nil {
		return err
	}
	if set && v&mask == 0 {
		// Locked: activate and retry once.
		if err := r.toggleFeatures(); err != nil {
			return err
		}
		return r.updateRegister(regFeature, mask, set)
	}
	return nil
}

func (r *Radio) clipAddress(addr []byte) []byte {
	if len(addr) > int(r.addrWidth) {
		return addr[:r.addrWidth]
	}
	return addr
}

func (r *Radio) readPayload(buf []byte) (int, error) {
	n := min(len(buf), int(r.payloadSize))
	blank := 0
	if !r.dynamicPayloads {
		blank = int(r.payloadSize) - n
	}
	tx := make([]byte, 1+n+blank)
	tx[0] = cmdRRxPayload
	for i := 1; i < len(tx); i++ {
		tx[i] = cmdNOP
	}
	rx, err := r.transfer(tx)
	if err != nil {
		return 0, err
	}
	copy(buf, rx[1:1+n])
	return n, nil
}

func (r *Radio) writePayload(buf []byte, cmd byte) error {
	n := min(len(buf), int(r.payloadSize))
	blank := 0
	if !r.dynamicPayloads {
		blank = int(r.payloadSize) - n
	}
	tx := make([]byte, 1+n+blank)
	tx[0] = cmd
	copy(tx[1:], buf[:n])
	_, err := r.transfer(tx)
	return err
}

func (r *Radio) startFastWrite(buf []byte, multicast bool) error {
	cmd := byte(cmdWTxPayload)
	if multicast {
		cmd = cmdWTxPayloadNoAck
	}
	if err := r.writePayload(buf, cmd); err != nil {
		return err
	}
	return r.ce(true)
}
