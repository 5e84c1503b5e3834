package protocol

import "fmt"

// DataRate is the on-air bit rate of the transceiver.
type DataRate uint8

const (
	DataRate1Mbps DataRate = iota
	DataRate2Mbps
	DataRate250Kbps
)

func (r DataRate) String() string {
	switch r {
	case DataRate1Mbps:
		return "1Mbps"
	case DataRate2Mbps:
		return "2Mbps"
	case DataRate250Kbps:
		return "250Kbps"
	}
	return fmt.Sprintf("DataRate(%d)", uint8(r))
}

// PALevel is the transmit power amplifier setting.
type PALevel uint8

const (
	PAMin PALevel = iota // -18dBm
	PALow                // -12dBm
	PAHigh               // -6dBm
	PAMax                // 0dBm
	PAError
)

func (l PALevel) String() string {
	switch l {
	case PAMin:
		return "min"
	case PALow:
		return "low"
	case PAHigh:
		return "high"
	case PAMax:
		return "max"
	}
	return "error"
}

// CRCLength is the size of the hardware CRC appended to each packet.
type CRCLength uint8

const (
	CRCDisabled CRCLength = iota
	CRC8
	CRC16
)

func (c CRCLength) String() string {
	switch c {
	case CRC8:
		return "8 bits"
	case CRC16:
		return "16 bits"
	}
	return "disabled"
}
