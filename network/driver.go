package network

import (
	"time"

	proto "github.com/ystepanoff/nrfmesh/protocol"
)

// RadioDriver is the interface that wraps the transceiver operations the
// network layer needs. It is satisfied by *rf24.Radio and *stub.Radio.
type RadioDriver interface {
	Begin() error
	StartListening() error
	StopListening() error
	Available() (pipe uint8, ok bool, err error)
	DynamicPayloadSize() (int, error)
	Read(buf []byte) (int, error)
	Write(buf []byte, multicast bool) (bool, error)
	WriteFast(buf []byte, multicast bool) (bool, error)
	TxStandBy(timeout time.Duration) (bool, error)
	OpenWritingPipe(addr []byte) error
	OpenReadingPipe(pipe uint8, addr []byte) error
	SetAutoAckPipe(pipe uint8, enable bool) error
	SetChannel(ch uint8) error
	SetDataRate(rate proto.DataRate) (bool, error)
	SetRetries(delay, count uint8) error
	EnableDynamicPayloads() error
	EnableDynamicAck() error
	RxFifoFull() (bool, error)
	IsConnected() (bool, error)
}
