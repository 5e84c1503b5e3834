package protocol

import (
	"encoding/binary"
	"math"
)

// Payload type tags carried in Header.Type by application frames.
const (
	TagBigSensor    = 'F'
	TagBigSensorAlt = 'T'
	TagSmallSensor  = 'G'
	TagCommand      = 'C'
)

const (
	BigSensorSize   = 24
	SmallSensorSize = 19
	CommandSize     = 12
)

// Payload is one of the fixed application record schemas. The concrete
// variants are *BigSensor, *SmallSensor, *Command and *Opaque.
type Payload interface {
	Tag() byte
	Size() int
	MarshalBinary() ([]byte, error)
	UnmarshalBinary(data []byte) error
}

// DecodePayload picks the payload variant for tag and decodes data into it.
// Unknown tags decode to *Opaque.
func DecodePayload(tag byte, data []byte) (Payload, error) {
	var p Payload
	switch tag {
	case TagBigSensor, TagBigSensorAlt:
		p = &BigSensor{Kind: tag}
	case TagSmallSensor:
		p = &SmallSensor{}
	case TagCommand:
		p = &Command{}
	default:
		p = &Opaque{Kind: tag}
	}
	if err := p.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return p, nil
}

// BigSensor is the 24-byte sensor record.
type BigSensor struct {
	Kind            byte `json:"-"`
	NodeID          uint32
	Status          byte
	HardwareID      [3]byte
	Temperature     float32
	Power           byte
	Current         byte
	StateCharge     byte
	RemainingCharge byte
	Humidity        byte
	AirQuality      byte
	Lux             byte
	Pressure        byte
	ErrorCount      byte
	Info            [3]byte
}

func (p *BigSensor) Tag() byte {
	if p.Kind == 0 {
		return TagBigSensor
	}
	return p.Kind
}

func (p *BigSensor) Size() int { return BigSensorSize }

func (p *BigSensor) MarshalBinary() ([]byte, error) {
	b := make([]byte, BigSensorSize)
	binary.LittleEndian.PutUint32(b[0:4], p.NodeID)
	b[4] = p.Status
	copy(b[5:8], p.HardwareID[:])
	binary.LittleEndian.PutUint32(b[8:12], math.Float32bits(p.Temperature))
	b[12] = p.Power
	b[13] = p.Current
	b[14] = p.StateCharge
	b[15] = p.RemainingCharge
	b[16] = p.Humidity
	b[17] = p.AirQuality
	b[18] = p.Lux
	b[19] = p.Pressure
	b[20] = p.ErrorCount
	copy(b[21:24], p.Info[:])
	return b, nil
}

func (p *BigSensor) UnmarshalBinary(b []byte) error {
	if len(b) < BigSensorSize {
		return ErrShortPayload
	}
	p.NodeID = binary.LittleEndian.Uint32(b[0:4])
	p.Status = b[4]
	copy(p.HardwareID[:], b[5:8])
	p.Temperature = math.Float32frombits(binary.LittleEndian.Uint32(b[8:12]))
	p.Power = b[12]
	p.Current = b[13]
	p.StateCharge = b[14]
	p.RemainingCharge = b[15]
	p.Humidity = b[16]
	p.AirQuality = b[17]
	p.Lux = b[18]
	p.Pressure = b[19]
	p.ErrorCount = b[20]
	copy(p.Info[:], b[21:24])
	return nil
}

// SmallSensor is the 19-byte sensor record used by battery nodes.
type SmallSensor struct {
	NodeID      uint32
	Status      byte
	HardwareID  [3]byte
	Temperature uint16
	Power       uint16
	Humidity    byte
	AirQuality  byte
	Lux         byte
	ErrorCount  byte
	Info        [3]byte
}

func (p *SmallSensor) Tag() byte { return TagSmallSensor }
func (p *SmallSensor) Size() int { return SmallSensorSize }

func (p *SmallSensor) MarshalBinary() ([]byte, error) {
	b := make([]byte, SmallSensorSize)
	binary.LittleEndian.PutUint32(b[0:4], p.NodeID)
	b[4] = p.Status
	copy(b[5:8], p.HardwareID[:])
	binary.LittleEndian.PutUint16(b[8:10], p.Temperature)
	binary.LittleEndian.PutUint16(b[10:12], p.Power)
	b[12] = p.Humidity
	b[13] = p.AirQuality
	b[14] = p.Lux
	b[15] = p.ErrorCount
	copy(b[16:19], p.Info[:])
	return b, nil
}

func (p *SmallSensor) UnmarshalBinary(b []byte) error {
	if len(b) < SmallSensorSize {
		return ErrShortPayload
	}
	p.NodeID = binary.LittleEndian.Uint32(b[0:4])
	p.Status = b[4]
	copy(p.HardwareID[:], b[5:8])
	p.Temperature = binary.LittleEndian.Uint16(b[8:10])
	p.Power = binary.LittleEndian.Uint16(b[10:12])
	p.Humidity = b[12]
	p.AirQuality = b[13]
	p.Lux = b[14]
	p.ErrorCount = b[15]
	copy(p.Info[:], b[16:19])
	return nil
}

// Command is a 12-byte instruction sent from the gateway to a node.
type Command struct {
	NodeID  uint32
	Command uint32
	Value   uint32
}

func (p *Command) Tag() byte { return TagCommand }
func (p *Command) Size() int { return CommandSize }

func (p *Command) MarshalBinary() ([]byte, error) {
	b := make([]byte, CommandSize)
	binary.LittleEndian.PutUint32(b[0:4], p.NodeID)
	binary.LittleEndian.PutUint32(b[4:8], p.Command)
	binary.LittleEndian.PutUint32(b[8:12], p.Value)
	return b, nil
}

func (p *Command) UnmarshalBinary(b []byte) error {
	if len(b) < CommandSize {
		return ErrShortPayload
	}
	p.NodeID = binary.LittleEndian.Uint32(b[0:4])
	p.Command = binary.LittleEndian.Uint32(b[4:8])
	p.Value = binary.LittleEndian.Uint32(b[8:12])
	return nil
}

// Opaque carries payloads of unknown schema as raw bytes.
type Opaque struct {
	Kind byte
	Data []byte
}

func (p *Opaque) Tag() byte { return p.Kind }
func (p *Opaque) Size() int { return len(p.Data) }

func (p *Opaque) MarshalBinary() ([]byte, error) {
	b := make([]byte, len(p.Data))
	copy(b, p.Data)
	return b, nil
}

func (p *Opaque) UnmarshalBinary(b []byte) error {
	p.Data = make([]byte, len(b))
	copy(p.Data, b)
	return nil
}
