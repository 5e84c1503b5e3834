package protocol

import "errors"

var (
	ErrInvalidPayload       = errors.New("invalid payload size")
	ErrTimeout              = errors.New("operation timed out")
	ErrInvalidChannel       = errors.New("invalid channel (valid range: 0-125)")
	ErrInvalidAddress       = errors.New("invalid logical address (octal digits must be 0-5)")
	ErrPayloadTooLarge      = errors.New("payload exceeds maximum fragmented size")
	ErrHardwareUnresponsive = errors.New("radio hardware not responding")
	ErrShortFrame           = errors.New("frame shorter than header")
	ErrShortPayload         = errors.New("payload shorter than schema size")
	ErrNotAssigned          = errors.New("node has no mesh address")
)
