package rf24

// nRF24L01(+) register map
const (
	regConfig     = 0x00
	regEnAA       = 0x01
	regEnRxAddr   = 0x02
	regSetupAW    = 0x03
	regSetupRetr  = 0x04
	regRFCh       = 0x05
	regRFSetup    = 0x06
	regStatus     = 0x07
	regObserveTx  = 0x08
	regRPD        = 0x09
	regRxAddrP0   = 0x0A
	regTxAddr     = 0x10
	regRxPwP0     = 0x11
	regFIFOStatus = 0x17
	regDynPD      = 0x1C
	regFeature    = 0x1D
)

// SPI commands
const (
	cmdRRegister       = 0x00
	cmdWRegister       = 0x20
	registerMask       = 0x1F
	cmdActivate        = 0x50
	cmdRRxPlWid        = 0x60
	cmdRRxPayload      = 0x61
	cmdWTxPayload      = 0xA0
	cmdWTxPayloadNoAck = 0xB0
	cmdFlushTx         = 0xE1
	cmdFlushRx         = 0xE2
	cmdReuseTxPl       = 0xE3
	cmdNOP             = 0xFF
)

// CONFIG bits
const (
	bitMaskRxDR  = 1 << 6
	bitMaskTxDS  = 1 << 5
	bitMaskMaxRT = 1 << 4
	bitEnCRC     = 1 << 3
	bitCRCO      = 1 << 2
	bitPwrUp     = 1 << 1
	bitPrimRx    = 1 << 0
)

// STATUS bits
const (
	bitRxDR   = 1 << 6
	bitTxDS   = 1 << 5
	bitMaxRT  = 1 << 4
	bitTxFull = 1 << 0

	statusIRQ = bitRxDR | bitTxDS | bitMaxRT
)

// FIFO_STATUS bits
const (
	bitFIFOTxReuse = 1 << 6
	bitFIFOTxFull  = 1 << 5
	bitFIFOTxEmpty = 1 << 4
	bitFIFORxFull  = 1 << 1
	bitFIFORxEmpty = 1 << 0
)

// RF_SETUP bits
const (
	bitRFDRLow   = 1 << 5
	bitRFDRHigh  = 1 << 3
	bitRFPwrLow  = 1 << 1
	bitRFPwrHigh = 1 << 2
	bitLNAHCurr  = 1 << 0
)

// FEATURE bits
const (
	bitEnDPL    = 1 << 2
	bitEnAckPay = 1 << 1
	bitEnDynAck = 1 << 0
)

const (
	maxPayloadSize = 32
	maxPipes       = 6
	allPipes       = 0x3F
)
