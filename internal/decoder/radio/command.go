package radio

// Command bytes recognized by the NFC-A classifier (NfcA.h CommandType).
const (
	cmdREQA   byte = 0x26
	cmdWUPA   byte = 0x52
	cmdHLTA   byte = 0x50
	cmdSEL1   byte = 0x93
	cmdSEL2   byte = 0x95
	cmdSEL3   byte = 0x97
	cmdRATS   byte = 0xE0
	cmdPPS    byte = 0xD0
	cmdAUTH1  byte = 0x60
	cmdAUTH2  byte = 0x61
	cmdIBlock byte = 0x02
	cmdRBlock byte = 0xA2
	cmdSBlock byte = 0xC2
)

// Classify annotates frame in place given the stream's frameStatus and
// protocolStatus, mirroring NfcA::process's fixed dispatch chain:
// REQA -> HLTA -> [SELn -> RATS -> PPS -> AUTH -> IBlock -> RBlock ->
// SBlock -> other] unless the stream is Encrypted, in which case every
// remaining frame, poll or listen, is classified directly as an
// application frame.
func (d *Decoder) classify(frame *RawFrame) {
	if d.processREQA(frame) {
		return
	}
	if d.processHLTA(frame) {
		return
	}
	if d.chainedFlags.Has(Encrypted) {
		frame.FramePhase = PhaseApplication
		frame.FrameFlags |= d.chainedFlags
		return
	}
	switch {
	case d.processSELn(frame):
	case d.processRATS(frame):
	case d.processPPS(frame):
	case d.processAUTH(frame):
	case d.processIBlock(frame):
	case d.processRBlock(frame):
	case d.processSBlock(frame):
	default:
		d.processOther(frame)
	}
}

func isPoll(frame *RawFrame) bool   { return frame.FrameType == PollFrame }
func isListen(frame *RawFrame) bool { return frame.FrameType == ListenFrame }

func (d *Decoder) checkCrcFlag(frame *RawFrame) {
	if !CheckCRC(TechNfcA, frame.Data) {
		frame.FrameFlags |= CrcError
	}
}

func (d *Decoder) processREQA(frame *RawFrame) bool {
	if isPoll(frame) {
		if len(frame.Data) == 1 && (frame.Data[0] == cmdREQA || frame.Data[0] == cmdWUPA) {
			frame.FramePhase = PhaseSelection
			d.frame.lastCommand = frame.Data[0]

			d.protocol.maxFrameSize = 256
			d.protocol.frameGuardTime = uint64(d.sampleTimeUnit * 128 * 7)
			d.protocol.frameWaitingTime = uint64(d.sampleTimeUnit * 256 * 16 * 16)

			d.frame.frameGuardTime = uint64(d.sampleTimeUnit * 128 * 7)
			d.frame.frameWaitingTime = uint64(d.sampleTimeUnit * 128 * 18)

			d.chainedFlags = 0
			return true
		}
		return false
	}
	if isListen(frame) {
		if d.frame.lastCommand == cmdREQA || d.frame.lastCommand == cmdWUPA {
			frame.FramePhase = PhaseSelection
			return true
		}
	}
	return false
}

func (d *Decoder) processHLTA(frame *RawFrame) bool {
	if isPoll(frame) {
		if len(frame.Data) == 4 && frame.Data[0] == cmdHLTA {
			frame.FramePhase = PhaseSelection
			d.checkCrcFlag(frame)
			d.frame.lastCommand = frame.Data[0]

			d.protocol.maxFrameSize = 256
			d.protocol.frameGuardTime = uint64(d.sampleTimeUnit * 128 * 7)
			d.protocol.frameWaitingTime = uint64(d.sampleTimeUnit * 256 * 16 * 16)

			d.chainedFlags = 0
			d.resetModulation()
			return true
		}
	}
	return false
}

func (d *Decoder) processSELn(frame *RawFrame) bool {
	if isPoll(frame) {
		if len(frame.Data) > 0 && (frame.Data[0] == cmdSEL1 || frame.Data[0] == cmdSEL2 || frame.Data[0] == cmdSEL3) {
			frame.FramePhase = PhaseSelection
			d.frame.lastCommand = frame.Data[0]
			d.frame.frameGuardTime = uint64(d.sampleTimeUnit * 128 * 7)
			d.frame.frameWaitingTime = uint64(d.sampleTimeUnit * 128 * 18)
			return true
		}
		return false
	}
	if isListen(frame) {
		if d.frame.lastCommand == cmdSEL1 || d.frame.lastCommand == cmdSEL2 || d.frame.lastCommand == cmdSEL3 {
			frame.FramePhase = PhaseSelection
			return true
		}
	}
	return false
}

func (d *Decoder) processRATS(frame *RawFrame) bool {
	if isPoll(frame) {
		if len(frame.Data) > 1 && frame.Data[0] == cmdRATS {
			fsdi := int(frame.Data[1]>>4) & 0x0F
			d.frame.lastCommand = frame.Data[0]
			d.protocol.maxFrameSize = MaxFrameSizeForFSDI(fsdi)
			d.frame.frameWaitingTime = uint64(d.sampleTimeUnit * 65536)
			frame.FramePhase = PhaseSelection
			d.checkCrcFlag(frame)
			return true
		}
		return false
	}
	if isListen(frame) {
		if d.frame.lastCommand == cmdRATS {
			d.applyATS(frame.Data)
			frame.FramePhase = PhaseSelection
			d.checkCrcFlag(frame)
			return true
		}
	}
	return false
}

// applyATS parses the ATS TL/T0/TA/TB fields per ISO/IEC 14443-4, capturing
// the negotiated start-up guard time (SFGI) and frame waiting time (FWI).
func (d *Decoder) applyATS(data []byte) {
	if len(data) == 0 {
		return
	}
	offset := 0
	tl := data[offset]
	offset++
	if tl == 0 || offset >= len(data) {
		return
	}
	t0 := data[offset]
	offset++
	if t0&0x10 != 0 {
		offset++
	}
	if t0&0x20 != 0 && offset < len(data) {
		tb := data[offset]
		sfgi := int(tb & 0x0f)
		fwi := int(tb>>4) & 0x0f
		if sfgi == 15 {
			sfgi = 0
		}
		if fwi == 15 {
			fwi = 4
		}
		d.protocol.startUpGuardTime = uint64(d.sampleTimeUnit * 256 * 16 * float64(uint(1)<<uint(sfgi)))
		d.protocol.frameWaitingTime = uint64(d.sampleTimeUnit * 256 * 16 * float64(uint(1)<<uint(fwi)))
	} else {
		d.protocol.startUpGuardTime = uint64(d.sampleTimeUnit * 256 * 16)
		d.protocol.frameWaitingTime = uint64(d.sampleTimeUnit * 256 * 16 * 16)
	}
}

func (d *Decoder) processPPS(frame *RawFrame) bool {
	if isPoll(frame) {
		if len(frame.Data) > 0 && frame.Data[0]&0xF0 == cmdPPS {
			d.frame.lastCommand = frame.Data[0] & 0xF0
			d.frame.frameWaitingTime = d.protocol.frameWaitingTime
			frame.FramePhase = PhaseSelection
			d.checkCrcFlag(frame)
			return true
		}
		return false
	}
	if isListen(frame) {
		if d.frame.lastCommand == cmdPPS {
			frame.FramePhase = PhaseSelection
			d.checkCrcFlag(frame)
			return true
		}
	}
	return false
}

func (d *Decoder) processAUTH(frame *RawFrame) bool {
	if isPoll(frame) {
		if len(frame.Data) > 0 && (frame.Data[0] == cmdAUTH1 || frame.Data[0] == cmdAUTH2) {
			d.frame.lastCommand = frame.Data[0]
			frame.FramePhase = PhaseApplication
			d.checkCrcFlag(frame)
			return true
		}
		return false
	}
	if isListen(frame) {
		if d.frame.lastCommand == cmdAUTH1 || d.frame.lastCommand == cmdAUTH2 {
			d.chainedFlags = Encrypted
			frame.FramePhase = PhaseApplication
			return true
		}
	}
	return false
}

func (d *Decoder) processIBlock(frame *RawFrame) bool {
	if isPoll(frame) {
		if len(frame.Data) > 0 && frame.Data[0]&0xE2 == cmdIBlock {
			d.frame.lastCommand = frame.Data[0] & 0xE2
			frame.FramePhase = PhaseApplication
			d.checkCrcFlag(frame)
			return true
		}
		return false
	}
	if isListen(frame) {
		if d.frame.lastCommand == cmdIBlock {
			frame.FramePhase = PhaseApplication
			d.checkCrcFlag(frame)
			return true
		}
	}
	return false
}

func (d *Decoder) processRBlock(frame *RawFrame) bool {
	if isPoll(frame) {
		if len(frame.Data) > 0 && frame.Data[0]&0xE6 == cmdRBlock {
			d.frame.lastCommand = frame.Data[0] & 0xE6
			frame.FramePhase = PhaseApplication
			d.checkCrcFlag(frame)
			return true
		}
		return false
	}
	if isListen(frame) {
		if d.frame.lastCommand == cmdRBlock {
			frame.FramePhase = PhaseApplication
			d.checkCrcFlag(frame)
			return true
		}
	}
	return false
}

func (d *Decoder) processSBlock(frame *RawFrame) bool {
	if isPoll(frame) {
		if len(frame.Data) > 0 && frame.Data[0]&0xC7 == cmdSBlock {
			d.frame.lastCommand = frame.Data[0] & 0xC7
			frame.FramePhase = PhaseApplication
			d.checkCrcFlag(frame)
			return true
		}
		return false
	}
	if isListen(frame) {
		if d.frame.lastCommand == cmdSBlock {
			frame.FramePhase = PhaseApplication
			d.checkCrcFlag(frame)
			return true
		}
	}
	return false
}

func (d *Decoder) processOther(frame *RawFrame) {
	frame.FramePhase = PhaseApplication
	d.checkCrcFlag(frame)
}
