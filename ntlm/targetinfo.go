package ntlm

import (
	"encoding/binary"
	"fmt"
)

// AV_PAIR ids from MS-NLMP 2.2.2.1.
const (
	avIDMsvAvEOL             uint16 = 0x0000
	avIDMsvAvChannelBindings uint16 = 0x000A
)

// Field descriptors in a CHALLENGE_MESSAGE: Len (2), MaxLen (2), Offset (4).
const (
	targetNameFieldOffset = 12
	targetInfoFieldOffset = 40
	challengeHeaderSize   = 48
)

type avPair struct {
	ID    uint16
	Value []byte
}

func parseAVPairs(data []byte) []avPair {
	var pairs []avPair
	for off := 0; off+4 <= len(data); {
		id := binary.LittleEndian.Uint16(data[off:])
		n := int(binary.LittleEndian.Uint16(data[off+2:]))
		if id == avIDMsvAvEOL {
			break
		}
		if off+4+n > len(data) {
			break
		}
		pairs = append(pairs, avPair{ID: id, Value: data[off+4 : off+4+n]})
		off += 4 + n
	}
	return pairs
}

func serializeAVPairs(pairs []avPair) []byte {
	size := 4
	for _, p := range pairs {
		size += 4 + len(p.Value)
	}
	buf := make([]byte, 0, size)
	for _, p := range pairs {
		buf = binary.LittleEndian.AppendUint16(buf, p.ID)
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(p.Value))) // #nosec G115 -- AV values are < 64KB
		buf = append(buf, p.Value...)
	}
	// MsvAvEOL
	buf = binary.LittleEndian.AppendUint16(buf, avIDMsvAvEOL)
	buf = binary.LittleEndian.AppendUint16(buf, 0)
	return buf
}

// InjectChannelBindings returns a copy of challenge whose TargetInfo carries
// an MsvAvChannelBindings AV_PAIR holding hash (16 bytes, padded or
// truncated). An existing channel bindings pair is replaced. Payload offsets
// that follow TargetInfo are shifted by the growth.
func InjectChannelBindings(challenge, hash []byte) ([]byte, error) {
	typ, err := MessageType(challenge)
	if err != nil {
		return nil, err
	}
	if typ != TypeChallenge {
		return nil, fmt.Errorf("ntlm: not a challenge message (type %d)", typ)
	}
	if len(challenge) < challengeHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortMessage, len(challenge))
	}

	infoLen := int(binary.LittleEndian.Uint16(challenge[targetInfoFieldOffset:]))
	infoOff := int(binary.LittleEndian.Uint32(challenge[targetInfoFieldOffset+4:]))
	if infoLen == 0 {
		infoOff = len(challenge)
	}
	if infoOff < challengeHeaderSize || infoOff+infoLen > len(challenge) {
		return nil, fmt.Errorf("ntlm: target info [%d:+%d] outside message of %d bytes", infoOff, infoLen, len(challenge))
	}

	value := make([]byte, 16)
	copy(value, hash)

	old := parseAVPairs(challenge[infoOff : infoOff+infoLen])
	pairs := make([]avPair, 0, len(old)+1)
	for _, p := range old {
		if p.ID != avIDMsvAvChannelBindings {
			pairs = append(pairs, p)
		}
	}
	pairs = append(pairs, avPair{ID: avIDMsvAvChannelBindings, Value: value})
	info := serializeAVPairs(pairs)
	diff := len(info) - infoLen

	out := make([]byte, 0, len(challenge)+diff)
	out = append(out, challenge[:infoOff]...)
	out = append(out, info...)
	out = append(out, challenge[infoOff+infoLen:]...)

	binary.LittleEndian.PutUint16(out[targetInfoFieldOffset:], uint16(len(info))) // #nosec G115
	binary.LittleEndian.PutUint16(out[targetInfoFieldOffset+2:], uint16(len(info)))
	binary.LittleEndian.PutUint32(out[targetInfoFieldOffset+4:], uint32(infoOff))

	nameLen := int(binary.LittleEndian.Uint16(out[targetNameFieldOffset:]))
	nameOff := int(binary.LittleEndian.Uint32(out[targetNameFieldOffset+4:]))
	if nameLen > 0 && nameOff > infoOff {
		binary.LittleEndian.PutUint32(out[targetNameFieldOffset+4:], uint32(nameOff+diff))
	}

	if flags := binary.LittleEndian.Uint32(out[20:24]); flags&FlagTargetInfo == 0 {
		binary.LittleEndian.PutUint32(out[20:24], flags|FlagTargetInfo)
	}

	return out, nil
}

// ChannelBindingsHash returns the MsvAvChannelBindings value carried in a
// challenge's TargetInfo, if any.
func ChannelBindingsHash(challenge []byte) ([]byte, bool) {
	if len(challenge) < challengeHeaderSize {
		return nil, false
	}
	infoLen := int(binary.LittleEndian.Uint16(challenge[targetInfoFieldOffset:]))
	infoOff := int(binary.LittleEndian.Uint32(challenge[targetInfoFieldOffset+4:]))
	if infoLen == 0 || infoOff+infoLen > len(challenge) {
		return nil, false
	}
	for _, p := range parseAVPairs(challenge[infoOff : infoOff+infoLen]) {
		if p.ID == avIDMsvAvChannelBindings {
			return p.Value, true
		}
	}
	return nil, false
}
