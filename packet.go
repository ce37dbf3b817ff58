package feetech

import "fmt"

// Instruction codes, as sent in the INSTR field of an instruction packet.
const (
	InstrPing      byte = 0x01
	InstrRead      byte = 0x02
	InstrWrite     byte = 0x03
	InstrRegWrite  byte = 0x04
	InstrAction    byte = 0x05
	InstrRecovery  byte = 0x06
	InstrReset     byte = 0x0A
	InstrSyncRead  byte = 0x82
	InstrSyncWrite byte = 0x83
)

// BroadcastID is received by every servo on the bus; none reply to it,
// except where the servo firmware itself makes an exception (ping).
const BroadcastID byte = 0xFE

// checksum computes the Feetech CHK byte: the bitwise complement of the
// truncated 8-bit sum of id, length, the instruction/status byte, and every
// parameter byte.
func checksum(id, length, instrOrStatus byte, params []byte) byte {
	sum := int(id) + int(length) + int(instrOrStatus)
	for _, p := range params {
		sum += int(p)
	}
	return byte(^sum)
}

// buildPacket assembles a complete instruction packet: header, id, LEN,
// instruction, params, and a trailing checksum.
func buildPacket(id, instr byte, params []byte) []byte {
	length := byte(len(params) + 2)
	packet := make([]byte, 0, len(params)+6)
	packet = append(packet, 0xFF, 0xFF, id, length, instr)
	packet = append(packet, params...)
	packet = append(packet, checksum(id, length, instr, params))
	return packet
}

// BuildPing returns a PING instruction packet addressed to id.
func BuildPing(id byte) []byte {
	return buildPacket(id, InstrPing, nil)
}

// BuildRead returns a READ instruction packet requesting length bytes
// starting at addr from id.
func BuildRead(id, addr, length byte) []byte {
	return buildPacket(id, InstrRead, []byte{addr, length})
}

// BuildWrite returns a WRITE instruction packet storing data starting at
// addr on id.
func BuildWrite(id, addr byte, data []byte) []byte {
	params := make([]byte, 0, 1+len(data))
	params = append(params, addr)
	params = append(params, data...)
	return buildPacket(id, InstrWrite, params)
}

// BuildRegWrite returns a REG_WRITE instruction packet: same parameter
// layout as WRITE, buffered by the servo until the next ACTION.
func BuildRegWrite(id, addr byte, data []byte) []byte {
	params := make([]byte, 0, 1+len(data))
	params = append(params, addr)
	params = append(params, data...)
	return buildPacket(id, InstrRegWrite, params)
}

// BuildAction returns an ACTION broadcast, triggering every servo's pending
// REG_WRITE.
func BuildAction() []byte {
	return buildPacket(BroadcastID, InstrAction, nil)
}

// BuildRecovery returns a RECOVERY instruction packet addressed to id.
func BuildRecovery(id byte) []byte {
	return buildPacket(id, InstrRecovery, nil)
}

// BuildReset returns a RESET instruction packet addressed to id.
func BuildReset(id byte) []byte {
	return buildPacket(id, InstrReset, nil)
}

// SyncWriteEntry is one servo's payload inside a SYNC_WRITE broadcast.
type SyncWriteEntry struct {
	ID   byte
	Data []byte
}

// BuildSyncWrite returns a SYNC_WRITE broadcast writing length bytes at addr
// for every entry. Every entry's Data must be exactly length bytes.
func BuildSyncWrite(addr, length byte, entries []SyncWriteEntry) ([]byte, error) {
	params := make([]byte, 0, 2+len(entries)*(1+int(length)))
	params = append(params, addr, length)
	for _, e := range entries {
		if len(e.Data) != int(length) {
			return nil, fmt.Errorf("feetech: sync_write entry for id %d: want %d data bytes, got %d", e.ID, length, len(e.Data))
		}
		params = append(params, e.ID)
		params = append(params, e.Data...)
	}
	return buildPacket(BroadcastID, InstrSyncWrite, params), nil
}

// BuildSyncRead returns a SYNC_READ broadcast requesting length bytes at
// addr from every id in ids.
func BuildSyncRead(addr, length byte, ids []byte) []byte {
	params := make([]byte, 0, 2+len(ids))
	params = append(params, addr, length)
	params = append(params, ids...)
	return buildPacket(BroadcastID, InstrSyncRead, params)
}

// Response is a parsed response packet.
type Response struct {
	ID     byte
	Status byte
	Params []byte
}

// ParseResponse parses a single, complete response packet. The caller is
// responsible for first isolating exactly one frame (see ExtractPacket);
// ParseResponse does not scan for a header, it validates the one it is
// given.
func ParseResponse(buf []byte) (Response, error) {
	if len(buf) < 2 || buf[0] != 0xFF || buf[1] != 0xFF {
		return Response{}, ErrInvalidHeader
	}
	if len(buf) < 4 {
		return Response{}, ErrIncompletePacket
	}
	id := buf[2]
	length := buf[3]
	if length < 2 {
		return Response{}, ErrInvalidLength
	}
	total := int(length) + 4
	if len(buf) < total {
		return Response{}, ErrIncompletePacket
	}
	status := buf[4]
	params := buf[5:total]
	// params currently includes the trailing checksum byte; split it off.
	params, chk := params[:len(params)-1], params[len(params)-1]
	want := checksum(id, length, status, params)
	if chk != want {
		return Response{}, ErrInvalidChecksum
	}
	out := Response{ID: id, Status: status}
	if len(params) > 0 {
		out.Params = append([]byte(nil), params...)
	}
	return out, nil
}

// ExtractPacket scans buf for the next complete frame. Garbage bytes before
// the first 0xFF 0xFF header are discarded. If a header is found but the
// buffer doesn't yet hold the full LEN+4 bytes, the header-aligned remainder
// is returned as rest with complete=false so a later call (after more bytes
// have been appended) can pick up where this one left off. A trailing lone
// 0xFF is preserved the same way, since it may be the first byte of the next
// header. ExtractPacket never validates the checksum; that is
// ParseResponse's job, so one malformed frame never wedges the reframer.
func ExtractPacket(buf []byte) (packet []byte, rest []byte, complete bool) {
	for i := 0; i < len(buf); i++ {
		if buf[i] != 0xFF {
			continue
		}
		if i == len(buf)-1 {
			return nil, buf[i:], false
		}
		if buf[i+1] != 0xFF {
			continue
		}
		aligned := buf[i:]
		if len(aligned) < 4 {
			return nil, aligned, false
		}
		length := aligned[3]
		total := int(length) + 4
		if len(aligned) < total {
			return nil, aligned, false
		}
		return aligned[:total], aligned[total:], true
	}
	return nil, nil, false
}
