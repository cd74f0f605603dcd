package vmasm

// A code-block's byte payload is just a 4-byte big-endian index into the
// producing Assembler's procs table — nothing downstream needs to
// persist compiled code independently of the process that produced it,
// so there is no real bytecode to serialise, only this table reference.
func encodeProcIndex(idx int) []byte {
	return []byte{
		byte(idx >> 24),
		byte(idx >> 16),
		byte(idx >> 8),
		byte(idx),
	}
}

func decodeProcIndex(b []byte) (int, bool) {
	if len(b) != 4 {
		return 0, false
	}
	return int(b[0])<<24 | int(b[1])<<16 | int(b[2])<<8 | int(b[3]), true
}
