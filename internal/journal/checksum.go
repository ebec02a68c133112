package journal

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/klyuchko/unitjob/pkg/unit"
)

// checksum covers everything except Timestamp, so a record checksums the
// same way regardless of when it is verified (grounded on
// internal/storage/wal/checksum.go's CalculateChecksum, which excludes
// Timestamp for the same reason).
func checksum(e Event) uint32 {
	buf := make([]byte, 0, 24+len(e.UnitID))
	buf = append(buf, byte(e.Type))
	buf = append(buf, byte(e.Kind))
	buf = append(buf, attrByte(e.Attr))
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], e.Seq)
	buf = append(buf, seqBuf[:]...)
	buf = append(buf, []byte(e.UnitID)...)
	return crc32.ChecksumIEEE(buf)
}

func attrByte(a unit.JobAttr) byte {
	var b byte
	if a.IgnoreOrder {
		b |= 1 << 0
	}
	if a.IgnoreConflict {
		b |= 1 << 1
	}
	if a.Force {
		b |= 1 << 2
	}
	if a.NoRelevancy {
		b |= 1 << 3
	}
	if a.Irreversible {
		b |= 1 << 4
	}
	return b
}

func verifyChecksum(e Event) bool {
	return e.Checksum == checksum(e)
}
