package oat

import "hash/crc32"

// runningChecksum folds byte ranges into a single CRC-32 seed in the order
// the planning pass visits them: header fields and image location, each
// OatDexFile record once its dex's classes are planned, then each OatClass
// after its methods' new blobs. That order is not the file's physical order,
// and the embedded dex payloads, the executable offset and padding are not
// folded, so the result is not a CRC-32 of the written file.
type runningChecksum struct {
	crc uint32
}

func (c *runningChecksum) fold(b []byte) {
	c.crc = crc32.Update(c.crc, crc32.IEEETable, b)
}

func (c *runningChecksum) foldUint32(v uint32) {
	var b [4]byte
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
	c.fold(b[:])
}

func (c *runningChecksum) value() uint32 { return c.crc }
