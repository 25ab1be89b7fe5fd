package mpegts

import "errors"

var errCRC = errors.New("mpegts: CRC32 mismatch")

// crcTable is the MPEG-2 CRC32 table, polynomial 0x04C11DB7, MSB first.
var crcTable = func() (t [256]uint32) {
	for i := range t {
		c := uint32(i) << 24
		for range 8 {
			if c&0x80000000 != 0 {
				c = c<<1 ^ 0x04C11DB7
			} else {
				c <<= 1
			}
		}
		t[i] = c
	}
	return t
}()

// CRC32 computes the MPEG-2 section checksum of data.
func CRC32(data []byte) uint32 {
	c := uint32(0xFFFFFFFF)
	for _, b := range data {
		c = c<<8 ^ crcTable[byte(c>>24)^b]
	}
	return c
}

// verifyCRC32 checks a section that ends in its own CRC; the checksum over
// the whole section including the CRC is zero.
func verifyCRC32(section []byte) error {
	if len(section) < 4 {
		return errors.New("mpegts: section too short for CRC32")
	}
	if CRC32(section) != 0 {
		return errCRC
	}
	return nil
}
