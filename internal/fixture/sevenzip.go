// Package fixture builds payload files for tests: 7z and zip archives and
// minimal DICOM instances. Nothing here is used outside tests.
package fixture

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"unicode/utf16"
)

// Entry is a named file inside an archive fixture.
type Entry struct {
	Name string
	Data []byte
}

// 7z property IDs used by the writer.
const (
	kEnd             = 0x00
	kHeader          = 0x01
	kMainStreamsInfo = 0x04
	kFilesInfo       = 0x05
	kPackInfo        = 0x06
	kUnPackInfo      = 0x07
	kSubStreamsInfo  = 0x08
	kSize            = 0x09
	kCRC             = 0x0A
	kFolder          = 0x0B
	kCodersUnPackSz  = 0x0C
	kNumUnPackStream = 0x0D
	kName            = 0x11
)

var sevenZipSignature = []byte{'7', 'z', 0xBC, 0xAF, 0x27, 0x1C}

// SevenZip returns a 7z archive holding entries in a single folder with the
// "copy" coder (no compression) and a plain, unencoded header. Entry data must
// be non-empty; empty streams would need extra header properties.
func SevenZip(entries []Entry) []byte {
	if len(entries) == 0 {
		panic("fixture: 7z archive needs at least one entry")
	}

	var packed bytes.Buffer
	for _, e := range entries {
		if len(e.Data) == 0 {
			panic("fixture: 7z entry " + e.Name + " is empty")
		}
		packed.Write(e.Data)
	}

	var h bytes.Buffer
	h.WriteByte(kHeader)

	h.WriteByte(kMainStreamsInfo)

	h.WriteByte(kPackInfo)
	writeNumber(&h, 0) // pack position
	writeNumber(&h, 1) // one pack stream
	h.WriteByte(kSize)
	writeNumber(&h, uint64(packed.Len()))
	h.WriteByte(kEnd)

	h.WriteByte(kUnPackInfo)
	h.WriteByte(kFolder)
	writeNumber(&h, 1) // one folder
	h.WriteByte(0)     // not external
	writeNumber(&h, 1) // one coder
	h.WriteByte(0x01)  // codec id size 1, simple coder, no properties
	h.WriteByte(0x00)  // copy
	h.WriteByte(kCodersUnPackSz)
	writeNumber(&h, uint64(packed.Len()))
	h.WriteByte(kEnd)

	h.WriteByte(kSubStreamsInfo)
	h.WriteByte(kNumUnPackStream)
	writeNumber(&h, uint64(len(entries)))
	if len(entries) > 1 {
		h.WriteByte(kSize)
		for _, e := range entries[:len(entries)-1] {
			writeNumber(&h, uint64(len(e.Data)))
		}
	}
	h.WriteByte(kCRC)
	h.WriteByte(1) // all digests defined
	for _, e := range entries {
		_ = binary.Write(&h, binary.LittleEndian, crc32.ChecksumIEEE(e.Data))
	}
	h.WriteByte(kEnd)

	h.WriteByte(kEnd) // main streams info

	h.WriteByte(kFilesInfo)
	writeNumber(&h, uint64(len(entries)))
	var names bytes.Buffer
	names.WriteByte(0) // not external
	for _, e := range entries {
		for _, u := range utf16.Encode([]rune(e.Name)) {
			_ = binary.Write(&names, binary.LittleEndian, u)
		}
		names.Write([]byte{0, 0})
	}
	h.WriteByte(kName)
	writeNumber(&h, uint64(names.Len()))
	h.Write(names.Bytes())
	h.WriteByte(kEnd)

	h.WriteByte(kEnd) // header

	start := make([]byte, 20)
	binary.LittleEndian.PutUint64(start[0:], uint64(packed.Len())) // next header offset
	binary.LittleEndian.PutUint64(start[8:], uint64(h.Len()))
	binary.LittleEndian.PutUint32(start[16:], crc32.ChecksumIEEE(h.Bytes()))

	var out bytes.Buffer
	out.Write(sevenZipSignature)
	out.Write([]byte{0, 4}) // format version 0.4
	_ = binary.Write(&out, binary.LittleEndian, crc32.ChecksumIEEE(start))
	out.Write(start)
	out.Write(packed.Bytes())
	out.Write(h.Bytes())
	return out.Bytes()
}

// CorruptSevenZip returns bytes that carry the 7z signature but no valid
// archive structure.
func CorruptSevenZip() []byte {
	b := append([]byte{}, sevenZipSignature...)
	b = append(b, 0, 4)
	return append(b, bytes.Repeat([]byte{0xEE}, 64)...)
}

// writeNumber encodes v in the 7z variable-length NUMBER format: the count of
// leading one bits in the first byte gives the number of extra little-endian
// bytes that follow.
func writeNumber(b *bytes.Buffer, v uint64) {
	for n := 0; n < 8; n++ {
		if v < uint64(1)<<(7*(n+1)) {
			first := ^(byte(0xFF) >> uint(n))
			first |= byte(v >> (8 * uint(n)))
			b.WriteByte(first)
			for i := 0; i < n; i++ {
				b.WriteByte(byte(v >> (8 * uint(i))))
			}
			return
		}
	}
	b.WriteByte(0xFF)
	_ = binary.Write(b, binary.LittleEndian, v)
}
