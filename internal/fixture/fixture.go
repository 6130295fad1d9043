package fixture

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/klauspost/compress/zip"
)

// Zip returns a deflated zip archive holding entries.
func Zip(entries []Entry) []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.Name, Method: zip.Deflate})
		if err != nil {
			panic(err)
		}
		if _, err := w.Write(e.Data); err != nil {
			panic(err)
		}
	}
	if err := zw.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// ReadZip returns every file in the zip at path keyed by entry name.
func ReadZip(t testing.TB, path string) map[string][]byte {
	t.Helper()
	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("open zip %s: %v", path, err)
	}
	defer zr.Close()

	files := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open entry %s: %v", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read entry %s: %v", f.Name, err)
		}
		if _, dup := files[f.Name]; dup {
			t.Fatalf("duplicate zip entry %s", f.Name)
		}
		files[f.Name] = data
	}
	return files
}

// Names returns the sorted keys of a ReadZip result.
func Names(files map[string][]byte) []string {
	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// WriteFile writes data to dir/name, creating parent directories.
func WriteFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// Opaque returns bytes that no sniffer recognizes, which intake accepts as
// a raw payload.
func Opaque(seed byte) []byte {
	b := []byte{0x01, 0x02, 0x03, 0x04, 0x9C, 0xE1, 0x00, 0xFF}
	for i := 0; i < 56; i++ {
		b = append(b, byte(i*7)^seed, 0x00)
	}
	return b
}

// DICOM returns a minimal Part 10 secondary-capture instance with explicit VR
// little endian encoding. The UIDs are derived from suffix so distinct
// suffixes produce distinct instances.
func DICOM(suffix string) []byte {
	const (
		sopClass = "1.2.840.10008.5.1.4.1.1.7"
		explicit = "1.2.840.10008.1.2.1"
		root     = "1.2.826.0.1.3680043.9.7433."
	)
	sopInstance := root + "3." + suffix

	var meta bytes.Buffer
	writeElement(&meta, 0x0002, 0x0001, "OB", []byte{0x00, 0x01})
	writeElement(&meta, 0x0002, 0x0002, "UI", uid(sopClass))
	writeElement(&meta, 0x0002, 0x0003, "UI", uid(sopInstance))
	writeElement(&meta, 0x0002, 0x0010, "UI", uid(explicit))
	writeElement(&meta, 0x0002, 0x0012, "UI", uid(root+"1"))

	var out bytes.Buffer
	out.Write(make([]byte, 128))
	out.WriteString("DICM")
	groupLen := make([]byte, 4)
	binary.LittleEndian.PutUint32(groupLen, uint32(meta.Len()))
	writeElement(&out, 0x0002, 0x0000, "UL", groupLen)
	out.Write(meta.Bytes())

	writeElement(&out, 0x0008, 0x0016, "UI", uid(sopClass))
	writeElement(&out, 0x0008, 0x0018, "UI", uid(sopInstance))
	writeElement(&out, 0x0008, 0x0064, "CS", text("WSD"))
	writeElement(&out, 0x0010, 0x0010, "PN", text("Intake^Fixture"))
	writeElement(&out, 0x0010, 0x0020, "LO", text("INTAKE-"+suffix))
	writeElement(&out, 0x0020, 0x000D, "UI", uid(root+"1."+suffix))
	writeElement(&out, 0x0020, 0x000E, "UI", uid(root+"2."+suffix))
	return out.Bytes()
}

func writeElement(b *bytes.Buffer, group, element uint16, vr string, value []byte) {
	_ = binary.Write(b, binary.LittleEndian, group)
	_ = binary.Write(b, binary.LittleEndian, element)
	b.WriteString(vr)
	switch vr {
	case "OB", "OW", "SQ", "UN", "UT":
		b.Write([]byte{0, 0})
		_ = binary.Write(b, binary.LittleEndian, uint32(len(value)))
	default:
		_ = binary.Write(b, binary.LittleEndian, uint16(len(value)))
	}
	b.Write(value)
}

func uid(s string) []byte {
	b := []byte(s)
	if len(b)%2 == 1 {
		b = append(b, 0x00)
	}
	return b
}

func text(s string) []byte {
	b := []byte(s)
	if len(b)%2 == 1 {
		b = append(b, ' ')
	}
	return b
}
