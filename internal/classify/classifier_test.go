package classify

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/raphaelgruber/intake/internal/fixture"
	"github.com/raphaelgruber/intake/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	dir := t.TempDir()
	pngHeader := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\x0dIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

	tests := []struct {
		name string
		file string
		data []byte
		want models.ContentKind
	}{
		{"7z archive", "bundle.7z", fixture.SevenZip([]fixture.Entry{{Name: "a.txt", Data: []byte("a")}}), models.KindSourceArchive},
		{"7z signature only", "broken.7z", fixture.CorruptSevenZip(), models.KindSourceArchive},
		{"zip archive", "study.zip", fixture.Zip([]fixture.Entry{{Name: "x.dcm", Data: fixture.DICOM("1")}}), models.KindCanonicalArchive},
		{"empty zip", "empty.zip", fixture.Zip(nil), models.KindCanonicalArchive},
		{"dicom", "image.dcm", fixture.DICOM("2"), models.KindOpaqueBinary},
		{"undetected binary", "blob.bin", fixture.Opaque(1), models.KindOpaqueBinary},
		{"plain text", "notes.txt", []byte("hello there\n"), models.KindUnsupported},
		{"png", "photo.png", pngHeader, models.KindUnsupported},
		{"pdf", "report.pdf", []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj\n"), models.KindUnsupported},
		{"empty file", "empty.dcm", nil, models.KindUnsupported},
	}

	c := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := fixture.WriteFile(t, dir, tt.file, tt.data)
			got, err := c.Classify(path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got, "kind for %s", tt.file)
		})
	}
}

func TestClassifyIgnoresFileName(t *testing.T) {
	dir := t.TempDir()
	c := New()

	payloads := map[string][]byte{
		"7z":    fixture.SevenZip([]fixture.Entry{{Name: "a", Data: []byte("x")}}),
		"zip":   fixture.Zip([]fixture.Entry{{Name: "a", Data: []byte("x")}}),
		"dicom": fixture.DICOM("9"),
		"text":  []byte("just text"),
	}
	names := []string{"payload.zip", "payload.7z", "payload.dcm", "payload.txt", "payload"}

	for label, data := range payloads {
		var kinds []models.ContentKind
		for i, name := range names {
			path := fixture.WriteFile(t, filepath.Join(dir, label, string(rune('a'+i))), name, data)
			kind, err := c.Classify(path)
			require.NoError(t, err)
			kinds = append(kinds, kind)
		}
		for _, k := range kinds[1:] {
			assert.Equal(t, kinds[0], k, "%s bytes classified differently under another name", label)
		}

		fromReader, err := c.classifyReader(bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, kinds[0], fromReader, "%s: reader and file classification disagree", label)
	}
}

func TestClassifyCustomOpaqueTypes(t *testing.T) {
	dir := t.TempDir()
	path := fixture.WriteFile(t, dir, "image.dcm", fixture.DICOM("3"))

	// A recognized type outside the opaque list is not an octet-stream fallback.
	kind, err := New("application/x-not-dicom").Classify(path)
	require.NoError(t, err)
	assert.Equal(t, models.KindUnsupported, kind)

	kind, err = New(MIMEDICOM).Classify(path)
	require.NoError(t, err)
	assert.Equal(t, models.KindOpaqueBinary, kind)
}

func TestClassifyErrors(t *testing.T) {
	dir := t.TempDir()
	c := New()

	_, err := c.Classify(filepath.Join(dir, "missing"))
	assert.Error(t, err, "missing file must fail classification")

	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	_, err = c.Classify(sub)
	assert.Error(t, err, "directory must fail classification")
}

func TestDetect(t *testing.T) {
	dir := t.TempDir()
	path := fixture.WriteFile(t, dir, "x", fixture.DICOM("4"))
	mime, err := Detect(path)
	require.NoError(t, err)
	assert.Equal(t, MIMEDICOM, mime)
}
