package cli

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/raphaelgruber/intake/internal/classify"
	"github.com/raphaelgruber/intake/internal/fixture"
	"github.com/raphaelgruber/intake/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func item(name string, loc models.Location, err error) models.Item {
	return models.Item{
		Path:     filepath.Join("/in", name),
		Stage:    models.StageFinalized,
		Location: loc,
		Err:      err,
	}
}

func step(t *testing.T, m progressModel, msg tea.Msg) (progressModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	pm, ok := next.(progressModel)
	require.True(t, ok)
	return pm, cmd
}

func TestProgressModelCounts(t *testing.T) {
	m := newProgressModel()
	assert.Contains(t, m.renderContent(), "Scanning inbound")

	m, _ = step(t, m, scheduledMsg(3))
	m, _ = step(t, m, resultMsg(item("a.dcm", models.LocationProcessed, nil)))
	m, _ = step(t, m, resultMsg(item("b.txt", models.LocationFailed, errors.New("unsupported content"))))

	assert.Equal(t, 3, m.total)
	assert.Equal(t, 1, m.processed)
	assert.Equal(t, 1, m.failed)
	view := m.renderContent()
	assert.Contains(t, view, "2/3 items")
	assert.Contains(t, view, "1 failed")

	m, cmd := step(t, m, doneMsg{})
	assert.True(t, m.done)
	assert.NotNil(t, cmd)
	final := m.renderContent()
	assert.Contains(t, final, "Completed")
	assert.Contains(t, final, "b.txt: unsupported content")
}

func TestProgressModelDoneWithError(t *testing.T) {
	m, _ := step(t, newProgressModel(), doneMsg{err: errors.New("inbound folder gone")})
	assert.Contains(t, m.renderContent(), "Stopped: inbound folder gone")
}

func TestSummaryTruncatesFailures(t *testing.T) {
	var failures []failure
	for i := 0; i < maxListedFailures+3; i++ {
		failures = append(failures, failure{name: "x", err: errors.New("upload rejected")})
	}
	out := summary(defaultTheme, 2, len(failures), failures, 1500*time.Millisecond)

	assert.Contains(t, out, "Processed: 2")
	assert.Contains(t, out, "and 3 more")
	assert.Equal(t, maxListedFailures, strings.Count(out, "upload rejected"))
}

func TestClassifyFiles(t *testing.T) {
	cfg.OpaqueContentType = models.ContentTypeDICOM
	dir := t.TempDir()
	dcm := fixture.WriteFile(t, dir, "scan", fixture.DICOM("1"))
	sz := fixture.WriteFile(t, dir, "bundle.bin", fixture.SevenZip([]fixture.Entry{{Name: "a", Data: []byte("a")}}))
	txt := fixture.WriteFile(t, dir, "notes.dcm", []byte("hello\n"))

	var out bytes.Buffer
	err := classifyFiles(&out, classify.New(), []string{dcm, sz, txt, filepath.Join(dir, "missing")})
	assert.ErrorContains(t, err, "missing")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], models.KindOpaqueBinary.String())
	assert.Contains(t, lines[0], models.ContentTypeDICOM)
	assert.Contains(t, lines[1], models.KindSourceArchive.String())
	assert.Contains(t, lines[1], models.ContentTypeZip)
	assert.Contains(t, lines[2], models.KindUnsupported.String())
	assert.Contains(t, lines[3], "error")
}
