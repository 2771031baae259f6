package execution

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"htr/internal/domain"
	"htr/internal/journal"
)

func TestExporter_Export(t *testing.T) {
	f := newFixture(t, newFakeLauncher(), []string{"A.dat"}, testSpec{"T1", "A.dat"}, testSpec{"T2", ""})
	sample := filepath.Join(f.dir, "sample.jrn")
	require.NoError(t, os.WriteFile(sample, []byte("{{ range .Tests }}{{ .Name }} {{ end }}model={{ .Model }}"), 0644))
	folder := filepath.Join(f.dir, "export")

	opts := ExportOptions{
		Folder:           folder,
		JournalSample:    sample,
		WorkingDirectory: f.dir,
		Product:          f.product,
	}

	written, err := NewExporter(NewModelScheduler()).Export(f.catalog, opts)
	require.NoError(t, err)
	require.Len(t, written, 2)

	data, err := os.ReadFile(written[0])
	require.NoError(t, err)
	assert.Equal(t, "T1 model="+filepath.Join(f.dir, "A.dat"), string(data))
	data, err = os.ReadFile(written[1])
	require.NoError(t, err)
	assert.Equal(t, "T2 model=", string(data))
}

func TestExporter_Rejects(t *testing.T) {
	f := newFixture(t, newFakeLauncher(), nil, testSpec{"T1", ""})
	sample := filepath.Join(f.dir, "sample.jrn")
	require.NoError(t, os.WriteFile(sample, []byte("x"), 0644))
	folder := filepath.Join(f.dir, "export")
	e := NewExporter(NewModelScheduler())

	_, err := e.Export(f.catalog, ExportOptions{Folder: folder, JournalSample: sample, Continuous: true})
	assert.ErrorIs(t, err, journal.ErrExportIncompatible)

	_, err = e.Export(f.catalog, ExportOptions{Folder: folder, JournalSample: sample, GroupByModel: true, Continuous: true})
	assert.ErrorIs(t, err, journal.ErrExportIncompatible)

	_, err = e.Export(f.catalog, ExportOptions{Folder: folder})
	assert.ErrorIs(t, err, journal.ErrNoJournalSample)

	f.catalog.SelectAll(domain.SelectionOff)
	_, err = e.Export(f.catalog, ExportOptions{Folder: folder, JournalSample: sample, WorkingDirectory: f.dir})
	assert.ErrorIs(t, err, ErrNoRunnableTests)

	assert.NoDirExists(t, folder, "nothing written on rejection")
}
