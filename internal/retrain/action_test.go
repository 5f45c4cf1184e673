package retrain

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/foodnet-go/internal/conf"
	fnerrors "github.com/tphakala/foodnet-go/internal/errors"
)

type fakeExporter struct {
	paths []string
	err   error
}

func (f *fakeExporter) ExportCSVFile(_ context.Context, path string) error {
	f.paths = append(f.paths, path)
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(path, []byte("img_id,img_path,category,category_id,x1,y1,x2,y2\n"), 0o600)
}

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func TestCommandActionExportsAndRuns(t *testing.T) {
	skipWithoutShell(t)

	dir := t.TempDir()
	csvPath := filepath.Join(dir, "data_info.csv")
	marker := filepath.Join(dir, "marker")
	exporter := &fakeExporter{}

	action := NewCommandAction(exporter, &conf.RetrainSettings{
		Command: []string{"sh", "-c", `echo "$FOODNET_RETRAIN_JOB" > marker && test -s "$FOODNET_DATASET"`},
		WorkDir: dir,
		CSVPath: csvPath,
	})

	require.NoError(t, action.Run(context.Background(), Job{ID: "job-1"}))
	assert.Equal(t, []string{csvPath}, exporter.paths)

	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, "job-1\n", string(data))
}

func TestCommandActionFailure(t *testing.T) {
	skipWithoutShell(t)

	action := NewCommandAction(&fakeExporter{}, &conf.RetrainSettings{
		Command: []string{"sh", "-c", "echo training failed >&2; exit 3"},
		WorkDir: t.TempDir(),
	})

	err := action.Run(context.Background(), Job{ID: "job-2"})
	require.Error(t, err)
	assert.True(t, fnerrors.IsCategory(err, fnerrors.CategoryCommandExecution))

	var enhanced *fnerrors.EnhancedError
	require.ErrorAs(t, err, &enhanced)
	assert.Contains(t, enhanced.GetContext()["output"], "training failed")
}

func TestCommandActionTimeout(t *testing.T) {
	skipWithoutShell(t)

	action := NewCommandAction(nil, &conf.RetrainSettings{Command: []string{"sleep", "10"}})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := action.Run(ctx, Job{ID: "job-3"})
	assert.True(t, fnerrors.IsCategory(err, fnerrors.CategoryTimeout))
}

func TestCommandActionExportFailure(t *testing.T) {
	t.Parallel()

	action := NewCommandAction(&fakeExporter{err: errors.New("disk full")}, &conf.RetrainSettings{
		Command: []string{"true"},
		CSVPath: filepath.Join(t.TempDir(), "data_info.csv"),
	})

	err := action.Run(context.Background(), Job{ID: "job-4"})
	require.Error(t, err)
	assert.True(t, fnerrors.IsCategory(err, fnerrors.CategoryFileIO))
}

func TestCommandActionExportOnly(t *testing.T) {
	t.Parallel()

	exporter := &fakeExporter{}
	csvPath := filepath.Join(t.TempDir(), "data_info.csv")
	action := NewCommandAction(exporter, &conf.RetrainSettings{CSVPath: csvPath})

	require.NoError(t, action.Run(context.Background(), Job{ID: "job-5"}))
	assert.FileExists(t, csvPath)
}

func TestTailBufferKeepsEnd(t *testing.T) {
	t.Parallel()

	b := newTailBuffer(5)
	_, _ = b.Write([]byte("hello "))
	_, _ = b.Write([]byte("world"))
	assert.Equal(t, "world", b.String())
	assert.Equal(t, "world", b.String(), "String does not consume")

	_, _ = b.Write([]byte("!!"))
	assert.Equal(t, "rld!!", b.String())

	n, err := b.Write([]byte("a much longer line"))
	require.NoError(t, err)
	assert.Equal(t, 18, n)
	assert.Equal(t, " line", b.String())
	assert.Equal(t, "c", lastLine("a\nb\nc\n"))
}
