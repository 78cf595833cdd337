package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surya-s-1/captain-tool-integrations/internal/blob"
	"github.com/surya-s-1/captain-tool-integrations/internal/dispatch"
	"github.com/surya-s-1/captain-tool-integrations/internal/storage"
	"github.com/surya-s-1/captain-tool-integrations/internal/storage/memory"
	"github.com/surya-s-1/captain-tool-integrations/internal/types"
)

type fixture struct {
	store  *memory.MemoryStorage
	blobs  *blob.MemoryStore
	engine *Engine
}

func newFixture(t *testing.T, runner Runner) *fixture {
	t.Helper()
	store := memory.New()
	store.PutProject(types.Project{ID: "p1", LatestVersion: "v1"})
	store.PutVersion(types.Version{
		ProjectID: "p1",
		Version:   "v1",
		Files: []types.VersionFile{
			{Name: "design", URL: "gs://src/docs/design.pdf"},
			{Name: "notes", URL: "gs://src/docs/notes.txt"},
		},
	})
	store.PutEntities(
		types.Entity{ID: "TC-1", ProjectID: "p1", Version: "v1", Kind: types.KindTestcase,
			Datasets: []string{"gs://src/data/a.csv", "gs://src/data/b.csv", "https://example.com/c.csv"}},
		types.Entity{ID: "TC-2", ProjectID: "p1", Version: "v1", Kind: types.KindTestcase,
			Datasets: []string{"gs://src/data/d.json"}},
		types.Entity{ID: "TC-3", ProjectID: "p1", Version: "v1", Kind: types.KindTestcase},
	)

	blobs := blob.NewMemoryStore("out")
	blobs.Set("gs://src/data/a.csv", []byte("a,1"))
	blobs.Set("gs://src/data/b.csv", []byte("b,2"))
	blobs.Set("gs://src/data/d.json", []byte(`{"d":4}`))
	blobs.Set("gs://src/docs/design.pdf", []byte("%PDF"))

	e := NewEngine(store, blobs, runner)
	n := 0
	e.newID = func() string {
		n++
		return "job-" + string(rune('0'+n))
	}
	return &fixture{store: store, blobs: blobs, engine: e}
}

func (f *fixture) submitAndRun(t *testing.T, kind types.TargetKind, target string) (string, error) {
	t.Helper()
	id, err := f.engine.Submit(context.Background(), Request{ProjectID: "p1", Version: "v1", TargetKind: kind, Target: target, UID: "u1"})
	require.NoError(t, err)
	return id, f.engine.Execute(context.Background(), id)
}

func zipEntries(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	out := make(map[string]string)
	for _, f := range zr.File {
		assert.Equal(t, zip.Deflate, f.Method)
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		_ = rc.Close()
		out[f.Name] = string(body)
	}
	return out
}

func TestSubmitRecordsPendingJob(t *testing.T) {
	f := newFixture(t, nil)
	id, err := f.engine.Submit(context.Background(), Request{ProjectID: "p1", Version: "v1", Target: "TC-1", UID: "u1"})
	require.NoError(t, err)

	view, err := f.engine.Poll(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.JobPending, view.Status)

	job, err := f.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.TargetTestcase, job.TargetKind)
	assert.Equal(t, "u1", job.UID)
}

func TestExecuteTestcase(t *testing.T) {
	f := newFixture(t, nil)
	id, err := f.submitAndRun(t, types.TargetTestcase, "TC-1")
	require.NoError(t, err)

	view, err := f.engine.Poll(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.JobCompleted, view.Status)
	assert.Equal(t, "TC-1-v1-p1.zip", view.FileName)
	assert.Equal(t, "gs://out/jobs/"+id+"/archive.zip", view.ResultURL)
	assert.Empty(t, view.Error)

	data, ok := f.blobs.Get(view.ResultURL)
	require.True(t, ok)
	assert.Equal(t, ContentType, f.blobs.ContentType(view.ResultURL))
	assert.Equal(t, map[string]string{
		"TC-1-v1-p1.csv":   "a,1",
		"TC-1-v1-p1-2.csv": "b,2",
	}, zipEntries(t, data))
}

func TestExecuteDocument(t *testing.T) {
	f := newFixture(t, nil)
	id, err := f.submitAndRun(t, types.TargetDocument, "design")
	require.NoError(t, err)

	view, err := f.engine.Poll(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "design-v1-p1.zip", view.FileName)
	data, _ := f.blobs.Get(view.ResultURL)
	assert.Equal(t, map[string]string{"design-v1-p1.pdf": "%PDF"}, zipEntries(t, data))
}

func TestExecuteAll(t *testing.T) {
	f := newFixture(t, nil)
	id, err := f.submitAndRun(t, types.TargetAll, "")
	require.NoError(t, err)

	view, err := f.engine.Poll(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "v1-p1.zip", view.FileName)

	data, _ := f.blobs.Get(view.ResultURL)
	entries := zipEntries(t, data)
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"TC-1-v1-p1-2.csv", "TC-1-v1-p1.csv", "TC-2-v1-p1.json"}, names)

	job, err := f.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.TargetAllValue, job.Target)
}

func TestExecuteNoFilesFailsWithoutUpload(t *testing.T) {
	tests := []struct {
		name   string
		kind   types.TargetKind
		target string
		want   string
	}{
		{"testcase without datasets", types.TargetTestcase, "TC-3", "no datasets"},
		{"unknown testcase", types.TargetTestcase, "TC-404", "not found"},
		{"unknown document", types.TargetDocument, "missing", "not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			before := f.blobs.Len()
			id, err := f.submitAndRun(t, tt.kind, tt.target)
			require.Error(t, err)

			view, err := f.engine.Poll(context.Background(), id)
			require.NoError(t, err)
			assert.Equal(t, types.JobFailed, view.Status)
			assert.Contains(t, view.Error, tt.want)
			assert.Empty(t, view.ResultURL)
			assert.Equal(t, before, f.blobs.Len())
		})
	}
}

func TestExecuteUnfetchableFilesStillCompletes(t *testing.T) {
	tests := []struct {
		name   string
		kind   types.TargetKind
		target string
		zip    string
	}{
		{"document never uploaded", types.TargetDocument, "notes", "notes-v1-p1.zip"},
		{"dataset missing from bucket", types.TargetTestcase, "TC-9", "TC-9-v1-p1.zip"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.store.PutEntities(types.Entity{ID: "TC-9", ProjectID: "p1", Version: "v1", Kind: types.KindTestcase,
				Datasets: []string{"gs://src/data/missing.csv"}})
			before := f.blobs.Len()

			id, err := f.submitAndRun(t, tt.kind, tt.target)
			require.NoError(t, err)

			view, err := f.engine.Poll(context.Background(), id)
			require.NoError(t, err)
			assert.Equal(t, types.JobCompleted, view.Status)
			assert.Equal(t, tt.zip, view.FileName)
			assert.Equal(t, before+1, f.blobs.Len())

			data, ok := f.blobs.Get(view.ResultURL)
			require.True(t, ok)
			assert.Empty(t, zipEntries(t, data))
		})
	}
}

func TestExecuteOnlyOnce(t *testing.T) {
	f := newFixture(t, nil)
	id, err := f.submitAndRun(t, types.TargetTestcase, "TC-2")
	require.NoError(t, err)

	err = f.engine.Execute(context.Background(), id)
	assert.ErrorIs(t, err, storage.ErrConflict)

	view, err := f.engine.Poll(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.JobCompleted, view.Status)
}

func TestConcurrentExecuteHasOneWinner(t *testing.T) {
	f := newFixture(t, nil)
	id, err := f.engine.Submit(context.Background(), Request{ProjectID: "p1", Version: "v1", Target: "TC-2"})
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok, clash int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.engine.Execute(context.Background(), id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, storage.ErrConflict):
				clash++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, 7, clash)
}

func TestSubmitDispatches(t *testing.T) {
	d := dispatch.New(2, nil)
	f := newFixture(t, d)

	id, err := f.engine.Submit(context.Background(), Request{ProjectID: "p1", Version: "v1", Target: "TC-1"})
	require.NoError(t, err)
	d.Wait()

	view, err := f.engine.Poll(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.JobCompleted, view.Status)
}

type refusingRunner struct{}

func (refusingRunner) Go(context.Context, string, dispatch.Task) error { return dispatch.ErrClosed }

func TestSubmitRunnerRefusalFailsJob(t *testing.T) {
	f := newFixture(t, refusingRunner{})
	id, err := f.engine.Submit(context.Background(), Request{ProjectID: "p1", Version: "v1", Target: "TC-1"})
	require.ErrorIs(t, err, dispatch.ErrClosed)

	view, err := f.engine.Poll(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.JobFailed, view.Status)
	assert.Contains(t, view.Error, "could not start job")
}

func TestPollUnknownJob(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.engine.Poll(context.Background(), "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRequestValidate(t *testing.T) {
	r := Request{ProjectID: "p1", Version: "v1", TargetKind: types.TargetAll}
	require.NoError(t, r.Validate())
	assert.Equal(t, types.TargetAllValue, r.Target)

	r = Request{ProjectID: "p1", Version: "v1", TargetKind: "zip"}
	assert.Error(t, r.Validate())

	r = Request{ProjectID: "p1", Version: "v1", TargetKind: types.TargetDocument}
	assert.Error(t, r.Validate())

	r = Request{Target: "TC-1"}
	assert.Error(t, r.Validate())
}

func TestNameSetClaim(t *testing.T) {
	s := newNameSet()
	assert.Equal(t, "a.csv", s.claim("a.csv"))
	assert.Equal(t, "a-2.csv", s.claim("a.csv"))
	assert.Equal(t, "a-3.csv", s.claim("a.csv"))
	assert.Equal(t, "b", s.claim("b"))
	assert.Equal(t, "b-2", s.claim("b"))
	// A literal name that collides with a generated one is also suffixed.
	assert.Equal(t, "a-2-2.csv", s.claim("a-2.csv"))
}

func TestResultPath(t *testing.T) {
	assert.Equal(t, "jobs/abc/archive.zip", ResultPath("abc"))
}
