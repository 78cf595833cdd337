package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/surya-s-1/captain-tool-integrations/internal/blob"
	"github.com/surya-s-1/captain-tool-integrations/internal/storage"
	"github.com/surya-s-1/captain-tool-integrations/internal/types"
)

// entry is one file to place in the archive.
type entry struct {
	url  string
	name string
}

type plan struct {
	zipName string
	entries []entry
}

// baseName is "<prefix>-<version>-<project>".
func baseName(prefix string, job *types.ArchiveJob) string {
	return prefix + "-" + job.Version + "-" + job.ProjectID
}

// extOf returns the extension of url's last path segment, with its dot.
func extOf(url string) string {
	return path.Ext(blob.BaseName(url))
}

// resolve maps the job target to remote files and the archive name.
// Non-gs:// URLs are skipped.
func (e *Engine) resolve(ctx context.Context, job *types.ArchiveJob) (*plan, error) {
	p := &plan{}
	add := func(url, base string) {
		if !strings.HasPrefix(url, blob.Scheme) {
			e.logger().Warn("skipping non-gs url", "job", job.ID, "url", url)
			return
		}
		p.entries = append(p.entries, entry{url: url, name: base + extOf(url)})
	}

	switch job.TargetKind {
	case types.TargetTestcase:
		tc, err := e.Store.GetEntity(ctx, job.ProjectID, job.Version, types.KindTestcase, job.Target)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("test case %s not found", job.Target)
		}
		if err != nil {
			return nil, err
		}
		p.zipName = baseName(tc.ID, job) + ".zip"
		for _, url := range tc.Datasets {
			add(url, baseName(tc.ID, job))
		}
		if len(p.entries) == 0 {
			return nil, fmt.Errorf("%w: test case %s has no datasets", ErrNoFiles, tc.ID)
		}

	case types.TargetDocument:
		v, err := e.Store.GetVersion(ctx, job.ProjectID, job.Version)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("version %s not found", job.Version)
		}
		if err != nil {
			return nil, err
		}
		p.zipName = baseName(job.Target, job) + ".zip"
		for _, f := range v.Files {
			if f.Name == job.Target {
				add(f.URL, baseName(job.Target, job))
			}
		}
		if len(p.entries) == 0 {
			return nil, fmt.Errorf("%w: document %q not found in version %s", ErrNoFiles, job.Target, job.Version)
		}

	case types.TargetAll:
		tcs, err := e.Store.GetEntities(ctx, job.ProjectID, job.Version, types.KindTestcase)
		if err != nil {
			return nil, err
		}
		p.zipName = job.Version + "-" + job.ProjectID + ".zip"
		for _, tc := range tcs {
			for _, url := range tc.Datasets {
				add(url, baseName(tc.ID, job))
			}
		}
		if len(p.entries) == 0 {
			return nil, fmt.Errorf("%w: no test case in version %s has datasets", ErrNoFiles, job.Version)
		}

	default:
		return nil, fmt.Errorf("unknown target kind %q", job.TargetKind)
	}
	return p, nil
}

// writeZip fetches every entry into an in-memory deflate archive. Entries
// that cannot be fetched are logged and left out; written counts the rest.
func (e *Engine) writeZip(ctx context.Context, jobID string, entries []entry) (io.Reader, int, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	names := newNameSet()
	written := 0

	for _, en := range entries {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		data, err := e.Blobs.Fetch(ctx, en.url)
		if err != nil {
			e.logger().Warn("skipping file", "job", jobID, "url", en.url, "error", err)
			continue
		}
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     names.claim(en.name),
			Method:   zip.Deflate,
			Modified: e.now(),
		})
		if err != nil {
			return nil, 0, fmt.Errorf("add %s: %w", en.name, err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, 0, fmt.Errorf("write %s: %w", en.name, err)
		}
		written++
	}
	if err := zw.Close(); err != nil {
		return nil, 0, fmt.Errorf("finish archive: %w", err)
	}
	return &buf, written, nil
}

// nameSet hands out unique entry names, suffixing repeats with -2, -3, ...
// before the extension.
type nameSet map[string]int

func newNameSet() nameSet { return make(nameSet) }

func (s nameSet) claim(name string) string {
	if _, taken := s[name]; !taken {
		s[name] = 1
		return name
	}
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := s[name] + 1; ; n++ {
		candidate := stem + "-" + strconv.Itoa(n) + ext
		if _, taken := s[candidate]; !taken {
			s[name] = n
			s[candidate] = 1
			return candidate
		}
	}
}
