package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"time"

	"github.com/starford/entbrowser/internal/apperr"
	"github.com/starford/entbrowser/internal/entityservice"
	"github.com/starford/entbrowser/internal/entitystore"
	"github.com/starford/entbrowser/internal/jobs"
	"github.com/starford/entbrowser/internal/query"
	"github.com/starford/entbrowser/internal/storage"
)

// Job kinds.
const (
	KindExport = "export"
	KindImport = "import"
	KindDelete = "delete"
)

// ExportDir is the data-directory folder holding export files.
const ExportDir = "exports"

// Ext is the file extension of export files.
const Ext = ".sqlite"

// ExportName returns the file name of an export of db taken at t.
func ExportName(db string, t time.Time) string {
	return fmt.Sprintf("%s-%s%s", db, t.UTC().Format("20060102T150405.000Z"), Ext)
}

// ExportPath validates a bare export file name and returns its path
// relative to the data directory.
func ExportPath(name string) (string, error) {
	if name == "" || name != path.Base(name) || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, Ext) {
		return "", fmt.Errorf("%w: invalid export name %q", apperr.ErrInvalidField, name)
	}
	return path.Join(ExportDir, name), nil
}

// ExportJob returns a job that exports svc to a new file under ExportDir.
// The export runs on a read snapshot and does not block writers.
func ExportJob(files storage.Provider, svc *entityservice.Service) jobs.RunFunc {
	return func(ctx context.Context, p *jobs.Progress) error {
		name := ExportName(svc.Database().UUID, time.Now())
		rel, err := ExportPath(name)
		if err != nil {
			return err
		}
		abs, err := files.Abs(rel)
		if err != nil {
			return err
		}
		return svc.Read(func(st *entitystore.Store) error {
			if _, err := Export(ctx, st, abs, p); err != nil {
				return err
			}
			p.SetResult(name)
			return nil
		})
	}
}

// ImportJob returns a job that imports the export file name into svc.
// The file must exist when the job is created.
func ImportJob(files storage.Provider, svc *entityservice.Service, name string) (jobs.RunFunc, error) {
	if svc.ReadOnly() {
		return nil, fmt.Errorf("%w: %s", apperr.ErrReadOnly, svc.Database().Location)
	}
	rel, err := ExportPath(name)
	if err != nil {
		return nil, err
	}
	f, err := files.Open(rel)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: export %s", apperr.ErrNotFound, name)
		}
		return nil, err
	}
	f.Close()
	abs, err := files.Abs(rel)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, p *jobs.Progress) error {
		return svc.Write(func(st *entitystore.Store) error {
			n, err := Import(ctx, st, abs, p)
			if err != nil {
				// Entities created so far stay in the database.
				p.SetResult(fmt.Sprintf("%d entities imported before the job stopped", n))
				return err
			}
			p.SetResult(fmt.Sprintf("%d entities imported", n))
			return nil
		})
	}, nil
}

// DeleteJob returns a job deleting every entity of typeName matching q.
// The query is parsed up front so syntax errors surface immediately.
func DeleteJob(svc *entityservice.Service, typeName, q string) (jobs.RunFunc, error) {
	if svc.ReadOnly() {
		return nil, fmt.Errorf("%w: %s", apperr.ErrReadOnly, svc.Database().Location)
	}
	if strings.TrimSpace(typeName) == "" {
		return nil, fmt.Errorf("%w: type is required", apperr.ErrInvalidField)
	}
	pred, err := query.Parse(q)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, p *jobs.Progress) error {
		return svc.Write(func(st *entitystore.Store) error {
			n, err := DeleteMatching(ctx, st, typeName, pred, p)
			if err != nil {
				p.SetResult(fmt.Sprintf("%d entities deleted before the job stopped", n))
				return err
			}
			p.SetResult(fmt.Sprintf("%d entities deleted", n))
			return nil
		})
	}, nil
}
