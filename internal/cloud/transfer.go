package cloud

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/cloudtree/cloudtree/internal/csperr"
	"github.com/cloudtree/cloudtree/internal/transfer"
)

// UploadRequest describes one upload into a folder.
type UploadRequest[N any] struct {
	LocalPath string
	Name      string // defaults to the local file's base name
	Overwrite bool

	// Listener receives the ADD operation events.
	Listener OperationListener[N]
	// TransferListener receives the job's transfer events.
	TransferListener transfer.Listener
	// OnStart is called with the job before any byte moves, e.g. to keep a
	// handle for Cancel.
	OnStart func(*transfer.Job)
}

// DownloadRequest describes one download of a file to the local disk.
type DownloadRequest struct {
	LocalPath        string
	TransferListener transfer.Listener
	OnStart          func(*transfer.Job)
}

// Upload streams a local file into the folder as a new child. It runs as an
// ADD operation on the folder, and the byte stream as an upload transfer job
// whose progress is pushed as the file is read. The operation's IN_PROGRESS
// events follow the transfer's progress.
func (f *Folder[N]) Upload(ctx context.Context, req UploadRequest[N]) (*File[N], error) {
	inv := f.begin(OpAdd, req.Listener)
	defer inv.end()

	name := req.Name
	if name == "" {
		name = filepath.Base(req.LocalPath)
	}

	if err := validName(name); err != nil {
		return nil, inv.fail(f.Path(), err)
	}

	local, err := os.Open(req.LocalPath)
	if err != nil {
		return nil, inv.fail(f.Path(), csperr.Transfer("open", req.LocalPath, err))
	}

	// The job owns local from Attach on; until then it is ours to close.
	stat, err := local.Stat()
	if err != nil {
		local.Close()
		return nil, inv.fail(f.Path(), csperr.Transfer("stat", req.LocalPath, err))
	}

	target := joinPath(f.Path(), name)

	// The lock covers the collision check and the name reservation only, so
	// uploads of different names into one folder run in parallel.
	f.opMu.Lock()
	err = inv.clearCollision(ctx, f, name, req.Overwrite)
	if err == nil {
		f.pending[name] = struct{}{}
	}
	f.opMu.Unlock()

	if err != nil {
		local.Close()
		return nil, err
	}

	defer func() {
		f.opMu.Lock()
		delete(f.pending, name)
		f.opMu.Unlock()
	}()

	job := f.session.newJob(transfer.Upload, transfer.LocalFile(req.LocalPath), RemotePath(target), stat.Size())
	job.Attach(local)

	if req.TransferListener != nil {
		job.AddListener(req.TransferListener)
	}

	job.AddListener(func(e transfer.Event) { inv.progress(e.Progress) }, transfer.InProgress)

	if req.OnStart != nil {
		req.OnStart(job)
	}

	inv.progress(0)

	err = job.Run(ctx, func(ctx context.Context) error {
		sink, err := f.adapter.OpenUploadStream(ctx, target, stat.Size())
		if err != nil {
			return err
		}

		if _, err := io.Copy(sink, transfer.NewProgressReader(local, job)); err != nil {
			abortSink(sink, err)
			return err
		}

		return sink.Close()
	})
	if err != nil {
		return nil, inv.fail(target, err)
	}

	f.opMu.Lock()
	file, err := f.attachUploaded(ctx, target, name)
	f.opMu.Unlock()

	if err != nil {
		return nil, inv.fail(target, err)
	}

	inv.complete()

	return file, nil
}

// attachUploaded fetches the freshly uploaded file and attaches it. A Load
// that ran during the upload may already have attached it. The caller holds
// f.opMu.
func (f *Folder[N]) attachUploaded(ctx context.Context, target, name string) (*File[N], error) {
	native, err := f.adapter.FetchMetadata(ctx, Ref{Path: target})
	if err != nil {
		return nil, fmt.Errorf("fetching uploaded file: %w", err)
	}

	if known, ok := f.Child(name).(*File[N]); ok {
		known.updateInfo(native)
		return known, nil
	}

	file, ok := f.session.newNode(native).(*File[N])
	if !ok {
		return nil, errors.New("provider returned a folder for an uploaded file")
	}

	if err := f.attach(file); err != nil {
		return nil, err
	}

	return file, nil
}

// abortSink tells the provider to discard a partial upload when the sink
// supports it, and closes it otherwise.
func abortSink(sink io.WriteCloser, cause error) {
	if a, ok := sink.(interface{ CloseWithError(error) error }); ok {
		a.CloseWithError(cause)
		return
	}

	sink.Close()
}

// partialSuffix marks a download that has not finished yet.
const partialSuffix = ".partial"

// partialFile is a download written beside its final path and renamed into
// place once complete. Close may be called more than once.
type partialFile struct {
	*os.File

	once sync.Once
	err  error
}

func (p *partialFile) Close() error {
	p.once.Do(func() { p.err = p.File.Close() })
	return p.err
}

// Download writes the file's content to req.LocalPath. The bytes go to
// req.LocalPath+".partial", whose growing size is polled for progress, and
// the partial file replaces req.LocalPath only once the transfer succeeded.
// A failed or cancelled download removes the partial file and leaves any
// existing file at req.LocalPath untouched.
func (f *File[N]) Download(ctx context.Context, req DownloadRequest) error {
	src := f.Path()
	total := f.Size()
	partial := req.LocalPath + partialSuffix

	fh, err := os.Create(partial)
	if err != nil {
		return csperr.Transfer(transfer.Download.String(), req.LocalPath, err)
	}

	out := &partialFile{File: fh}

	job := f.session.newJob(transfer.Download, RemotePath(src), transfer.LocalFile(req.LocalPath), total)
	job.Attach(out)

	if req.TransferListener != nil {
		job.AddListener(req.TransferListener)
	}

	if req.OnStart != nil {
		req.OnStart(job)
	}

	err = job.Run(ctx, func(ctx context.Context) error {
		body, err := f.adapter.OpenDownloadStream(ctx, src)
		if err != nil {
			return err
		}
		defer body.Close()

		mon := transfer.NewPollMonitor(job, partial, f.logger,
			transfer.WithInterval(f.session.pollInterval),
			transfer.WithWatch(f.session.watchFiles),
		)
		mon.Start()

		_, err = io.Copy(out, body)
		if err == nil {
			err = out.Sync()
		}

		if closeErr := out.Close(); err == nil {
			err = closeErr
		}

		mon.Stop()

		if err != nil {
			return err
		}

		return os.Rename(partial, req.LocalPath)
	})
	if err != nil {
		if rmErr := os.Remove(partial); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			f.logger.Warn("removing partial download",
				slog.String("path", partial),
				slog.String("error", rmErr.Error()),
			)
		}

		return err
	}

	f.logger.Debug("download written",
		slog.String("path", src),
		slog.String("local", req.LocalPath),
	)

	return nil
}
