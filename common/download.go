package common

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/liuxd6825/k6browser/protocol"
	"github.com/liuxd6825/k6browser/storage"
)

var errDownloadCanceled = errors.New("download was canceled")

// Download is a file download started by a page.
type Download struct {
	page              *Page
	guid              string
	url               string
	suggestedFilename string
	persister         storage.FilePersister

	done  chan struct{}
	once  sync.Once
	state string
}

func newDownload(p *Page, ev *protocol.EventDownloadWillBegin, persister storage.FilePersister) *Download {
	return &Download{
		page:              p,
		guid:              ev.GUID,
		url:               ev.URL,
		suggestedFilename: ev.SuggestedFilename,
		persister:         persister,
		done:              make(chan struct{}),
		state:             protocol.DownloadInProgress,
	}
}

// SuggestedFilename returns the file name the browser proposed.
func (d *Download) SuggestedFilename() string { return d.suggestedFilename }

// URL returns the URL of the downloaded resource.
func (d *Download) URL() string { return d.url }

// Page returns the page that started the download.
func (d *Download) Page() *Page { return d.page }

// finish records the final state of the download.
func (d *Download) finish(state string) {
	d.once.Do(func() {
		d.state = state
		close(d.done)
	})
}

// Wait blocks until the download completed. A canceled download, or one
// whose page closed first, is an error.
func (d *Download) Wait(ctx context.Context) error {
	select {
	case <-d.done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for download %q: %w", d.suggestedFilename, ctx.Err())
	}
	if d.state != protocol.DownloadCompleted {
		return fmt.Errorf("waiting for download %q: %w", d.suggestedFilename, errDownloadCanceled)
	}
	return nil
}

// SaveAs waits for the download to complete and writes its content to
// path.
func (d *Download) SaveAs(ctx context.Context, path string) error {
	d.page.logger.Debugf("Download:SaveAs", "pid:%s guid:%s path:%q", d.page.id, d.guid, path)

	if path == "" {
		return fmt.Errorf("saving download: %w", storage.ErrEmptyPath)
	}
	if err := d.Wait(ctx); err != nil {
		return err
	}

	var res protocol.ReadDownloadResult
	err := fromProtocol(d.page.transport.Execute(ctx, protocol.CommandBrowserReadDownload,
		&protocol.ReadDownloadParams{GUID: d.guid}, &res))
	if err != nil {
		return fmt.Errorf("reading download %q: %w", d.suggestedFilename, err)
	}
	if err := d.persister.Persist(ctx, path, bytes.NewReader(res.Data)); err != nil {
		return fmt.Errorf("saving download %q to %q: %w", d.suggestedFilename, path, err)
	}
	return nil
}
