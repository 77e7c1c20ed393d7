package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/k6browser/lib/types"
	"github.com/liuxd6825/k6browser/log"
	"github.com/liuxd6825/k6browser/protocol"
	"github.com/liuxd6825/k6browser/tests/fakebrowser"
)

// failingTransport fails the commands in fail and forwards the others.
type failingTransport struct {
	Transport
	fail map[protocol.MethodType]error
}

func (t *failingTransport) Execute(ctx context.Context, method protocol.MethodType, params, res any) error {
	if err, ok := t.fail[method]; ok {
		return err
	}
	return t.Transport.Execute(ctx, method, params, res)
}

func TestBrowserContexts(t *testing.T) {
	t.Parallel()

	b, fake := newTestBrowser(t)
	fake.Route(testURL, `<p>hi</p>`)
	ctx := context.Background()

	require.NotNil(t, b.DefaultContext())
	assert.Len(t, b.Contexts(), 1)
	assert.True(t, b.IsConnected())

	bctx, err := b.NewContext(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, b.DefaultContext().ID(), bctx.ID())
	assert.Same(t, b, bctx.Browser())
	assert.Len(t, b.Contexts(), 2)

	p, err := b.NewPage(ctx)
	require.NoError(t, err)
	assert.Len(t, b.Contexts(), 3, "NewPage opens the page in a context of its own")
	assert.Equal(t, []*Page{p}, p.Context().Pages())
	assert.Empty(t, b.DefaultContext().Pages())
	assert.Equal(t, fakebrowser.BlankURL, p.URL())

	p2, err := p.Context().NewPage(ctx)
	require.NoError(t, err)
	assert.Equal(t, []*Page{p, p2}, p.Context().Pages())

	require.NoError(t, p.Context().Close(ctx))
	assert.True(t, p.IsClosed())
	assert.True(t, p2.IsClosed())
	assert.Len(t, b.Contexts(), 2)
	require.NoError(t, p.Context().Close(ctx), "closing twice is a no-op")
}

func TestBrowserNewPageErrors(t *testing.T) {
	t.Parallel()

	fake := fakebrowser.New()
	tr := &failingTransport{Transport: fake, fail: map[protocol.MethodType]error{
		protocol.CommandTargetCreatePage: &protocol.Error{Code: protocol.ErrCodeServer, Message: "out of tabs"},
	}}
	b, err := NewBrowser(context.Background(), tr, NewBrowserOptions(), log.NewNullLogger())
	require.NoError(t, err)
	defer b.Close() //nolint:errcheck

	_, err = b.DefaultContext().NewPage(context.Background())
	require.ErrorContains(t, err, "creating page")
	require.ErrorContains(t, err, "out of tabs")
	assert.Empty(t, b.DefaultContext().Pages())

	// The default context is created with the browser.
	tr = &failingTransport{Transport: fakebrowser.New(), fail: map[protocol.MethodType]error{
		protocol.CommandTargetCreateBrowserContext: errors.New("no contexts"),
	}}
	_, err = NewBrowser(context.Background(), tr, NewBrowserOptions(), log.NewNullLogger())
	require.ErrorContains(t, err, "creating default browser context")
}

func TestBrowserInvalidOptions(t *testing.T) {
	t.Parallel()

	opts := NewBrowserOptions()
	opts.Timeout = types.NullDurationFrom(-time.Second)

	fake := fakebrowser.New()
	defer fake.Close() //nolint:errcheck
	_, err := NewBrowser(context.Background(), fake, opts, log.NewNullLogger())
	require.Error(t, err)
}

func TestBrowserClose(t *testing.T) {
	t.Parallel()

	p, _ := newTestPage(t, dialogsHTML)
	b := p.Context().Browser()
	ctx := context.Background()

	pending := make(chan error, 1)
	go func() {
		_, err := p.WaitForDialog(ctx, &WaitForEventOptions{Timeout: time.Minute}, nil)
		pending <- err
	}()
	time.Sleep(testPoll)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close(), "closing twice is a no-op")
	assert.False(t, b.IsConnected())
	assert.True(t, p.IsClosed())

	require.ErrorIs(t, <-pending, ErrConnectionClosed)

	_, err := p.Locator("#alert").Count(ctx)
	require.ErrorIs(t, err, ErrConnectionClosed)
	_, err = b.NewContext(ctx)
	require.ErrorIs(t, err, ErrConnectionClosed)
	_, err = p.Context().WaitForPage(ctx, nil, nil)
	require.ErrorIs(t, err, ErrConnectionClosed)
}

func TestBrowserDisconnected(t *testing.T) {
	t.Parallel()

	p, fake := newTestPage(t, `<button id="never" hidden>Never</button>`)
	b := p.Context().Browser()
	ctx := context.Background()

	clicked := make(chan error, 1)
	go func() {
		clicked <- p.Locator("#never").Click(ctx, &ClickOptions{Timeout: time.Minute})
	}()
	time.Sleep(testPoll)

	// The browser process went away on its own.
	require.NoError(t, fake.Close())

	select {
	case err := <-clicked:
		require.ErrorIs(t, err, ErrConnectionClosed)
	case <-time.After(testTimeout):
		t.Fatal("pending click not failed by the disconnect")
	}
	require.Eventually(t, func() bool { return !b.IsConnected() }, testTimeout, testPoll)
	assert.True(t, p.IsClosed())
}
