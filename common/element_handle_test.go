package common

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestElementHandleReads(t *testing.T) {
	t.Parallel()

	p, _ := newTestPage(t, `<html><body>
		<input id="name" value="tomsmith" data-testid="user">
		<input type="checkbox" id="agree" checked>
		<div id="box">Box</div>
		<button id="off" disabled hidden>Off</button>
	</body></html>`)
	ctx := context.Background()

	name, err := p.Query(ctx, "#name")
	require.NoError(t, err)
	require.NotNil(t, name)
	assert.Equal(t, "input", name.Tag())
	assert.Same(t, p.MainFrame(), name.Frame())

	v, err := name.InputValue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tomsmith", v)

	attr, ok, err := name.GetAttribute(ctx, "data-testid")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "user", attr)
	_, ok, err = name.GetAttribute(ctx, "placeholder")
	require.NoError(t, err)
	assert.False(t, ok)

	box, err := name.BoundingBox(ctx)
	require.NoError(t, err)
	require.NotNil(t, box)
	assert.Equal(t, 100.0, box.Width)
	assert.Positive(t, box.Height)

	agree, err := p.Query(ctx, "#agree")
	require.NoError(t, err)
	checked, err := agree.IsChecked(ctx)
	require.NoError(t, err)
	assert.True(t, checked)
	require.NoError(t, agree.Uncheck(ctx, nil))
	checked, err = agree.IsChecked(ctx)
	require.NoError(t, err)
	assert.False(t, checked)

	div, err := p.Query(ctx, "#box")
	require.NoError(t, err)
	_, err = div.InputValue(ctx)
	require.ErrorIs(t, err, errNotInput)
	_, err = div.IsChecked(ctx)
	require.ErrorIs(t, err, errNotCheckable)

	off, err := p.Query(ctx, "#off")
	require.NoError(t, err)
	visible, err := off.IsVisible(ctx)
	require.NoError(t, err)
	assert.False(t, visible)
	enabled, err := off.IsEnabled(ctx)
	require.NoError(t, err)
	assert.False(t, enabled)
	box, err = off.BoundingBox(ctx)
	require.NoError(t, err)
	assert.Nil(t, box, "hidden elements have no box")

	missing, err := p.Query(ctx, "#missing")
	require.NoError(t, err)
	assert.Nil(t, missing, "Query does not wait")
}

func TestElementHandleQueryScoped(t *testing.T) {
	t.Parallel()

	p, _ := newTestPage(t, `<html><body>
		<div id="a"><span>1</span></div>
		<div id="b"><span>2</span><span>3</span></div>
	</body></html>`)
	ctx := context.Background()

	b, err := p.Query(ctx, "#b")
	require.NoError(t, err)
	spans, err := b.QueryAll(ctx, "span")
	require.NoError(t, err)
	require.Len(t, spans, 2)

	text, err := spans[0].TextContent(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2", text)

	three, err := b.Query(ctx, "text=3")
	require.NoError(t, err)
	require.NotNil(t, three)
	assert.Equal(t, spans[1].NodeID(), three.NodeID())

	_, err = b.QueryAll(ctx, "span[")
	require.ErrorIs(t, err, ErrInvalidSelector)
}

func TestElementHandleImages(t *testing.T) {
	t.Parallel()

	p, _ := newTestPage(t, `<html><body>
		<img src="img/avatar-blank.jpg">
		<img src="asdf.jpg" data-loading>
		<img src="img/avatar.jpg">
	</body></html>`)
	ctx := context.Background()

	imgs, err := p.QueryAll(ctx, "img")
	require.NoError(t, err)
	require.Len(t, imgs, 3)

	var broken int
	for _, img := range imgs {
		complete, err := img.Complete(ctx)
		require.NoError(t, err)
		if !complete {
			broken++
		}
	}
	assert.Equal(t, 1, broken)
}

func TestElementHandleDetached(t *testing.T) {
	t.Parallel()

	const markup = `<html><body>
		<p id="victim">Soon gone</p>
		<button id="remove" data-action="remove" data-target="#victim">Remove</button>
		<a id="away" href="/other">Away</a>
	</body></html>`

	t.Run("removed", func(t *testing.T) {
		t.Parallel()

		p, _ := newTestPage(t, markup)
		ctx := context.Background()

		victim, err := p.Query(ctx, "#victim")
		require.NoError(t, err)
		require.NoError(t, p.Click(ctx, "#remove", nil))

		_, err = victim.TextContent(ctx)
		var de *DetachedElementError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, "#victim", de.Selector)

		err = victim.Click(ctx, &ClickOptions{Timeout: testTimeout})
		require.ErrorAs(t, err, &de, "a handle is never resolved again")
	})
	t.Run("document_replaced", func(t *testing.T) {
		t.Parallel()

		p, fake := newTestPage(t, markup)
		fake.Route("https://the-internet.test/other", `<p id="victim">Another one</p>`)
		ctx := context.Background()

		victim, err := p.Query(ctx, "#victim")
		require.NoError(t, err)
		_, err = p.Goto(ctx, "https://the-internet.test/other", nil)
		require.NoError(t, err)

		_, err = victim.TextContent(ctx)
		var de *DetachedElementError
		require.ErrorAs(t, err, &de)

		// A locator resolves again and finds the new element.
		text, err := p.Locator("#victim").TextContent(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, "Another one", text)
	})
}

func TestElementHandleContentFrame(t *testing.T) {
	t.Parallel()

	p, _ := newTestPage(t, `<html><body>
		<iframe id="frame" srcdoc="<p id='inner'>Inside</p>"></iframe>
		<div id="plain">Plain</div>
	</body></html>`)
	ctx := context.Background()

	iframe, err := p.Query(ctx, "#frame")
	require.NoError(t, err)
	f, err := iframe.ContentFrame(ctx)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Same(t, p.MainFrame(), f.ParentFrame())

	text, err := f.Locator("#inner").TextContent(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "Inside", text)

	plain, err := p.Query(ctx, "#plain")
	require.NoError(t, err)
	f, err = plain.ContentFrame(ctx)
	require.NoError(t, err)
	assert.Nil(t, f)
}
