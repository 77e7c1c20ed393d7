package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectorParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		selector string
		parts    [][2]string
	}{
		{
			name:     "css",
			selector: "#checkboxes input",
			parts:    [][2]string{{"css", "#checkboxes input"}},
		},
		{
			name:     "explicit_engine",
			selector: "css=div.example",
			parts:    [][2]string{{"css", "div.example"}},
		},
		{
			name:     "quoted_text",
			selector: `"Add Element"`,
			parts:    [][2]string{{"text", `"Add Element"`}},
		},
		{
			name:     "chain",
			selector: `#content >> text=Delete >> nth=0`,
			parts:    [][2]string{{"css", "#content"}, {"text", "Delete"}, {"nth", "0"}},
		},
		{
			name:     "quoted_chain_separator",
			selector: `text=">> not a chain"`,
			parts:    [][2]string{{"text", `">> not a chain"`}},
		},
		{
			name:     "role",
			selector: `role=button[name="Add Element" s]`,
			parts:    [][2]string{{"role", `button[name="Add Element" s]`}},
		},
		{
			name:     "frame",
			selector: `#mce_0_ifr >> internal:control=enter-frame >> #tinymce`,
			parts:    [][2]string{{"css", "#mce_0_ifr"}, {"internal:control", "enter-frame"}, {"css", "#tinymce"}},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sel, err := NewSelector(tt.selector)
			require.NoError(t, err)
			require.Len(t, sel.Parts, len(tt.parts))
			for i, p := range tt.parts {
				assert.Equal(t, p[0], sel.Parts[i].Name, "part %d name", i)
				assert.Equal(t, p[1], sel.Parts[i].Body, "part %d body", i)
			}
			assert.Equal(t, tt.selector, sel.String())
		})
	}
}

func TestSelectorParseErrors(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"empty":         "  ",
		"bad_css":       "div[",
		"bad_nth":       "div >> nth=first",
		"bad_regexp":    "text=/([a-z/",
		"xpath":         "//div",
		"unknown_role":  `role=button[level=2]`,
		"frame_control": "internal:control=leave-frame",
		"empty_body":    "text=",
	}
	for name, selector := range tests {
		selector := selector
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := NewSelector(selector)
			require.ErrorIs(t, err, ErrInvalidSelector)
		})
	}
}

func TestTextMatcher(t *testing.T) {
	t.Parallel()

	tests := []struct {
		body  string
		exact bool
		text  string
		want  bool
	}{
		{body: "delete", text: "  Delete  me ", want: true},
		{body: `"Delete"`, exact: true, text: "Delete", want: true},
		{body: `"Delete"`, exact: true, text: "Delete me", want: false},
		{body: `"Delete"`, exact: false, text: "delete me", want: true},
		{body: `/^Item \d$/`, text: "Item 3", want: true},
		{body: `/^item \d$/i`, text: "Item 3", want: true},
		{body: `/^item \d$/`, text: "Item 3", want: false},
		{body: "you clicked: ok", text: "You clicked:\n  Ok", want: true},
	}
	for _, tt := range tests {
		m, err := parseTextMatcher(tt.body, tt.exact)
		require.NoError(t, err)
		assert.Equal(t, tt.want, m.match(tt.text), "%s on %q", tt.body, tt.text)
	}
}

func TestSelectorBuilders(t *testing.T) {
	t.Parallel()

	checked := true
	assert.Equal(t, `text="Click me"`, textSelector("Click me", true))
	assert.Equal(t, `text=Click me`, textSelector("Click me", false))
	assert.Equal(t, `role=button`, roleSelector("button", nil))
	assert.Equal(t, `role=button[name="Add"s]`, roleSelector("button", &GetByRoleOptions{Name: "Add", Exact: true}))
	assert.Equal(t, `role=checkbox[checked=true]`, roleSelector("checkbox", &GetByRoleOptions{Checked: &checked}))
	assert.Equal(t, `css=[data-testid="submit"]`, testIDSelector("submit"))
	assert.Equal(t, `a >> b`, chainSelector("", "a", "", "b"))

	for _, sel := range []string{
		textSelector(`say "hi"`, true),
		roleSelector("button", &GetByRoleOptions{Name: "Add", Exact: true}),
		testIDSelector("submit"),
	} {
		_, err := NewSelector(sel)
		assert.NoError(t, err, sel)
	}
}
