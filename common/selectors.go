/**
 * Copyright (c) Microsoft Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
 *
 * xk6-browser - a browser automation extension for k6
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package common

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/andybalholm/cascadia"
)

// Selector engines.
const (
	engineCSS          = "css"
	engineText         = "text"
	engineRole         = "role"
	engineNth          = "nth"
	engineVisible      = "visible"
	engineHasText      = "has-text"
	engineFrameControl = "internal:control"

	frameControlEnter = "enter-frame"
)

// ErrInvalidSelector is wrapped by selector parse errors. They are
// reported immediately, never retried.
var ErrInvalidSelector = errors.New("invalid selector")

// Matches `name:body`, a query engine name and selector for that engine.
var reQueryEngine *regexp.Regexp = regexp.MustCompile(`^[a-zA-Z_0-9-+:*]+$`)

// Matches start of XPath query.
var reXPathSelector *regexp.Regexp = regexp.MustCompile(`^\(*//`)

// Matches a role selector body, e.g. `button[name="Add Element"]`.
var reRoleSelector = regexp.MustCompile(`^([a-z]+)\s*((?:\[[^\]]*\])*)$`)

// Matches one role attribute, e.g. `[name="Add Element" s]` or `[checked=true]`.
var reRoleAttr = regexp.MustCompile(`\[\s*([a-z-]+)\s*(?:=\s*("(?:[^"\\]|\\.)*"|/(?:[^/\\]|\\.)*/[a-z]*|[a-z0-9]+)\s*([si])?)?\s*\]`)

// SelectorPart is one `>>` separated step of a selector.
type SelectorPart struct {
	Name string `json:"name"`
	Body string `json:"body"`

	text    *textMatcher
	role    *roleQuery
	nth     int
	visible bool
}

// Selector is a parsed, possibly chained, selector. Each part narrows the
// elements resolved by the previous one.
type Selector struct {
	Selector string          `json:"selector"`
	Parts    []*SelectorPart `json:"parts"`
}

// NewSelector parses selector.
func NewSelector(selector string) (*Selector, error) {
	s := Selector{
		Selector: selector,
		Parts:    make([]*SelectorPart, 0, 1),
	}
	if err := s.parse(); err != nil {
		return nil, fmt.Errorf("parsing selector %q: %w", selector, err)
	}
	return &s, nil
}

func (s *Selector) parse() error {
	if strings.TrimSpace(s.Selector) == "" {
		return fmt.Errorf("%w: empty selector", ErrInvalidSelector)
	}

	parsePart := func(selector string, start, index int) *SelectorPart {
		part := strings.TrimSpace(selector[start:index])
		eqIndex := strings.Index(part, "=")
		var name, body string

		switch {
		case eqIndex != -1 && reQueryEngine.MatchString(strings.TrimSpace(part[0:eqIndex])):
			name = strings.TrimSpace(part[0:eqIndex])
			body = strings.TrimSpace(part[eqIndex+1:])
		case len(part) > 1 && part[0] == '"' && part[len(part)-1] == '"':
			name = engineText
			body = part
		case len(part) > 1 && part[0] == '\'' && part[len(part)-1] == '\'':
			name = engineText
			body = part
		case reXPathSelector.MatchString(part) || strings.HasPrefix(part, ".."):
			// If selector starts with '//' or '//' prefixed with multiple opening
			// parenthesis, consider xpath.
			name = "xpath"
			body = part
		default:
			name = engineCSS
			body = part
		}

		return &SelectorPart{Name: name, Body: body}
	}

	start := 0
	index := 0
	var quote byte

	for index < len(s.Selector) {
		c := s.Selector[index]
		switch {
		case c == '\\' && index+1 < len(s.Selector):
			index += 2
		case quote != 0 && c == quote:
			quote = byte(0)
			index++
		case quote == 0 && (c == '"' || c == '\'' || c == '`'):
			quote = c
			index++
		case quote == 0 && c == '>' && index+1 < len(s.Selector) && s.Selector[index+1] == '>':
			s.Parts = append(s.Parts, parsePart(s.Selector, start, index))
			index += 2
			start = index
		default:
			index++
		}
	}
	s.Parts = append(s.Parts, parsePart(s.Selector, start, index))

	for _, p := range s.Parts {
		if err := p.compile(); err != nil {
			return err
		}
	}
	return nil
}

// compile validates the body of the part for its engine.
//
//nolint:cyclop
func (p *SelectorPart) compile() error {
	if p.Body == "" {
		return fmt.Errorf("%w: %s engine needs a body", ErrInvalidSelector, p.Name)
	}

	var err error
	switch p.Name {
	case engineCSS:
		if _, err = cascadia.ParseGroup(p.Body); err != nil {
			return fmt.Errorf("%w: %q is not a valid css selector: %w", ErrInvalidSelector, p.Body, err)
		}
	case engineText, engineHasText:
		p.text, err = parseTextMatcher(p.Body, p.Name == engineText)
	case engineRole:
		p.role, err = parseRoleQuery(p.Body)
	case engineNth:
		if p.nth, err = strconv.Atoi(p.Body); err != nil {
			return fmt.Errorf("%w: nth expects an integer, got %q", ErrInvalidSelector, p.Body)
		}
	case engineVisible:
		if p.visible, err = strconv.ParseBool(p.Body); err != nil {
			return fmt.Errorf("%w: visible expects true or false, got %q", ErrInvalidSelector, p.Body)
		}
	case engineFrameControl:
		if p.Body != frameControlEnter {
			return fmt.Errorf("%w: unknown frame control %q", ErrInvalidSelector, p.Body)
		}
	default:
		return fmt.Errorf("%w: unsupported selector engine %q", ErrInvalidSelector, p.Name)
	}
	return err
}

// textMatcher matches element text. Unquoted bodies match a case
// insensitive substring, quoted bodies the exact text and /re/ bodies a
// regular expression, always on whitespace normalized text.
type textMatcher struct {
	value string
	exact bool
	re    *regexp.Regexp
}

func parseTextMatcher(body string, exactWhenQuoted bool) (*textMatcher, error) {
	if len(body) > 1 && body[0] == '/' {
		end := strings.LastIndex(body, "/")
		if end > 0 {
			pattern, flags := body[1:end], body[end+1:]
			if strings.Contains(flags, "i") {
				pattern = "(?i)" + pattern
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("%w: %q is not a valid regular expression: %w", ErrInvalidSelector, body, err)
			}
			return &textMatcher{re: re}, nil
		}
	}
	if len(body) > 1 && (body[0] == '"' || body[0] == '\'') && body[len(body)-1] == body[0] {
		v, err := unquote(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidSelector, err)
		}
		if !exactWhenQuoted {
			return &textMatcher{value: normalizeWhiteSpace(v)}, nil
		}
		return &textMatcher{value: normalizeWhiteSpace(v), exact: true}, nil
	}
	return &textMatcher{value: normalizeWhiteSpace(body)}, nil
}

func unquote(s string) (string, error) {
	if s[0] == '\'' {
		s = `"` + strings.ReplaceAll(strings.ReplaceAll(s[1:len(s)-1], `\'`, `'`), `"`, `\"`) + `"`
	}
	v, err := strconv.Unquote(s)
	if err != nil {
		return "", fmt.Errorf("unquoting %s: %w", s, err)
	}
	return v, nil
}

func (m *textMatcher) match(text string) bool {
	text = normalizeWhiteSpace(text)
	switch {
	case m.re != nil:
		return m.re.MatchString(text)
	case m.exact:
		return text == m.value
	default:
		return strings.Contains(strings.ToLower(text), strings.ToLower(m.value))
	}
}

// roleQuery matches elements by ARIA role and accessible name.
type roleQuery struct {
	role    string
	name    *textMatcher
	checked *bool
}

func parseRoleQuery(body string) (*roleQuery, error) {
	m := reRoleSelector.FindStringSubmatch(strings.TrimSpace(body))
	if m == nil {
		return nil, fmt.Errorf("%w: %q is not a valid role selector", ErrInvalidSelector, body)
	}
	q := &roleQuery{role: m[1]}
	for _, attr := range reRoleAttr.FindAllStringSubmatch(m[2], -1) {
		key, value, flag := attr[1], attr[2], attr[3]
		switch key {
		case "name":
			tm, err := parseTextMatcher(value, flag == "s")
			if err != nil {
				return nil, err
			}
			q.name = tm
		case "checked":
			b := value == "" || value == "true"
			q.checked = &b
		default:
			return nil, fmt.Errorf("%w: unsupported role attribute %q", ErrInvalidSelector, key)
		}
	}
	return q, nil
}

func normalizeWhiteSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// String returns the selector text.
func (s *Selector) String() string {
	return s.Selector
}

// chainSelector joins selectors into one, each scoping the next.
func chainSelector(parts ...string) string {
	var nonEmpty []string
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, " >> ")
}

func textSelector(text string, exact bool) string {
	if exact {
		return engineText + "=" + strconv.Quote(text)
	}
	return engineText + "=" + text
}

func roleSelector(role string, opts *GetByRoleOptions) string {
	sel := engineRole + "=" + role
	if opts == nil {
		return sel
	}
	if opts.Name != "" {
		flag := ""
		if opts.Exact {
			flag = "s"
		}
		sel += "[name=" + strconv.Quote(opts.Name) + flag + "]"
	}
	if opts.Checked != nil {
		sel += "[checked=" + strconv.FormatBool(*opts.Checked) + "]"
	}
	return sel
}

func testIDSelector(id string) string {
	return engineCSS + "=[data-testid=" + strconv.Quote(id) + "]"
}
