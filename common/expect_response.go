package common

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"

	"github.com/tidwall/gjson"
)

// ResponseAssertions evaluate a response once. A received response does
// not change, so nothing is retried.
type ResponseAssertions struct {
	resp    *APIResponse
	negated bool
}

// ExpectResponse starts an assertion on resp.
func ExpectResponse(resp *APIResponse) *ResponseAssertions {
	return &ResponseAssertions{resp: resp}
}

// Not negates the next matcher.
func (a *ResponseAssertions) Not() *ResponseAssertions {
	return &ResponseAssertions{resp: a.resp, negated: !a.negated}
}

// ToBeOK passes on a 2xx status.
func (a *ResponseAssertions) ToBeOK() error {
	return a.check("toBeOK", "2xx status", strconv.Itoa(a.resp.status), a.resp.OK())
}

// ToHaveStatus passes when the status is code.
func (a *ResponseAssertions) ToHaveStatus(code int) error {
	return a.check("toHaveStatus", strconv.Itoa(code), strconv.Itoa(a.resp.status), a.resp.status == code)
}

// ToHaveHeader passes when header name has value.
func (a *ResponseAssertions) ToHaveHeader(name, value string) error {
	got := a.resp.Header(name)
	return a.check("toHaveHeader", fmt.Sprintf("%s: %q", name, value), fmt.Sprintf("%s: %q", name, got), got == value)
}

// ToHaveJSONField passes when the value at the gjson path equals expected
// once both are decoded as JSON values. Numbers compare as float64.
func (a *ResponseAssertions) ToHaveJSONField(path string, expected any) error {
	want, err := jsonValue(expected)
	if err != nil {
		return fmt.Errorf("encoding expected value of %q: %w", path, err)
	}
	res, err := a.resp.JSON(path)
	if err != nil {
		return err
	}
	var got any
	actual := "missing"
	if res.Exists() {
		got = res.Value()
		actual = res.Raw
	}
	ok := res.Exists() && reflect.DeepEqual(got, want)
	return a.check("toHaveJSONField", fmt.Sprintf("%s=%s", path, mustJSON(want)), fmt.Sprintf("%s=%s", path, actual), ok)
}

// ToHaveJSONType passes when the value at the gjson path has the JSON type
// typ: null, boolean, number, string, array or object.
func (a *ResponseAssertions) ToHaveJSONType(path, typ string) error {
	res, err := a.resp.JSON(path)
	if err != nil {
		return err
	}
	got := "missing"
	if res.Exists() {
		got = jsonType(res.Type, res.IsArray())
	}
	return a.check("toHaveJSONType", path+" of type "+typ, path+" of type "+got, got == typ)
}

func (a *ResponseAssertions) check(matcher, expected, actual string, ok bool) error {
	if ok != a.negated {
		return nil
	}
	return &AssertionError{
		Matcher:  matcher,
		Selector: a.resp.url,
		Expected: expected,
		Actual:   actual,
		Negated:  a.negated,
	}
}

// jsonValue normalizes v into the form encoding/json decodes it to, the
// form gjson's Value uses as well.
func jsonValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func jsonType(t gjson.Type, isArray bool) string {
	switch t {
	case gjson.Null:
		return "null"
	case gjson.False, gjson.True:
		return "boolean"
	case gjson.Number:
		return "number"
	case gjson.String:
		return "string"
	case gjson.JSON:
		if isArray {
			return "array"
		}
		return "object"
	default:
		return "missing"
	}
}
