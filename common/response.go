package common

// Response is the main document response of a navigation.
type Response struct {
	url    string
	status int
	frame  *Frame
}

// URL returns the URL the frame committed.
func (r *Response) URL() string { return r.url }

// Status returns the HTTP status code of the document.
func (r *Response) Status() int { return r.status }

// OK reports whether the status is in the 2xx range.
func (r *Response) OK() bool { return r.status >= 200 && r.status <= 299 }

// Frame returns the navigated frame.
func (r *Response) Frame() *Frame { return r.frame }
