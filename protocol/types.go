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

package protocol

type (
	// BrowserContextID identifies an isolated browser context.
	BrowserContextID string
	// PageID identifies a page (a top level window or tab).
	PageID string
	// FrameID identifies a frame within a page.
	FrameID string
	// NodeID identifies a DOM node within a frame document.
	NodeID int64
	// DialogID identifies an open JavaScript dialog.
	DialogID string
)

// Lifecycle event names.
const (
	LifecycleDOMContentLoaded = "DOMContentLoaded"
	LifecycleLoad             = "load"
	LifecycleNetworkIdle      = "networkIdle"
)

// Rect is an element bounding box in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the middle point of the box.
func (r Rect) Center() (float64, float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Node describes the live state of a DOM element at the time it was queried.
type Node struct {
	NodeID   NodeID `json:"nodeId"`
	ParentID NodeID `json:"parentId,omitempty"`
	// Order is the position of the node in document order.
	Order int `json:"order"`

	Tag        string            `json:"tag"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Text       string            `json:"text"`
	Value      string            `json:"value,omitempty"`
	Role       string            `json:"role,omitempty"`
	Name       string            `json:"name,omitempty"`

	Connected bool  `json:"connected"`
	Visible   bool  `json:"visible"`
	Enabled   bool  `json:"enabled"`
	Editable  bool  `json:"editable"`
	Checkable bool  `json:"checkable"`
	Checked   bool  `json:"checked"`
	Box       *Rect `json:"box,omitempty"`
	// Complete reports whether an image finished loading.
	Complete bool `json:"complete,omitempty"`

	// ContentFrameID is set for iframe elements whose document is loaded.
	ContentFrameID FrameID `json:"contentFrameId,omitempty"`
}

// Attribute returns the attribute value and whether it is present.
func (n *Node) Attribute(name string) (string, bool) {
	v, ok := n.Attributes[name]
	return v, ok
}

// CreateBrowserContextResult is the reply to Target.createBrowserContext.
type CreateBrowserContextResult struct {
	BrowserContextID BrowserContextID `json:"browserContextId"`
}

// CreatePageParams creates a new blank page.
type CreatePageParams struct {
	BrowserContextID BrowserContextID `json:"browserContextId"`
}

// CreatePageResult is the reply to Target.createPage.
type CreatePageResult struct {
	PageID PageID `json:"pageId"`
}

// ClosePageParams closes a page.
type ClosePageParams struct {
	PageID PageID `json:"pageId"`
}

// NavigateParams navigates a frame.
type NavigateParams struct {
	PageID  PageID  `json:"pageId"`
	FrameID FrameID `json:"frameId"`
	URL     string  `json:"url"`
}

// NavigateResult is the reply to Page.navigate.
type NavigateResult struct {
	LoaderID  string `json:"loaderId"`
	Status    int    `json:"status"`
	ErrorText string `json:"errorText,omitempty"`
}

// HandleDialogParams accepts or dismisses a dialog.
type HandleDialogParams struct {
	PageID     PageID   `json:"pageId"`
	DialogID   DialogID `json:"dialogId"`
	Accept     bool     `json:"accept"`
	PromptText string   `json:"promptText,omitempty"`
}

// CaptureScreenshotParams captures the page viewport.
type CaptureScreenshotParams struct {
	PageID   PageID `json:"pageId"`
	FullPage bool   `json:"fullPage,omitempty"`
}

// CaptureScreenshotResult holds the encoded image.
type CaptureScreenshotResult struct {
	Data []byte `json:"data"`
}

// QuerySelectorAllParams runs a CSS query in a frame document. When Scope
// is empty the whole document is searched, otherwise only the sub-trees of
// the given nodes.
type QuerySelectorAllParams struct {
	PageID   PageID   `json:"pageId"`
	FrameID  FrameID  `json:"frameId"`
	Selector string   `json:"selector"`
	Scope    []NodeID `json:"scope,omitempty"`
}

// QuerySelectorAllResult lists matching nodes in document order.
type QuerySelectorAllResult struct {
	Nodes []Node `json:"nodes"`
}

// NodeParams targets a single node.
type NodeParams struct {
	PageID  PageID  `json:"pageId"`
	FrameID FrameID `json:"frameId"`
	NodeID  NodeID  `json:"nodeId"`
}

// DescribeNodeResult is the reply to DOM.describeNode.
type DescribeNodeResult struct {
	Node Node `json:"node"`
}

// HitTestParams asks which node receives pointer events at a point.
type HitTestParams struct {
	PageID  PageID  `json:"pageId"`
	FrameID FrameID `json:"frameId"`
	NodeID  NodeID  `json:"nodeId"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

// HitTestResult reports the node hit at the point. IsTarget is true when
// the hit node is the target node or one of its descendants.
type HitTestResult struct {
	HitNodeID NodeID `json:"hitNodeId"`
	IsTarget  bool   `json:"isTarget"`
}

// ClickParams dispatches a click at a point on a node.
type ClickParams struct {
	PageID     PageID  `json:"pageId"`
	FrameID    FrameID `json:"frameId"`
	NodeID     NodeID  `json:"nodeId"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	ClickCount int     `json:"clickCount"`
}

// FillParams replaces the value of an input or editable element.
type FillParams struct {
	PageID  PageID  `json:"pageId"`
	FrameID FrameID `json:"frameId"`
	NodeID  NodeID  `json:"nodeId"`
	Value   string  `json:"value"`
}

// SetCheckedParams sets a checkbox or radio state.
type SetCheckedParams struct {
	PageID  PageID  `json:"pageId"`
	FrameID FrameID `json:"frameId"`
	NodeID  NodeID  `json:"nodeId"`
	Checked bool    `json:"checked"`
}

// SelectOptionsParams selects options of a select element by value or label.
type SelectOptionsParams struct {
	PageID  PageID   `json:"pageId"`
	FrameID FrameID  `json:"frameId"`
	NodeID  NodeID   `json:"nodeId"`
	Values  []string `json:"values"`
}

// SelectOptionsResult lists the values that ended up selected.
type SelectOptionsResult struct {
	Selected []string `json:"selected"`
}

// ReadDownloadParams fetches the content of a finished download.
type ReadDownloadParams struct {
	GUID string `json:"guid"`
}

// ReadDownloadResult holds the downloaded bytes.
type ReadDownloadResult struct {
	Data []byte `json:"data"`
}

// EventPageCreated is emitted when a page is opened, either by the engine
// or by the page itself (window.open, target=_blank).
type EventPageCreated struct {
	PageID           PageID           `json:"pageId"`
	BrowserContextID BrowserContextID `json:"browserContextId"`
	OpenerID         PageID           `json:"openerId,omitempty"`
	URL              string           `json:"url"`
}

// EventPageClosed is emitted when a page is closed.
type EventPageClosed struct {
	PageID PageID `json:"pageId"`
}

// EventFrameAttached is emitted when a frame is attached to its parent.
type EventFrameAttached struct {
	PageID        PageID  `json:"pageId"`
	FrameID       FrameID `json:"frameId"`
	ParentFrameID FrameID `json:"parentFrameId,omitempty"`
}

// EventFrameNavigated is emitted when a frame committed a new document.
type EventFrameNavigated struct {
	PageID   PageID  `json:"pageId"`
	FrameID  FrameID `json:"frameId"`
	URL      string  `json:"url"`
	Name     string  `json:"name,omitempty"`
	LoaderID string  `json:"loaderId"`
}

// EventFrameDetached is emitted when a frame is removed or its page closed.
type EventFrameDetached struct {
	PageID  PageID  `json:"pageId"`
	FrameID FrameID `json:"frameId"`
}

// EventLifecycle is emitted for document lifecycle milestones.
type EventLifecycle struct {
	PageID   PageID  `json:"pageId"`
	FrameID  FrameID `json:"frameId"`
	LoaderID string  `json:"loaderId"`
	Name     string  `json:"name"`
}

// EventDialogOpening is emitted when alert, confirm, prompt or beforeunload
// dialogs open. The page is blocked until the dialog is handled.
type EventDialogOpening struct {
	PageID        PageID   `json:"pageId"`
	DialogID      DialogID `json:"dialogId"`
	Type          string   `json:"type"`
	Message       string   `json:"message"`
	DefaultPrompt string   `json:"defaultPrompt,omitempty"`
}

// EventDialogClosed is emitted when a dialog has been handled.
type EventDialogClosed struct {
	PageID   PageID   `json:"pageId"`
	DialogID DialogID `json:"dialogId"`
	Accepted bool     `json:"accepted"`
}

// EventDownloadWillBegin is emitted when a download starts.
type EventDownloadWillBegin struct {
	PageID            PageID  `json:"pageId"`
	FrameID           FrameID `json:"frameId"`
	GUID              string  `json:"guid"`
	URL               string  `json:"url"`
	SuggestedFilename string  `json:"suggestedFilename"`
}

// Download states.
const (
	DownloadInProgress = "inProgress"
	DownloadCompleted  = "completed"
	DownloadCanceled   = "canceled"
)

// EventDownloadProgress is emitted when a download changes state.
type EventDownloadProgress struct {
	GUID          string `json:"guid"`
	State         string `json:"state"`
	ReceivedBytes int64  `json:"receivedBytes"`
}
