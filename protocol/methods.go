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

// Commands. Names follow CDP where CDP has the command. Fill, check, select
// and download reads are single commands here because a transport does not
// have to be Chrome, so cdproto's generated params cannot describe them.
const (
	CommandTargetCreateBrowserContext MethodType = "Target.createBrowserContext"
	CommandTargetCreatePage           MethodType = "Target.createPage"
	CommandTargetClosePage            MethodType = "Target.closePage"

	CommandPageNavigate               MethodType = "Page.navigate"
	CommandPageHandleJavaScriptDialog MethodType = "Page.handleJavaScriptDialog"
	CommandPageCaptureScreenshot      MethodType = "Page.captureScreenshot"
	CommandDOMQuerySelectorAll        MethodType = "DOM.querySelectorAll"
	CommandDOMDescribeNode            MethodType = "DOM.describeNode"
	CommandDOMHitTest                 MethodType = "DOM.hitTest"
	CommandDOMFill                    MethodType = "DOM.fill"
	CommandDOMSetChecked              MethodType = "DOM.setChecked"
	CommandDOMSelectOptions           MethodType = "DOM.selectOptions"
	CommandInputClick                 MethodType = "Input.click"
	CommandBrowserReadDownload        MethodType = "Browser.readDownload"
)

// Events.
const (
	EventTargetPageCreated           MethodType = "Target.pageCreated"
	EventTargetPageClosed            MethodType = "Target.pageClosed"
	EventPageFrameAttached           MethodType = "Page.frameAttached"
	EventPageFrameNavigated          MethodType = "Page.frameNavigated"
	EventPageFrameDetached           MethodType = "Page.frameDetached"
	EventPageLifecycleEvent          MethodType = "Page.lifecycleEvent"
	EventPageJavascriptDialogOpening MethodType = "Page.javascriptDialogOpening"
	EventPageJavascriptDialogClosed  MethodType = "Page.javascriptDialogClosed"
	EventPageDownloadWillBegin       MethodType = "Page.downloadWillBegin"
	EventPageDownloadProgress        MethodType = "Page.downloadProgress"
)

// DecodeEvent decodes the params of an event message into its typed form.
// Unknown events decode to nil.
func DecodeEvent(msg *Message) (any, error) {
	var ev any
	switch msg.Method {
	case EventTargetPageCreated:
		ev = new(EventPageCreated)
	case EventTargetPageClosed:
		ev = new(EventPageClosed)
	case EventPageFrameAttached:
		ev = new(EventFrameAttached)
	case EventPageFrameNavigated:
		ev = new(EventFrameNavigated)
	case EventPageFrameDetached:
		ev = new(EventFrameDetached)
	case EventPageLifecycleEvent:
		ev = new(EventLifecycle)
	case EventPageJavascriptDialogOpening:
		ev = new(EventDialogOpening)
	case EventPageJavascriptDialogClosed:
		ev = new(EventDialogClosed)
	case EventPageDownloadWillBegin:
		ev = new(EventDownloadWillBegin)
	case EventPageDownloadProgress:
		ev = new(EventDownloadProgress)
	default:
		return nil, nil
	}
	if err := Decode(msg.Params, ev); err != nil {
		return nil, err
	}
	return ev, nil
}
