package common

import (
	"github.com/liuxd6825/k6browser/log"
)

// FrameLocator represent a way to find element(s) in an iframe.
type FrameLocator struct {
	selector string

	frame *Frame

	log *log.Logger
}

func newFrameLocator(f *Frame, selector string) *FrameLocator {
	return &FrameLocator{
		selector: selector,
		frame:    f,
		log:      f.log,
	}
}

// GetByRole creates and returns a new locator for this frame locator based on their ARIA role.
func (fl *FrameLocator) GetByRole(role string, opts *GetByRoleOptions) *Locator {
	fl.log.Debugf("FrameLocator:GetByRole", "selector: %q role: %q opts:%+v", fl.selector, role, opts)

	return fl.Locator(roleSelector(role, opts))
}

// GetByTestID creates and returns a new locator for this frame locator based on the data-testid attribute.
func (fl *FrameLocator) GetByTestID(testID string) *Locator {
	fl.log.Debugf("FrameLocator:GetByTestID", "selector: %q testID: %q", fl.selector, testID)

	return fl.Locator(testIDSelector(testID))
}

// GetByText creates and returns a new locator for this frame locator based on text content.
func (fl *FrameLocator) GetByText(text string, exact bool) *Locator {
	fl.log.Debugf("FrameLocator:GetByText", "selector: %q text: %q exact:%t", fl.selector, text, exact)

	return fl.Locator(textSelector(text, exact))
}

// Locator creates and returns a new locator chained/relative to the current FrameLocator.
func (fl *FrameLocator) Locator(selector string) *Locator {
	// The control part switches resolution into the iframe's document.
	return newLocator(fl.frame, chainSelector(fl.selector, engineFrameControl+"="+frameControlEnter, selector))
}

// FrameLocator creates a nested frame locator for an iframe matching the given
// selector within this one.
func (fl *FrameLocator) FrameLocator(selector string) *FrameLocator {
	fl.log.Debugf("FrameLocator:FrameLocator", "selector:%q childSelector:%q", fl.selector, selector)

	return fl.Locator(selector).ContentFrame()
}

// Owner returns a locator for the iframe element itself.
func (fl *FrameLocator) Owner() *Locator {
	return newLocator(fl.frame, fl.selector)
}
