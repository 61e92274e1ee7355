package expect

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum-optimism/infra/op-pagecheck/browser"
	"github.com/ethereum-optimism/infra/op-pagecheck/poll"
	"github.com/ethereum-optimism/infra/op-pagecheck/types"
)

// WaitForLoadState blocks until the page reports state, failing with a
// *types.TimeoutError after timeout.
func WaitForLoadState(ctx context.Context, page browser.Page, state types.LoadState, timeout time.Duration) error {
	if state == "" {
		state = types.LoadStateLoad
	}
	return poll.Until(ctx, poll.Options{Op: fmt.Sprintf("waitForLoadState %s", state), Timeout: timeout},
		func(ctx context.Context) (bool, error) {
			return page.ReachedLoadState(ctx, state)
		})
}

// WaitForElement blocks until loc reaches state (visible by default),
// failing with a *types.TimeoutError after timeout.
func WaitForElement(ctx context.Context, loc browser.Locator, state types.ElementState, timeout time.Duration) error {
	if state == "" {
		state = types.StateVisible
	}
	return poll.Until(ctx, poll.Options{Op: fmt.Sprintf("waitFor %s %s", loc, state), Timeout: timeout},
		func(ctx context.Context) (bool, error) {
			return elementInState(ctx, loc, state)
		})
}

func elementInState(ctx context.Context, loc browser.Locator, state types.ElementState) (bool, error) {
	switch state {
	case types.StateAttached, types.StateDetached:
		n, err := loc.Count(ctx)
		if err != nil {
			return false, err
		}
		return (n > 0) == (state == types.StateAttached), nil
	case types.StateVisible, types.StateHidden:
		visible, err := loc.Visible(ctx)
		if err != nil {
			return false, err
		}
		return visible == (state == types.StateVisible), nil
	}
	return false, fmt.Errorf("unknown element state %q", state)
}
