package relayhttp

import "net/http"

// Chain folds an ordered middleware list around a terminal transport,
// producing a single RoundTripper. The first middleware is outermost: it sees
// the request first and the outcome last. Each stage receives the composed
// remainder of the chain as its next continuation and may short-circuit by
// returning without invoking it.
func Chain(transport RoundTripper, middleware ...Middleware) RoundTripper {
	current := transport
	for i := len(middleware) - 1; i >= 0; i-- {
		mw := middleware[i]
		next := current
		current = RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			return mw(req, next)
		})
	}
	return current
}
