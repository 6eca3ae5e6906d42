package proxy

import "net/http"

// Hooks are synchronous extension points around a proxied request.
//
// For every request that reaches dispatch preparation, PreRequest runs
// once. Afterwards exactly one of PostResponse or OnError runs. A
// PreRequest error aborts the request, is passed to OnError and is
// written to the caller.
type Hooks struct {
	PreRequest   func(*http.Request) error
	PostResponse func(*http.Request, *http.Response)
	OnError      func(*http.Request, error)
}

type hookChain []Hooks

func (hc hookChain) preRequest(r *http.Request) error {
	for _, h := range hc {
		if h.PreRequest == nil {
			continue
		}
		if err := h.PreRequest(r); err != nil {
			return err
		}
	}
	return nil
}

func (hc hookChain) postResponse(r *http.Request, resp *http.Response) {
	for _, h := range hc {
		if h.PostResponse != nil {
			h.PostResponse(r, resp)
		}
	}
}

func (hc hookChain) onError(r *http.Request, err error) {
	for _, h := range hc {
		if h.OnError != nil {
			h.OnError(r, err)
		}
	}
}
