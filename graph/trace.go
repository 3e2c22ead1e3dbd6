package graph

import (
	"net/http"
	"net/http/httputil"

	"graphmail/utils"
)

// traceTransport dumps every request and response at debug level while
// delegating the round trip
type traceTransport struct {
	delegate http.RoundTripper
	log      *utils.Logger
}

func (t *traceTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if dump, err := dumpRequest(req); err == nil {
		t.log.Debug("Request:\n%s", dump)
	}
	resp, err := t.delegate.RoundTrip(req)
	if err == nil {
		if dump, dumpErr := httputil.DumpResponse(resp, true); dumpErr == nil {
			t.log.Debug("Response:\n%s", dump)
		}
	}
	return resp, err
}

// dumpRequest dumps a copy of req without its credentials. The body is
// read through GetBody so that req itself is left untouched; a body that
// cannot be replayed is left out.
func dumpRequest(req *http.Request) ([]byte, error) {
	clone := req.Clone(req.Context())
	clone.Header.Del("Authorization")
	withBody := false
	clone.Body = nil
	if req.Body != nil && req.Body != http.NoBody && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		clone.Body = body
		withBody = true
	}
	return httputil.DumpRequestOut(clone, withBody)
}

// Trace wraps d so that traffic is logged
func Trace(d http.RoundTripper, log *utils.Logger) http.RoundTripper {
	return &traceTransport{delegate: d, log: log}
}
