package proxy

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/kelmah/apigateway/internal/apierr"
)

// rehydrateBody buffers JSON request bodies so the outbound request
// carries an exact Content-Length. It reports whether it replaced the
// body. GET and HEAD bodies are never touched.
func rehydrateBody(r *http.Request) (bool, error) {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return false, nil
	}
	if r.Body == nil || r.Body == http.NoBody || !isJSON(r.Header.Get("Content-Type")) {
		return false, nil
	}

	buf, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return false, apierr.PayloadTooLarge()
		}
		return false, apierr.BadRequest(err)
	}

	if len(bytes.TrimSpace(buf)) == 0 {
		r.Body = http.NoBody
		r.ContentLength = 0
		r.Header.Del("Content-Length")
		return false, nil
	}

	r.Body = io.NopCloser(bytes.NewReader(buf))
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(buf)), nil
	}
	r.ContentLength = int64(len(buf))
	r.Header.Set("Content-Length", strconv.Itoa(len(buf)))
	r.TransferEncoding = nil
	return true, nil
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || (len(mt) > 5 && mt[len(mt)-5:] == "+json")
}
