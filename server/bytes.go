package server

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"sync"
)

// rangePattern accepts a single explicit byte range. Suffix ranges and
// open-ended ranges fall through to a full-body response.
var rangePattern = regexp.MustCompile(`^ *bytes *= *([0-9]+) *- *([0-9]+) *$`)

// parseRangeHeader returns the half-open slice [start, end) requested by
// the Range header, or ok=false when the header is absent or invalid.
// Invalid ranges are ignored rather than rejected; the caller serves the
// full body.
func parseRangeHeader(r *http.Request, contentLength int) (start, end int, ok bool) {
	value := r.Header.Get("Range")
	if value == "" {
		return 0, 0, false
	}
	m := rangePattern.FindStringSubmatch(value)
	if m == nil {
		return 0, 0, false
	}
	r0, err0 := strconv.Atoi(m[1])
	r1, err1 := strconv.Atoi(m[2])
	if err0 != nil || err1 != nil {
		return 0, 0, false
	}
	r1++
	if r0 >= r1 || r0 > contentLength || r1 > contentLength {
		return 0, 0, false
	}
	return r0, r1, true
}

// mountBytes serves one immutable blob with byte-range support. The blob
// is produced lazily on first access and memoized for the process
// lifetime; concurrent first accesses share a single producer call. Only
// a successful production is memoized: a failure answers 500 and the next
// request retries the producer.
func mountBytes(mux *http.ServeMux, url, mediaType string, make func() ([]byte, error)) {
	var (
		mu      sync.Mutex
		content []byte
		ready   bool
	)
	get := func() ([]byte, error) {
		mu.Lock()
		defer mu.Unlock()
		if ready {
			return content, nil
		}
		data, err := make()
		if err != nil {
			return nil, err
		}
		content, ready = data, true
		return content, nil
	}

	handler := func(w http.ResponseWriter, r *http.Request) {
		data, err := get()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		w.Header().Set("Content-Type", mediaType)
		w.Header().Set("Accept-Ranges", "bytes")

		start, end, ranged := parseRangeHeader(r, len(data))

		// HEAD answers 200 regardless of range; a valid range only
		// narrows the advertised length.
		if r.Method == http.MethodHead {
			length := len(data)
			if ranged {
				length = end - start
			}
			w.Header().Set("Content-Length", strconv.Itoa(length))
			w.WriteHeader(http.StatusOK)
			return
		}

		if ranged {
			w.Header().Set("Content-Range",
				fmt.Sprintf("bytes %d-%d/%d", start, end-1, len(data)))
			w.Header().Set("Content-Length", strconv.Itoa(end-start))
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write(data[start:end])
			return
		}

		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}

	mux.HandleFunc("GET "+url, handler)
	mux.HandleFunc("HEAD "+url, handler)
}
