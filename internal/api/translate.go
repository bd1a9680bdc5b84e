package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"unicode/utf16"
	"unicode/utf8"

	"analyticsbridge/internal/analytics"
	"analyticsbridge/internal/router"

	"github.com/cockroachdb/errors"
)

const bridgeContentType = "application/json; charset=utf-8"

type headerWriter interface {
	HeaderWritten() bool
}

// statusFor maps a bridge failure to its HTTP status and client message.
func statusFor(err error) (int, string) {
	var reqErr *router.RequestError
	var execErr *analytics.ExecutionError
	switch {
	case errors.Is(err, router.ErrForbidden):
		return http.StatusForbidden, router.ErrForbidden.Error()
	case errors.As(err, &reqErr):
		return http.StatusBadRequest, reqErr.Message
	case errors.As(err, &execErr):
		switch execErr.ErrorType {
		case analytics.ErrorTypeNotFound:
			return http.StatusNotFound, execErr.Message
		case analytics.ErrorTypeValidation:
			return http.StatusBadRequest, execErr.Message
		case analytics.ErrorTypeRejected:
			return http.StatusNotAcceptable, execErr.Message
		}
		return http.StatusInternalServerError, execErr.Message
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

// writeOutcome sends a CLI result. Success relays stdout untouched; a failure
// becomes {"error": message}.
func writeOutcome(w http.ResponseWriter, out analytics.Outcome, err error) {
	if err != nil {
		status, msg := statusFor(err)
		writeBridgeError(w, status, msg)
		return
	}
	setJSONContentType(w)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.Stdout)
}

func writeBridgeError(w http.ResponseWriter, status int, msg string) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(map[string]string{"error": msg})

	setJSONContentType(w)
	w.WriteHeader(status)
	_, _ = w.Write(escapeASCIIJSON(bytes.TrimRight(buf.Bytes(), "\n")))
}

// escapeASCIIJSON writes "/" as "\/" and every non-ASCII rune as \uXXXX,
// using surrogate pairs above the BMP, so error bodies stay byte-identical to
// what existing analytics clients receive. Existing escapes contain neither,
// so a single pass is safe.
func escapeASCIIJSON(b []byte) []byte {
	out := make([]byte, 0, len(b)+len(b)/8)
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		switch {
		case r == '/':
			out = append(out, '\\', '/')
		case r < utf8.RuneSelf:
			out = append(out, b[0])
		case r > 0xFFFF:
			hi, lo := utf16.EncodeRune(r)
			out = fmt.Appendf(out, "\\u%04x\\u%04x", hi, lo)
		default:
			out = fmt.Appendf(out, "\\u%04x", r)
		}
		b = b[size:]
	}
	return out
}

func setJSONContentType(w http.ResponseWriter) {
	if hw, ok := w.(headerWriter); ok && hw.HeaderWritten() {
		return
	}
	w.Header().Set("Content-Type", bridgeContentType)
}
