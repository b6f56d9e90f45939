package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/juju/errors"
)

// ErrBodyTooLarge is returned when a request body exceeds maxBodyBytes.
const ErrBodyTooLarge = errors.ConstError("request body too large")

// formDecoder is implemented by request bodies that also accept
// urlencoded forms.
type formDecoder interface {
	decodeForm(form url.Values) error
}

// decodeBody fills dst from a JSON or urlencoded request body.
func decodeBody(r *http.Request, dst formDecoder) error {
	if isForm(r) {
		return errors.Trace(dst.decodeForm(r.PostForm))
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.Annotatef(ErrBodyTooLarge, "limit %d bytes", tooLarge.Limit)
		}
		if err == io.EOF {
			return errors.BadRequestf("empty body")
		}
		return errors.BadRequestf("invalid JSON body")
	}
	return nil
}
