package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

const maxBodyBytes = 1 << 20

// ErrBodyInvalid wraps every DecodeJSON failure.
var ErrBodyInvalid = errors.New("httpx: invalid request body")

func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// DecodeJSON reads exactly one JSON value of at most 1 MiB into dst, rejecting unknown fields. With
// allowEmpty an absent body leaves dst untouched.
func DecodeJSON(r *http.Request, dst any, allowEmpty bool) error {
	var body io.Reader = http.NoBody
	if r.Body != nil {
		body = io.LimitReader(r.Body, maxBodyBytes)
	}
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()

	err := dec.Decode(dst)
	switch {
	case errors.Is(err, io.EOF) && allowEmpty:
		return nil
	case errors.Is(err, io.EOF):
		return fmt.Errorf("%w: body is required", ErrBodyInvalid)
	case err != nil:
		return fmt.Errorf("%w: %v", ErrBodyInvalid, err)
	case dec.More():
		return fmt.Errorf("%w: unexpected trailing data", ErrBodyInvalid)
	}
	return nil
}
