package handlers

import (
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
)

// maxUploadBytes bounds multipart parsing; the logo itself is capped at 5MB
// by validation.
const maxUploadBytes = 8 << 20

// form abstracts over JSON bodies and (multipart) form posts so handlers can
// apply the same presence-aware ("sometimes") validation to both. Values are
// always read back as strings; numeric fields are parsed by the caller.
type form struct {
	values map[string]string
	files  map[string]*multipart.FileHeader
}

func readForm(r *http.Request) (*form, error) {
	f := &form{values: map[string]string{}, files: map[string]*multipart.FileHeader{}}
	ct := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(ct, "application/json"):
		var raw map[string]any
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			return nil, err
		}
		for k, v := range raw {
			switch t := v.(type) {
			case nil:
				f.values[k] = ""
			case string:
				f.values[k] = t
			case float64:
				// JSON numbers arrive as float64; keep integers unmangled.
				if t == float64(int64(t)) {
					f.values[k] = strconv.FormatInt(int64(t), 10)
				} else {
					f.values[k] = strconv.FormatFloat(t, 'f', -1, 64)
				}
			case bool:
				f.values[k] = strconv.FormatBool(t)
			default:
				return nil, fmt.Errorf("unsupported value for field %q", k)
			}
		}
	case strings.HasPrefix(ct, "multipart/form-data"):
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return nil, err
		}
		for k, vs := range r.MultipartForm.Value {
			if len(vs) > 0 {
				f.values[k] = vs[0]
			}
		}
		for k, fhs := range r.MultipartForm.File {
			if len(fhs) > 0 {
				f.files[k] = fhs[0]
			}
		}
	default:
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		for k, vs := range r.PostForm {
			if len(vs) > 0 {
				f.values[k] = vs[0]
			}
		}
	}
	return f, nil
}

// Has reports whether the field was present in the request at all, which is
// what partial-update validation keys off.
func (f *form) Has(key string) bool {
	_, ok := f.values[key]
	return ok
}

func (f *form) Str(key string) string { return strings.TrimSpace(f.values[key]) }

// Raw returns the value without trimming (passwords).
func (f *form) Raw(key string) string { return f.values[key] }

func (f *form) File(key string) *multipart.FileHeader { return f.files[key] }

// Int parses the field as an integer, recording a "<field>_integer" token on
// failure.
func (f *form) Int(key string, v map[string]string) (int, bool) {
	s := f.Str(key)
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		if _, dup := v[key]; !dup {
			v[key] = key + "_integer"
		}
		return 0, false
	}
	return n, true
}

// Int64 is Int for 64-bit fields (price in minor units).
func (f *form) Int64(key string, v map[string]string) (int64, bool) {
	s := f.Str(key)
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		if _, dup := v[key]; !dup {
			v[key] = key + "_integer"
		}
		return 0, false
	}
	return n, true
}

// queryInt reads an integer query parameter with bounds, falling back to def
// when absent or malformed. Bounds clamp rather than error: listing
// parameters are forgiving.
func queryInt(r *http.Request, key string, def, min, max int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}
