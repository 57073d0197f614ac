// Package httpx writes the uniform response envelope used by every endpoint:
// {success, data?, pagination?, error?, message?, errors?}.
package httpx

import (
	"encoding/json"
	"net/http"
)

// Pagination mirrors the listing metadata block of paginated endpoints.
type Pagination struct {
	CurrentPage int   `json:"current_page"`
	PerPage     int   `json:"per_page"`
	Total       int64 `json:"total"`
	LastPage    int   `json:"last_page"`
	From        int   `json:"from"`
	To          int   `json:"to"`
}

// NewPagination computes the derived fields from page/perPage/total.
func NewPagination(page, perPage int, total int64) *Pagination {
	last := int((total + int64(perPage) - 1) / int64(perPage))
	if last < 1 {
		last = 1
	}
	p := &Pagination{CurrentPage: page, PerPage: perPage, Total: total, LastPage: last}
	if total > 0 && page <= last {
		p.From = (page-1)*perPage + 1
		to := page * perPage
		if int64(to) > total {
			to = int(total)
		}
		p.To = to
	}
	return p
}

type envelope struct {
	Success    bool              `json:"success"`
	Data       any               `json:"data,omitempty"`
	Pagination *Pagination       `json:"pagination,omitempty"`
	Error      string            `json:"error,omitempty"`
	Message    string            `json:"message,omitempty"`
	Errors     map[string]string `json:"errors,omitempty"`
}

// JSON writes an arbitrary payload. Kept as the low-level escape hatch; the
// envelope helpers below cover the normal paths.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	body, err := json.Marshal(payload)
	if err != nil {
		// best-effort error response; avoid writing partial JSON
		http.Error(w, `{"success":false,"error":"encode_error"}`, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		// nothing we can do at this point
		_ = err
	}
}

// OK writes a success envelope.
func OK(w http.ResponseWriter, status int, data any) {
	if data == nil {
		data = []any{}
	}
	JSON(w, status, envelope{Success: true, Data: data})
}

// Page writes a success envelope with pagination metadata.
func Page(w http.ResponseWriter, data any, p *Pagination) {
	if data == nil {
		data = []any{}
	}
	JSON(w, http.StatusOK, envelope{Success: true, Data: data, Pagination: p})
}

// Fail writes a failure envelope with a symbolic error code.
func Fail(w http.ResponseWriter, status int, code string) {
	JSON(w, status, envelope{Success: false, Error: code})
}

// FailValidation writes the 422 field→token map.
func FailValidation(w http.ResponseWriter, violations map[string]string) {
	JSON(w, http.StatusUnprocessableEntity, envelope{Success: false, Error: "validation_failed", Errors: violations})
}
