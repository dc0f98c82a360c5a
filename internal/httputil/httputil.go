package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/neboloop/intentcore/internal/types"
)

// maxBodyBytes caps request bodies decoded by Parse.
const maxBodyBytes = 1 << 20

// Parse fills v from the request.
// Supports:
// - Path parameters via `path:"name"` struct tag (using chi.URLParam)
// - Query parameters via `form:"name"` struct tag
// - JSON body (for POST/PUT/PATCH)
func Parse(r *http.Request, v any) error {
	val := reflect.ValueOf(v)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return nil
	}
	val = val.Elem()
	if val.Kind() != reflect.Struct {
		return nil
	}

	// Body first so path and query values win over body fields
	if r.Body != nil && r.ContentLength != 0 {
		contentType := r.Header.Get("Content-Type")
		if strings.HasPrefix(contentType, "application/json") || contentType == "" {
			dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
			if err := dec.Decode(v); err != nil {
				return fmt.Errorf("invalid request body: %w", err)
			}
		}
	}

	typ := val.Type()
	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		if !field.CanSet() {
			continue
		}
		sf := typ.Field(i)

		if tag := sf.Tag.Get("path"); tag != "" {
			if s := chi.URLParam(r, tag); s != "" {
				if err := setFieldValue(field, s); err != nil {
					return fmt.Errorf("path %s: %w", tag, err)
				}
			}
		}
		if tag := sf.Tag.Get("form"); tag != "" {
			if s := r.URL.Query().Get(tag); s != "" {
				if err := setFieldValue(field, s); err != nil {
					return fmt.Errorf("query %s: %w", tag, err)
				}
			}
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	}
	return nil
}

// OkJSON writes a JSON response with 200 OK status
func OkJSON(w http.ResponseWriter, v any) {
	WriteJSON(w, http.StatusOK, v)
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorWithCode writes an error response with a specific status code
func ErrorWithCode(w http.ResponseWriter, code int, message string) {
	WriteJSON(w, code, types.ErrorResponse{Error: message})
}

// BadRequest writes a 400 response
func BadRequest(w http.ResponseWriter, err error) {
	ErrorWithCode(w, http.StatusBadRequest, err.Error())
}

// NotFound writes a 404 not found response
func NotFound(w http.ResponseWriter, message string) {
	if message == "" {
		message = "not found"
	}
	ErrorWithCode(w, http.StatusNotFound, message)
}
