// Package bind fills request structs from URL parameters and the query string
package bind

import (
	"net/http"
	"reflect"

	perr "metxy/internal/platform/errors"
	"metxy/internal/platform/validate"

	"github.com/go-chi/chi/v5"
)

// Params fills the string fields of T tagged `param:"name"` from the chi URL
// parameter of that name, falling back to the query string, then validates T.
// Failures are InvalidArgument errors carrying the field name.
func Params[T any](r *http.Request) (T, error) {
	var out T
	rv := reflect.ValueOf(&out).Elem()
	if rv.Kind() != reflect.Struct {
		return out, perr.Newf(perr.ErrorCodeUnknown, "bind: %T is not a struct", out)
	}
	if err := fill(r, rv); err != nil {
		return out, err
	}
	if err := validate.Struct(out, perr.ErrorCodeInvalidArgument); err != nil {
		return out, err
	}
	return out, nil
}

func fill(r *http.Request, rv reflect.Value) error {
	q := r.URL.Query()
	rt := rv.Type()
	for i := range rt.NumField() {
		f := rt.Field(i)
		fv := rv.Field(i)
		if f.Anonymous && fv.Kind() == reflect.Struct {
			if err := fill(r, fv); err != nil {
				return err
			}
			continue
		}
		name := f.Tag.Get("param")
		if name == "" || !f.IsExported() {
			continue
		}
		if fv.Kind() != reflect.String {
			return perr.Newf(perr.ErrorCodeUnknown, "bind: field %s must be a string", f.Name)
		}
		v := chi.URLParam(r, name)
		if v == "" {
			v = q.Get(name)
		}
		fv.SetString(v)
	}
	return nil
}
