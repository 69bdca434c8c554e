package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"reflect"
	"strconv"
	"strings"
)

// maxBindSize caps the body read by Bind.
const maxBindSize = 1 << 20

// ErrUnsupportedMediaType is returned by Bind for a Content-Type it cannot
// decode.
var ErrUnsupportedMediaType = errors.New("content type not supported")

// Bind decodes the request body into dst, a pointer to a struct, according
// to the Content-Type header.
//
//   - application/x-www-form-urlencoded, multipart/form-data: fields are
//     matched by `form:"name"` tags. The "required" option rejects a missing
//     field: `form:"name,required"`.
//   - application/json: encoding/json with `json` tags.
//
// Form fields may be strings, signed and unsigned integers, floats, bools
// ("on"/"off", "1"/"0", "yes"/"no", "true"/"false") or slices of those.
//
//	var creds account.Credentials
//	if err := httpx.Bind(r, &creds); err != nil {
//	    http.Error(w, err.Error(), http.StatusBadRequest)
//	    return
//	}
func Bind(r *http.Request, dst any) error {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ErrUnsupportedMediaType
	}

	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		return bindForm(r, dst)
	case "application/json":
		return bindJSON(r, dst)
	default:
		return ErrUnsupportedMediaType
	}
}

func bindForm(r *http.Request, dst any) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(maxBindSize); err != nil {
			return fmt.Errorf("failed to parse form: %w", err)
		}
	} else if err := r.ParseForm(); err != nil {
		return fmt.Errorf("failed to parse form: %w", err)
	}

	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
		return errors.New("destination must be a pointer to a struct")
	}

	rv = rv.Elem()
	rt := rv.Type()

	for i := 0; i < rv.NumField(); i++ {
		field := rv.Field(i)
		if !field.CanSet() {
			continue
		}

		tag := rt.Field(i).Tag.Get("form")
		if tag == "" || tag == "-" {
			continue
		}

		name, opts, _ := strings.Cut(tag, ",")
		values := r.PostForm[name]

		if len(values) == 0 {
			if opts == "required" {
				return fmt.Errorf("required field '%s' is missing", name)
			}
			continue
		}

		if err := bindField(field, values); err != nil {
			return fmt.Errorf("failed to bind field '%s': %w", name, err)
		}
	}

	return nil
}

func bindField(field reflect.Value, values []string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(values[0])

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		val, err := strconv.ParseInt(values[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer value: %s", values[0])
		}
		field.SetInt(val)

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		val, err := strconv.ParseUint(values[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid unsigned integer value: %s", values[0])
		}
		field.SetUint(val)

	case reflect.Float32, reflect.Float64:
		val, err := strconv.ParseFloat(values[0], 64)
		if err != nil {
			return fmt.Errorf("invalid float value: %s", values[0])
		}
		field.SetFloat(val)

	case reflect.Bool:
		switch strings.ToLower(values[0]) {
		case "on", "1", "yes", "true":
			field.SetBool(true)
		case "off", "0", "no", "false", "":
			field.SetBool(false)
		default:
			return fmt.Errorf("invalid boolean value: %s", values[0])
		}

	case reflect.Slice:
		slice := reflect.MakeSlice(field.Type(), len(values), len(values))
		for i, value := range values {
			if err := bindField(slice.Index(i), []string{value}); err != nil {
				return fmt.Errorf("failed to bind slice element at index %d: %w", i, err)
			}
		}
		field.Set(slice)

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

func bindJSON(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBindSize))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, dst)
}
