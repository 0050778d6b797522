package router

import (
	"fmt"
	"net/url"
	"reflect"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var uuidType = reflect.TypeOf(uuid.UUID{})

// Bind populates the struct target points to from the tick. Fields tagged
// `wild:"N"` receive the Nth wildcard segment; fields tagged `query:"name"`
// receive the query parameter name. A []string field tagged `wild:"*"`
// receives the remaining destination segments.
//
// Example:
//
//	var p struct {
//	    User uuid.UUID `wild:"0"`
//	    Page int       `query:"page"`
//	}
//	if err := router.Bind(t, &p); err != nil { ... }
func Bind(t *Tick, target any) error {
	if target == nil {
		return nil
	}
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Ptr {
		return fmt.Errorf("target must be a pointer, got %s", v.Kind())
	}
	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return fmt.Errorf("target must be a pointer to struct, got pointer to %s", v.Kind())
	}

	wild := t.Wildcards()
	query, err := url.ParseQuery(t.Query)
	if err != nil {
		return fmt.Errorf("parsing query: %w", err)
	}

	typ := v.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		fv := v.Field(i)
		if !fv.CanSet() {
			continue
		}

		if tag, ok := field.Tag.Lookup("wild"); ok {
			if tag == "*" {
				if fv.Kind() == reflect.Slice && fv.Type().Elem().Kind() == reflect.String {
					fv.Set(reflect.ValueOf(append([]string(nil), t.Remaining()...)))
				}
				continue
			}
			n, err := strconv.Atoi(tag)
			if err != nil {
				return fmt.Errorf("field %s: invalid wild tag %q", field.Name, tag)
			}
			if n < 0 || n >= len(wild) {
				continue
			}
			if err := setField(fv, wild[n]); err != nil {
				return fmt.Errorf("parsing wildcard %d: %w", n, err)
			}
			continue
		}

		if name := field.Tag.Get("query"); name != "" {
			values, ok := query[name]
			if !ok {
				continue
			}
			if fv.Kind() == reflect.Slice && fv.Type().Elem().Kind() == reflect.String {
				fv.Set(reflect.ValueOf(append([]string(nil), values...)))
				continue
			}
			if err := setField(fv, values[0]); err != nil {
				return fmt.Errorf("parsing query %q: %w", name, err)
			}
		}
	}
	return nil
}

// setField sets a field value from a string.
func setField(field reflect.Value, value string) error {
	if field.Type() == uuidType {
		id, err := uuid.Parse(value)
		if err != nil {
			return fmt.Errorf("invalid UUID: %s", value)
		}
		field.Set(reflect.ValueOf(id))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid integer: %s", value)
		}
		field.SetInt(n)

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(value, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid unsigned integer: %s", value)
		}
		field.SetUint(n)

	case reflect.Float32, reflect.Float64:
		n, err := strconv.ParseFloat(value, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid float: %s", value)
		}
		field.SetFloat(n)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %s", value)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice element type: %s", field.Type().Elem().Kind())
		}
		var parts []string
		if value != "" {
			parts = strings.Split(value, ",")
		}
		field.Set(reflect.ValueOf(parts))

	default:
		return fmt.Errorf("unsupported type: %s", field.Kind())
	}
	return nil
}
