package param

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrUnknown = errors.New("unknown parameter")

var durationType = reflect.TypeOf(time.Duration(0))

func tagName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
	return name
}

// field finds the leaf addressed by a dotted yaml name such as "control.rate_roll.kp".
func field(p *Params, name string) (reflect.Value, error) {
	v := reflect.ValueOf(p).Elem()
	parts := strings.Split(name, ".")
	for _, part := range parts {
		if v.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("%s: %w", name, ErrUnknown)
		}
		found := false
		for i := 0; i < v.NumField(); i++ {
			if tagName(v.Type().Field(i)) == part {
				v = v.Field(i)
				found = true
				break
			}
		}
		if !found {
			return reflect.Value{}, fmt.Errorf("%s: %w", name, ErrUnknown)
		}
	}
	if v.Kind() == reflect.Struct {
		return reflect.Value{}, fmt.Errorf("%s: not a leaf: %w", name, ErrUnknown)
	}
	return v, nil
}

// Names lists every leaf parameter in declaration order.
func Names() []string {
	var names []string
	var walk func(prefix string, t reflect.Type)
	walk = func(prefix string, t reflect.Type) {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			name := prefix + tagName(f)
			if f.Type.Kind() == reflect.Struct {
				walk(name+".", f.Type)
				continue
			}
			names = append(names, name)
		}
	}
	walk("", reflect.TypeOf(Params{}))
	return names
}

// Get formats one parameter the way it is written in an airframe file.
func (p Params) Get(name string) (string, error) {
	v, err := field(&p, name)
	if err != nil {
		return "", err
	}
	if v.Type() == durationType {
		return time.Duration(v.Int()).String(), nil
	}
	data, err := yaml.Marshal(v.Interface())
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// With returns a copy of p with one parameter parsed from its text form.
// The result is not validated.
func (p Params) With(name, value string) (Params, error) {
	v, err := field(&p, name)
	if err != nil {
		return p, err
	}
	target := reflect.New(v.Type())
	err = yaml.Unmarshal([]byte(value), target.Interface())
	if err != nil {
		return p, fmt.Errorf("%s: parse %q: %w", name, value, err)
	}
	v.Set(target.Elem())
	return p, nil
}
