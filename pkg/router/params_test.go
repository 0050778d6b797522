package router

import (
	"reflect"
	"testing"

	"github.com/google/uuid"
)

func bindTick(trail, onFile, dest []string, query string) *Tick {
	return &Tick{Destination: dest, Trail: trail, TrailOnFile: onFile, Query: query}
}

func TestBindWildcards(t *testing.T) {
	id := uuid.New()
	tk := bindTick(
		[]string{"users", id.String(), "posts", "42"},
		[]string{"users", "-", "posts", "-"},
		[]string{"users", id.String(), "posts", "42", "edit", "x"},
		"page=3&draft=true&tag=a&tag=b",
	)

	var p struct {
		User  uuid.UUID `wild:"0"`
		Post  int       `wild:"1"`
		Rest  []string  `wild:"*"`
		Page  uint      `query:"page"`
		Draft bool      `query:"draft"`
		Tags  []string  `query:"tag"`
		Miss  string    `query:"missing"`
		Extra string    `wild:"5"`
	}
	if err := Bind(tk, &p); err != nil {
		t.Fatalf("Bind() error: %v", err)
	}
	if p.User != id || p.Post != 42 || p.Page != 3 || !p.Draft {
		t.Errorf("bound = %+v", p)
	}
	if !reflect.DeepEqual(p.Rest, []string{"edit", "x"}) {
		t.Errorf("Rest = %v", p.Rest)
	}
	if !reflect.DeepEqual(p.Tags, []string{"a", "b"}) {
		t.Errorf("Tags = %v", p.Tags)
	}
	if p.Miss != "" || p.Extra != "" {
		t.Error("missing values should leave fields untouched")
	}
}

func TestBindErrors(t *testing.T) {
	tk := bindTick([]string{"n"}, []string{"-"}, []string{"n"}, "f=x")

	tests := []struct {
		name   string
		target any
	}{
		{"not pointer", struct{}{}},
		{"pointer to non-struct", new(int)},
		{"invalid int", &struct {
			N int `wild:"0"`
		}{}},
		{"invalid uuid", &struct {
			ID uuid.UUID `wild:"0"`
		}{}},
		{"invalid float", &struct {
			F float64 `query:"f"`
		}{}},
		{"bad wild tag", &struct {
			X string `wild:"first"`
		}{}},
		{"unsupported type", &struct {
			M map[string]int `wild:"0"`
		}{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := Bind(tk, tc.target); err == nil {
				t.Error("expected error")
			}
		})
	}

	if err := Bind(tk, nil); err != nil {
		t.Errorf("Bind(nil) error = %v", err)
	}
}
