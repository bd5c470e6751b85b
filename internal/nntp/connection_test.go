package nntp

import "testing"

func TestStatusCode(t *testing.T) {
	cases := map[string]int{
		"200 Hello":          200,
		"381 Password":       381,
		"222 Body follows":   222,
		"430 No such article": 430,
		"bad":                0,
	}
	for line, want := range cases {
		if got := statusCode(line); got != want {
			t.Errorf("statusCode(%q) = %d, want %d", line, got, want)
		}
	}
}
