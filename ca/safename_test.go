package ca_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jmcleod/certhand/ca"
)

func TestSafeName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"*.example.com", "star-example-com"},
		{"alice@example.com", "alice-example-com"},
		{"web server 01", "web-server-01"},
		{"already-safe", "already-safe"},
		{"UPPER.case", "UPPER-case"},
		{"a*b", "astarb"},
		{"", ""},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ca.SafeName(c.in), "input %q", c.in)
	}
}

func TestSafeNameIdempotent(t *testing.T) {
	inputs := []string{"*.example.com", "alice@example.com", "héllo wörld", "a b*c/d"}
	for _, in := range inputs {
		once := ca.SafeName(in)
		assert.Equal(t, once, ca.SafeName(once), "input %q", in)
	}
}
