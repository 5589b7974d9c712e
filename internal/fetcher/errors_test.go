package fetcher

import (
	"errors"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsFatal(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"auth", &AuthenticationError{Reason: "bad login"}, true},
		{"transport", &TransportError{StatusCode: 500}, true},
		{"format", &FormatError{}, true},
		{"schema", &SchemaError{Missing: []string{"id"}}, true},
		{"wrapped by eris", eris.Wrap(&SchemaError{Missing: []string{"city"}}, "fetch"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsFatal(tc.err))
		})
	}
}

func TestFormatError_AggregatesAttempts(t *testing.T) {
	first := errors.New("xlsx: not a zip")
	second := errors.New("xls: bad header")
	err := &FormatError{Attempts: []error{first, second}}

	assert.Contains(t, err.Error(), "xlsx: not a zip")
	assert.Contains(t, err.Error(), "xls: bad header")
	assert.ErrorIs(t, err, second)
}

func TestTransportError_Message(t *testing.T) {
	err := &TransportError{StatusCode: 502, Reason: "download", Err: errors.New("bad gateway")}
	assert.Equal(t, "portal transport error (http 502): download: bad gateway", err.Error())

	inner := errors.New("dial tcp")
	assert.ErrorIs(t, &TransportError{Err: inner}, inner)
}

func TestSchemaError_ListsMissing(t *testing.T) {
	err := &SchemaError{Missing: []string{"email", "city"}}
	assert.Equal(t, "payload missing required columns: email, city", err.Error())
}
