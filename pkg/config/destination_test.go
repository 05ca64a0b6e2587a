package config

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sidkik/site/pkg/errors"
)

func TestParseDestination(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		exp    Destination
		expErr error
	}{
		{
			name:  "UserAndHost",
			input: "deploy@example.com:/var/www",
			exp:   Destination{User: "deploy", Host: "example.com", Path: "/var/www"},
		},
		{
			name:  "HostOnly",
			input: "example.com:site",
			exp:   Destination{Host: "example.com", Path: "site"},
		},
		{
			name:  "Local",
			input: "/mnt/backup",
			exp:   Destination{Path: "/mnt/backup"},
		},
		{
			name:  "ColonAfterSlash",
			input: "./odd:name",
			exp:   Destination{Path: "./odd:name"},
		},
		{
			name:   "Empty",
			input:  "  ",
			expErr: errors.MissingFieldError{Field: "destination"},
		},
		{
			name:   "EmptyHost",
			input:  "deploy@:/var/www",
			expErr: errors.NewFriendlyError(`Destination "deploy@:/var/www" has an empty host.`),
		},
		{
			name:   "EmptyUser",
			input:  "@example.com:/var/www",
			expErr: errors.NewFriendlyError(`Destination "@example.com:/var/www" has an empty user.`),
		},
		{
			name:   "EmptyPath",
			input:  "example.com:",
			expErr: errors.NewFriendlyError(`Destination "example.com:" has an empty path.`),
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			dst, err := ParseDestination(test.input)
			assert.Equal(t, test.expErr, err)
			assert.Equal(t, test.exp, dst)
			if err == nil {
				assert.Equal(t, test.input, dst.String())
			}
		})
	}
}

func TestDestinationIsRemote(t *testing.T) {
	assert.True(t, Destination{Host: "example.com", Path: "/srv"}.IsRemote())
	assert.False(t, Destination{Path: "/srv"}.IsRemote())
}
