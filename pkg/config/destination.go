package config

import (
	"fmt"
	"strings"

	"github.com/sidkik/site/pkg/errors"
)

// Destination is the remote end of a project, written as
// `[user@]host:path`. An empty Host refers to a path on the local machine.
type Destination struct {
	User string
	Host string
	Path string
}

// ParseDestination parses a destination string.
func ParseDestination(s string) (Destination, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Destination{}, errors.MissingFieldError{Field: "destination"}
	}

	var dst Destination
	hostPart, path, hasHost := cutHost(s)
	if !hasHost {
		dst.Path = s
		return dst, nil
	}

	if at := strings.LastIndex(hostPart, "@"); at != -1 {
		dst.User = hostPart[:at]
		hostPart = hostPart[at+1:]
		if dst.User == "" {
			return Destination{}, errors.NewFriendlyError("Destination %q has an empty user.", s)
		}
	}
	if hostPart == "" {
		return Destination{}, errors.NewFriendlyError("Destination %q has an empty host.", s)
	}
	if path == "" {
		return Destination{}, errors.NewFriendlyError("Destination %q has an empty path.", s)
	}

	dst.Host = hostPart
	dst.Path = path
	return dst, nil
}

// cutHost splits `host:path`. A colon after the first slash is part of the
// path, which matches how rsync decides whether an argument is remote.
func cutHost(s string) (host, path string, ok bool) {
	colon := strings.Index(s, ":")
	if colon == -1 {
		return "", s, false
	}
	if slash := strings.Index(s, "/"); slash != -1 && slash < colon {
		return "", s, false
	}
	return s[:colon], s[colon+1:], true
}

// IsRemote returns whether the destination is on another host.
func (d Destination) IsRemote() bool {
	return d.Host != ""
}

func (d Destination) String() string {
	switch {
	case d.Host == "":
		return d.Path
	case d.User == "":
		return fmt.Sprintf("%s:%s", d.Host, d.Path)
	default:
		return fmt.Sprintf("%s@%s:%s", d.User, d.Host, d.Path)
	}
}

// MarshalText implements encoding.TextMarshaler so that destinations are
// written as a single string in both YAML and TOML.
func (d Destination) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Destination) UnmarshalText(text []byte) error {
	parsed, err := ParseDestination(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
