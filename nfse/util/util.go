// Package util reads the NFSE_* environment switches of the client and the
// variables the integration tests run with.
package util

import (
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("component", "nfse.util")

const (
	// TraceVar turns on timing and status logging of every portal round trip.
	TraceVar = "NFSE_HTTP_TRACE"
	// BodyDumpVar additionally logs the response bodies of traced round trips.
	BodyDumpVar = "NFSE_DEBUG"
)

func TraceEnabled() bool {
	return Switch(TraceVar)
}

func BodyDumpEnabled() bool {
	return Switch(BodyDumpVar)
}

// Switch reports whether name holds a value strconv.ParseBool reads as true.
// Unset and unparsable values are off.
func Switch(name string) bool {
	on, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(name)))
	return err == nil && on
}

// Lookup returns the value of name, or false when it is unset or blank.
func Lookup(name string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	return v, v != ""
}

// Require is Lookup for values without which the program cannot go on.
func Require(name string) string {
	v, ok := Lookup(name)
	if !ok {
		logger.Fatalf("%s environment variable is not set", name)
	}
	return v
}
