// Package urn builds and parses the URN identifiers used for every entity
// in the dataspace protocols (sessions, offers, agreements, datasets).
// Go has no widely-used URN library in the dependency ecosystem this
// repository draws on, so parsing is a small stdlib implementation over
// RFC 8141's "urn:<nid>:<nss>" shape rather than a fabricated dependency.
package urn

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// URN is a parsed "urn:<nid>:<nss>" identifier.
type URN struct {
	NID string
	NSS string
}

func (u URN) String() string {
	return fmt.Sprintf("urn:%s:%s", u.NID, u.NSS)
}

// IsZero reports whether u is the empty value.
func (u URN) IsZero() bool { return u.NID == "" && u.NSS == "" }

// New mints a fresh URN under nid with a random uuid-derived NSS.
func New(nid string) URN {
	return URN{NID: nid, NSS: uuid.New().String()}
}

// Parse parses a string of the form "urn:<nid>:<nss>". The NSS may itself
// contain colons (e.g. "urn:did:example:C"), so only the first two
// separators are significant.
func Parse(s string) (URN, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[0] != "urn" || parts[1] == "" || parts[2] == "" {
		return URN{}, fmt.Errorf("invalid urn %q: want urn:<nid>:<nss>", s)
	}
	return URN{NID: parts[1], NSS: parts[2]}, nil
}

// MustParse panics on an invalid URN; used only for literal constants.
func MustParse(s string) URN {
	u, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return u
}
