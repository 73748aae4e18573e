package resolver

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
)

// HeaderVersion carries the request signature
const HeaderVersion = "X-Version"

// Sign derives the X-Version value for rawURL: the lowercase hex SHA-1 of
// "<last path segment>_<expires>_<salt>". A missing expires parameter
// contributes an empty string.
func Sign(rawURL, salt string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", rawURL, err)
	}

	segment := path.Base(u.Path)
	if segment == "/" || segment == "." {
		segment = ""
	}
	expires := u.Query().Get("expires")

	sum := sha1.Sum([]byte(segment + "_" + expires + "_" + salt))
	return hex.EncodeToString(sum[:]), nil
}
