package archive

import (
	"path"
	"regexp"
)

var segmentRegex = regexp.MustCompile(`^[a-zA-Z0-9._\-]+$`)

// objectKey returns prefix/provider/eventID.json. One object per event id, so
// redeliveries overwrite the same payload.
func objectKey(prefix, provider, eventID string) (string, error) {
	for _, s := range []string{provider, eventID} {
		if s == "" || s == "." || s == ".." || !segmentRegex.MatchString(s) {
			return "", ErrInvalidKey
		}
	}
	return path.Join(prefix, provider, eventID+".json"), nil
}
