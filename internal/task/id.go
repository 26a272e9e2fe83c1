package task

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

var idReplacer = strings.NewReplacer("/", ".", " ", "_")

// NewID returns "<type>-<entityID>-<ulid>". The ULID carries the submission
// time and is monotonic within a millisecond, so repeated submissions for
// the same entity never collide.
func NewID(t Type, entityID string) string {
	return idReplacer.Replace(string(t)) + "-" + idReplacer.Replace(entityID) + "-" + ulid.Make().String()
}
