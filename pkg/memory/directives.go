package memory

import (
	"regexp"
	"strings"
)

var saveNoteRegex = regexp.MustCompile(`\|\|SAVE_NOTE:(.*?)\|\|`)

// ExtractNoteDirectives pulls every ||SAVE_NOTE:<content>|| marker out of a
// model reply. It returns the reply with the markers removed and the
// non-empty, trimmed note contents in order of appearance.
func ExtractNoteDirectives(reply string) (string, []string) {
	matches := saveNoteRegex.FindAllStringSubmatch(reply, -1)
	if len(matches) == 0 {
		return strings.TrimSpace(reply), nil
	}
	notes := make([]string, 0, len(matches))
	for _, m := range matches {
		if len(m) < 2 {
			continue
		}
		if c := strings.TrimSpace(m[1]); c != "" {
			notes = append(notes, c)
		}
	}
	clean := saveNoteRegex.ReplaceAllString(reply, "")
	return strings.TrimSpace(clean), notes
}
