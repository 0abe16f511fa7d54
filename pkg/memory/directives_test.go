package memory

import "testing"

func TestExtractNoteDirectives(t *testing.T) {
	tests := []struct {
		name      string
		reply     string
		wantClean string
		wantNotes []string
	}{
		{
			name:      "no directive",
			reply:     "  just chatting  ",
			wantClean: "just chatting",
		},
		{
			name:      "single directive",
			reply:     "Got it! ||SAVE_NOTE: exam on Thursday ||",
			wantClean: "Got it!",
			wantNotes: []string{"exam on Thursday"},
		},
		{
			name:      "several directives",
			reply:     "||SAVE_NOTE:likes tea|| sure ||SAVE_NOTE:hates mornings|| ok",
			wantClean: "sure  ok",
			wantNotes: []string{"likes tea", "hates mornings"},
		},
		{
			name:      "empty content skipped",
			reply:     "||SAVE_NOTE:   ||",
			wantClean: "",
			wantNotes: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clean, notes := ExtractNoteDirectives(tt.reply)
			if clean != tt.wantClean {
				t.Fatalf("clean = %q, want %q", clean, tt.wantClean)
			}
			if len(notes) != len(tt.wantNotes) {
				t.Fatalf("notes = %#v, want %#v", notes, tt.wantNotes)
			}
			for i := range notes {
				if notes[i] != tt.wantNotes[i] {
					t.Fatalf("notes[%d] = %q, want %q", i, notes[i], tt.wantNotes[i])
				}
			}
		})
	}
}
