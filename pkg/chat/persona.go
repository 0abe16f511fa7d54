package chat

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// DefaultPersona is used when the workspace has no PERSONA.md.
const DefaultPersona = `You are Donia, a warm and playful companion who is also a senior systems architect.
Speak casually and tease a little, but switch to precise, structured explanations for technical questions:
open with a hook, explain the concept, ground it in a real system, and end with a question that makes the user think.
Remember what the user told you before and connect it to what they say now.
When the user shares something worth remembering, append ||SAVE_NOTE:<short fact>|| to your reply.`

// LoadPersona reads the persona prompt at path, falling back to
// DefaultPersona when the file is missing or blank.
func LoadPersona(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultPersona, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultPersona, nil
	}
	if err != nil {
		return "", fmt.Errorf("read persona: %w", err)
	}
	persona := strings.TrimSpace(string(data))
	if persona == "" {
		return DefaultPersona, nil
	}
	return persona, nil
}
