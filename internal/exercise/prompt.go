package exercise

import "fmt"

// Instruction builds the generation request posted to the assistant.
func Instruction(profile, theme string) string {
	return fmt.Sprintf(`%[1]s is learning European Portuguese using DizAí and is training on the theme %[2]q.
Return a new pronunciation exercise set in strict JSON format with a unique "exerciseSetId" starting with "%[2]s-".
Use European Portuguese only, never Brazilian forms. For every phrase include its IPA transcription and a
user-friendly phonetic spelling. Avoid generic topics. Each exercise must have a unique "exerciseId".

Respond with JSON only, using this structure:
{
  "exerciseSetId": "%[2]s-<suffix>",
  "exercises": [
    {"exerciseId": "string", "phrase": "string", "ipa": "string", "phonetic": "string"}
  ]
}`, profile, theme)
}
