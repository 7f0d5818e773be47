package pronunciation

import (
	"fmt"
	"strings"
)

// systemPrompt fixes the evaluation output schema.
const systemPrompt = `You are a pronunciation analysis engine for learners of European Portuguese.
Analyze the user's attempt to pronounce a given phrase. Focus on phonetic accuracy.

Respond with valid JSON ONLY, using this structure:
{
  "native": "string",
  "attempt": "string",
  "deviations": [
    {
      "word": "string",
      "severity": "minor" | "major",
      "note": "string"
    }
  ],
  "status": "perfect" | "almost" | "tryagain",
  "comment": "string"
}

Evaluation rules:
- Compare the user's attempt with the original phrase, IPA and phonetic spelling.
- Identify dropped syllables, wrong sounds, and mispronounced phonemes.
- "word" may be omitted for notes that concern the whole phrase.
- "status" and "comment" are optional. "comment" is one short encouraging sentence.
- Always return well-formed JSON. Never include markdown or extra text.
- Even if the user's speech is nonsense, return the closest analysis in the format above.`

// userPrompt carries the target and both transcripts. Whitespace inside each
// value is collapsed to single spaces.
func userPrompt(phrase, ipa, phonetic, userTranscript, refTranscript string) string {
	return fmt.Sprintf(`Analyze this pronunciation:

Target phrase: %s
IPA: %s
Phonetic: %s

User transcript:
%s

Reference transcript:
%s`,
		collapse(phrase), collapse(ipa), collapse(phonetic),
		collapse(userTranscript), collapse(refTranscript),
	)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
