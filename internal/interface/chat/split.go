package chat

import "unicode"

// DefaultMaxMessageLength is the per-message limit of the chat platform, in runes.
const DefaultMaxMessageLength = 2000

// SplitMessage cuts text into chunks of at most max runes. Chunks end on
// exact rune boundaries and concatenate back to text. A max <= 0 uses
// DefaultMaxMessageLength. Empty text yields no chunks.
func SplitMessage(text string, max int) []string {
	return split(text, max, false)
}

// SplitMessageWords is SplitMessage that prefers to cut after the last
// whitespace of a window. Windows without whitespace are cut hard.
func SplitMessageWords(text string, max int) []string {
	return split(text, max, true)
}

func split(text string, max int, words bool) []string {
	if text == "" {
		return nil
	}
	if max <= 0 {
		max = DefaultMaxMessageLength
	}

	runes := []rune(text)
	chunks := make([]string, 0, len(runes)/max+1)
	for len(runes) > 0 {
		if len(runes) <= max {
			chunks = append(chunks, string(runes))
			break
		}

		cut := max
		if words {
			for i := max; i > 0; i-- {
				if unicode.IsSpace(runes[i-1]) {
					cut = i
					break
				}
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	return chunks
}
