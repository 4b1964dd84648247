package translate

import (
	"fmt"
	"strings"

	"github.com/MrWong99/babelcall/internal/chat"
)

func translatePrompt(text string, target chat.Language) string {
	return fmt.Sprintf("Translate the following text into %s. Output ONLY the translated text. Text: %q", target, text)
}

func replyPrompt(lastMessage, persona string, lang chat.Language) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are roleplaying as %s, a person who speaks %s.\n", persona, lang)
	fmt.Fprintf(&b, "The user just said: %q.\n", lastMessage)
	fmt.Fprintf(&b, "Reply naturally to the user in %s.\n", lang)
	b.WriteString("Keep the reply short, casual, and conversational (1-2 sentences max).\n")
	b.WriteString("Output ONLY the reply text.")
	return b.String()
}

// cleanOutput trims whitespace and a pair of quotes some models wrap their
// answer in.
func cleanOutput(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		for _, q := range [][2]string{{`"`, `"`}, {"“", "”"}, {"「", "」"}} {
			if strings.HasPrefix(s, q[0]) && strings.HasSuffix(s, q[1]) && len(s) > len(q[0])+len(q[1]) {
				s = strings.TrimSpace(s[len(q[0]) : len(s)-len(q[1])])
				break
			}
		}
	}
	return s
}
