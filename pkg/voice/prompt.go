package voice

import (
	"fmt"
	"strings"
	"unicode"
)

// SystemPrompt returns the companion persona. Replies are kept to a few
// sentences because they are spoken aloud.
func SystemPrompt(userName string) string {
	if strings.TrimSpace(userName) == "" {
		userName = "there"
	}
	return fmt.Sprintf(`You are RUVO, a compassionate AI voice companion built for emotional support and meaningful conversation.

Key traits:
- Warm, empathetic and genuinely caring
- Speak naturally, as if talking to a close friend
- Keep replies short: one to three sentences, since they are spoken aloud
- Ask thoughtful follow-up questions
- Remember what was said earlier in the conversation

You are talking with %s in a continuous voice conversation. Use contractions and natural speech patterns, and respond as if speaking directly to them.`, userName)
}

// Emotion is a coarse mood inferred from what the user said.
type Emotion string

const (
	EmotionNeutral     Emotion = "neutral"
	EmotionSad         Emotion = "sad"
	EmotionAnxious     Emotion = "anxious"
	EmotionAngry       Emotion = "angry"
	EmotionHappy       Emotion = "happy"
	EmotionExcited     Emotion = "excited"
	EmotionConfused    Emotion = "confused"
	EmotionHeartbroken Emotion = "heartbroken"
	EmotionStressed    Emotion = "stressed"
	EmotionTired       Emotion = "tired"
	EmotionFearful     Emotion = "fearful"
)

// Checked in order; the first match wins.
var emotionKeywords = []struct {
	emotion  Emotion
	keywords []string
}{
	{EmotionSad, []string{"sad", "unhappy", "depressed", "miserable", "heartbroken", "devastated", "grief", "loss", "crying", "tears", "sorrow", "blue", "down", "mourn"}},
	{EmotionAnxious, []string{"anxious", "worried", "nervous", "panic", "stress", "overwhelmed", "afraid", "scared", "fear", "terrified", "uneasy", "dread", "apprehensive", "freaking out"}},
	{EmotionAngry, []string{"angry", "mad", "furious", "irritated", "annoyed", "frustrated", "rage", "hate", "resent", "bitter", "upset", "outraged", "hostile", "pissed"}},
	{EmotionHappy, []string{"happy", "joyful", "glad", "pleased", "delighted", "content", "cheerful", "thrilled", "excited", "blissful", "ecstatic", "elated", "jubilant"}},
	{EmotionExcited, []string{"eager", "enthusiastic", "pumped", "stoked", "hyped", "buzzing", "psyched", "amped", "exhilarated", "energized"}},
	{EmotionConfused, []string{"confused", "perplexed", "puzzled", "bewildered", "unsure", "uncertain", "disoriented", "lost", "baffled", "stumped", "unclear", "mixed up"}},
	{EmotionHeartbroken, []string{"betrayed", "abandoned", "rejected", "alone", "lonely", "broken", "hurt", "wounded", "shattered", "crushed", "dumped", "divorce"}},
	{EmotionStressed, []string{"stressed", "pressured", "burdened", "overloaded", "swamped", "tense", "strained", "frazzled", "burnout", "exhausted"}},
	{EmotionTired, []string{"tired", "sleepy", "fatigued", "weary", "drained", "spent", "worn out", "beat", "drowsy", "lethargic", "sluggish"}},
	{EmotionFearful, []string{"fearful", "frightened", "petrified", "horrified", "panicked", "alarmed", "spooked", "startled", "phobic"}},
}

// DetectEmotion finds the first mood keyword present as a whole word.
func DetectEmotion(text string) Emotion {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	if len(words) == 0 {
		return EmotionNeutral
	}
	joined := " " + strings.Join(words, " ") + " "

	for _, group := range emotionKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(joined, " "+kw+" ") {
				return group.emotion
			}
		}
	}
	return EmotionNeutral
}

// Tone returns extra guidance for replying to someone feeling e, or "" for
// a neutral mood.
func Tone(e Emotion) string {
	switch e {
	case EmotionNeutral, "":
		return ""
	case EmotionHappy, EmotionExcited:
		return "The user sounds " + string(e) + ". Share their energy and keep it light."
	default:
		return "The user sounds " + string(e) + ". Slow down, be gentle, and let them know they are not alone. " +
			"Validate how they feel before offering anything else."
	}
}
