package narration

import (
	"strings"

	"github.com/teslashibe/go-pathguide/pkg/direction"
	"github.com/teslashibe/go-pathguide/pkg/inference"
	"github.com/teslashibe/go-pathguide/pkg/settings"
	"github.com/teslashibe/go-pathguide/pkg/speech"
)

// Profile is who is being guided and how they want to hear it.
type Profile struct {
	RecipientName string
	Gender        settings.Gender
	AgeGroup      settings.AgeGroup
	SpeechRate    speech.Rate
	SpeechVolume  speech.Volume
}

// ProfileFrom extracts the narration profile from a settings snapshot.
func ProfileFrom(s settings.Settings) Profile {
	return Profile{
		RecipientName: s.Name,
		Gender:        s.Gender,
		AgeGroup:      s.AgeGroup,
		SpeechRate:    s.SpeechRate,
		SpeechVolume:  s.SpeechVolume,
	}
}

// Utterance builds a speech request for text in this profile's voice.
func (p Profile) Utterance(text string) speech.Utterance {
	return speech.Utterance{Text: text, Rate: p.SpeechRate, Volume: p.SpeechVolume}
}

// Addressee is how the assistant should address the user, e.g. "Mr. Lin".
func (p Profile) Addressee() string {
	name := strings.TrimSpace(p.RecipientName)
	if name == "" {
		return ""
	}
	switch p.Gender {
	case settings.GenderMale:
		return "Mr. " + name
	case settings.GenderFemale:
		return "Ms. " + name
	default:
		return name
	}
}

func (p Profile) ageQualifier() string {
	switch p.AgeGroup {
	case settings.AgeElder:
		return "elderly"
	case settings.AgeYoung:
		return "young"
	default:
		return ""
	}
}

// SystemPrompt is the persona for the narration generator.
func SystemPrompt(p Profile) string {
	var b strings.Builder
	b.WriteString("You are a voice navigation assistant for a blind pedestrian.\n")

	addressee := p.Addressee()
	age := p.ageQualifier()
	switch {
	case addressee != "" && age != "":
		b.WriteString("Your user is " + addressee + ", a " + age + " person. Address them as " + addressee + ".\n")
	case addressee != "":
		b.WriteString("Your user is " + addressee + ". Address them as " + addressee + ".\n")
	case age != "":
		b.WriteString("Your user is a " + age + " person.\n")
	}

	b.WriteString("You tell the user which way the tactile paving turns so they stay on it. ")
	b.WriteString("Always say clearly whether the turn is to the left or to the right, and offer a little care when it fits.\n")
	b.WriteString("The user cannot see the ground, which is why they rely on your spoken guidance.\n")
	b.WriteString("Speak gently and warmly. Keep it to one or two short sentences.")
	return b.String()
}

// TurnPrompt is the user message asking for a correction toward dir.
func TurnPrompt(dir direction.Classification) string {
	switch dir {
	case direction.Left:
		return "In a kind, short sentence, tell the user to turn left, because the tactile path turns left."
	case direction.Right:
		return "In a kind, short sentence, tell the user to turn right, because the tactile path turns right."
	default:
		return ""
	}
}

// BuildRequest assembles the chat request for one alert.
func BuildRequest(p Profile, dir direction.Classification) *inference.ChatRequest {
	return &inference.ChatRequest{
		Messages: []inference.Message{
			inference.NewSystemMessage(SystemPrompt(p)),
			inference.NewUserMessage(TurnPrompt(dir)),
		},
	}
}
