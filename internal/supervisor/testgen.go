package supervisor

import (
	"math/rand"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/you/streamlink/internal/core"
)

var testAuthors = []string{
	"CyberPunk_2077", "StreamGod", "PixelViper",
	"GlitchMaster", "NebulaKnight", "EchoAlpha",
}

var testTexts = []string{
	"Can you show that camera setting again? Looks sick!",
	"Hype in the chat! Let's goooo",
	"Which GPU are you using for this stream?",
	"Just joined, what did I miss?",
	"Is that a custom keyboard? Sounds really thocky.",
	"LUL that was a close one, almost died there!",
}

// InjectTestMessages adds n synthetic chat messages spread across both
// platforms, for exercising the moderation surface without a live
// stream. Messages arrive spaced out so the feed animates naturally.
func (s *Supervisor) InjectTestMessages(n int) {
	if n <= 0 {
		n = 5
	}
	go func() {
		for i := 0; i < n; i++ {
			s.hub.Add(randomTestMessage())
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(400 * time.Millisecond):
			}
		}
	}()
}

func randomTestMessage() core.ChatMessage {
	platform := core.PlatformTwitch
	color := "#bf94ff"
	if rand.Intn(2) == 0 {
		platform = core.PlatformYouTube
		color = "#ff4d4d"
	}
	author := testAuthors[rand.Intn(len(testAuthors))]
	return core.ChatMessage{
		ID:             uuid.NewString(),
		Author:         author,
		Text:           testTexts[rand.Intn(len(testTexts))],
		Platform:       platform,
		Timestamp:      time.Now().UTC(),
		AvatarURL:      "https://api.dicebear.com/7.x/identicon/svg?seed=" + url.QueryEscape(author),
		AuthorColor:    color,
		IsFirstMessage: rand.Intn(5) == 0,
	}
}
