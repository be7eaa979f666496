package notify

import (
	"fmt"
	"strings"

	"github.com/stagehand-live/stagehand/internal/event"
	"github.com/stagehand-live/stagehand/internal/text"
)

// Copy is the set of strings built for a single notification: one for the overlay,
// one for TTS, one for the log file
type Copy struct {
	DisplayMessage string
	TTSMessage     string
	LogMessage     string
}

// maxCopyLength bounds every built string after sanitization
const maxCopyLength = 300

// BuildCopy produces display, TTS, and log copy for a notification. It is a pure
// function of its inputs: no state is read or mutated.
func BuildCopy(typ event.Type, platform event.Platform, data *event.Data) (Copy, error) {
	switch typ {
	case event.TypeGift:
		if data.Gift == nil {
			return Copy{}, fmt.Errorf("gift notification carries no gift payload")
		}
		return buildGiftCopy(platform, data.Gift), nil
	case event.TypeEnvelope:
		if data.Envelope == nil {
			return Copy{}, fmt.Errorf("envelope notification carries no envelope payload")
		}
		return buildEnvelopeCopy(data.Envelope), nil
	case event.TypePaypiggy:
		if data.Paypiggy == nil {
			return Copy{}, fmt.Errorf("paypiggy notification carries no paypiggy payload")
		}
		return buildPaypiggyCopy(platform, data.Paypiggy), nil
	case event.TypeGiftPaypiggy:
		if data.GiftPaypiggy == nil {
			return Copy{}, fmt.Errorf("giftpaypiggy notification carries no giftpaypiggy payload")
		}
		return buildGiftPaypiggyCopy(platform, data.GiftPaypiggy), nil
	case event.TypeFollow:
		if data.Follow == nil {
			return Copy{}, fmt.Errorf("follow notification carries no follow payload")
		}
		return buildFollowCopy(data.Follow), nil
	case event.TypeRaid:
		if data.Raid == nil {
			return Copy{}, fmt.Errorf("raid notification carries no raid payload")
		}
		return buildRaidCopy(data.Raid), nil
	}
	return Copy{}, fmt.Errorf("no copy builder for notification type '%s'", typ)
}

func buildGiftCopy(platform event.Platform, g *event.Gift) Copy {
	username := fallbackName(g.Username)
	if g.IsError {
		msg := fmt.Sprintf("%s sent a gift (error reading gift details)", username)
		return finishCopy(msg, msg, msg)
	}

	giftType := g.GiftType
	if giftType == "" {
		giftType = "gift"
	}
	display := fmt.Sprintf("%s gifted %dx %s", username, g.GiftCount, giftType)
	if g.Amount > 0 {
		display += fmt.Sprintf(" (%s %s)", formatAmount(g.Amount), g.Currency)
	}
	if g.Message != "" {
		display += ": " + g.Message
	}

	tts := fmt.Sprintf("%s gifted %d %s", username, g.GiftCount, giftType)
	logMsg := fmt.Sprintf("[%s] gift from %s: %dx %s amount=%s %s",
		platform, username, g.GiftCount, giftType, formatAmount(g.Amount), g.Currency)
	return finishCopy(display, tts, logMsg)
}

func buildEnvelopeCopy(e *event.Envelope) Copy {
	username := fallbackName(e.Username)
	if e.IsError {
		msg := fmt.Sprintf("%s sent an envelope (error reading envelope details)", username)
		return finishCopy(msg, msg, msg)
	}
	display := fmt.Sprintf("%s sent an envelope: %s %s", username, formatAmount(e.Amount), e.Currency)
	tts := fmt.Sprintf("%s sent an envelope", username)
	logMsg := fmt.Sprintf("envelope from %s: amount=%s %s", username, formatAmount(e.Amount), e.Currency)
	return finishCopy(display, tts, logMsg)
}

func buildPaypiggyCopy(platform event.Platform, p *event.Paypiggy) Copy {
	username := fallbackName(p.Username)
	if p.IsError {
		msg := fmt.Sprintf("%s subscribed (error reading subscription details)", username)
		return finishCopy(msg, msg, msg)
	}

	var display string
	switch platform {
	case event.PlatformYouTube:
		level := p.MembershipLevel
		if level == "" {
			level = "member"
		}
		display = fmt.Sprintf("%s became a member (%s)", username, level)
	default:
		display = fmt.Sprintf("%s subscribed", username)
		if tier := tierNumber(p.Tier); tier != "" {
			display += fmt.Sprintf(" at Tier %s", tier)
		}
	}
	if p.Months > 1 {
		display += fmt.Sprintf(" for the %s month", text.Ordinal(p.Months))
	}
	if p.Message != "" {
		display += ": " + p.Message
	}

	tts := fmt.Sprintf("%s subscribed", username)
	if platform == event.PlatformYouTube {
		tts = fmt.Sprintf("%s became a member", username)
	}
	logMsg := fmt.Sprintf("[%s] paypiggy from %s months=%d", platform, username, p.Months)
	return finishCopy(display, tts, logMsg)
}

func buildGiftPaypiggyCopy(platform event.Platform, g *event.GiftPaypiggy) Copy {
	username := fallbackName(g.Username)
	if g.IsAnonymous {
		username = "An anonymous gifter"
	}
	if g.IsError {
		msg := fmt.Sprintf("%s gifted subscriptions (error reading gift details)", username)
		return finishCopy(msg, msg, msg)
	}

	count := g.GiftCount
	if count < 1 {
		count = 1
	}
	noun := "subscriptions"
	if count == 1 {
		noun = "subscription"
	}
	display := fmt.Sprintf("%s gifted %d %s", username, count, noun)
	if platform == event.PlatformTwitch {
		if tier := tierNumber(g.Tier); tier != "" {
			display += fmt.Sprintf(" at Tier %s", tier)
		}
	}
	if g.CumulativeTotal > 0 {
		display += fmt.Sprintf(" (%d total)", g.CumulativeTotal)
	}

	tts := fmt.Sprintf("%s gifted %d %s", username, count, noun)
	logMsg := fmt.Sprintf("[%s] giftpaypiggy from %s count=%d tier=%s", platform, username, count, g.Tier)
	return finishCopy(display, tts, logMsg)
}

func buildFollowCopy(f *event.Follow) Copy {
	username := fallbackName(f.Username)
	display := fmt.Sprintf("%s followed!", username)
	tts := fmt.Sprintf("%s followed", username)
	logMsg := fmt.Sprintf("follow from %s", username)
	return finishCopy(display, tts, logMsg)
}

func buildRaidCopy(r *event.Raid) Copy {
	username := fallbackName(r.Username)
	display := fmt.Sprintf("%s is raiding with %d viewers!", username, r.ViewerCount)
	tts := fmt.Sprintf("%s is raiding with %d viewers", username, r.ViewerCount)
	logMsg := fmt.Sprintf("raid from %s viewers=%d", username, r.ViewerCount)
	return finishCopy(display, tts, logMsg)
}

// tierNumber converts Twitch's tier encoding to the human-facing number
func tierNumber(tier string) string {
	switch tier {
	case "1000":
		return "1"
	case "2000":
		return "2"
	case "3000":
		return "3"
	}
	return ""
}

func fallbackName(username string) string {
	if strings.TrimSpace(username) == "" {
		return "Unknown User"
	}
	return username
}

func formatAmount(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.2f", v)
}

func finishCopy(display, tts, logMsg string) Copy {
	return Copy{
		DisplayMessage: text.Sanitize(display, maxCopyLength),
		TTSMessage:     text.Sanitize(tts, maxCopyLength),
		LogMessage:     text.Sanitize(logMsg, maxCopyLength),
	}
}
