// Package bots describes the AI participants a host can add to a room and the
// service that produces their replies.
package bots

import (
	"fmt"
	"strings"

	"github.com/baderanaas/hushroom/pkg/protocol"
)

const (
	// HistoryWindow is how many recent messages accompany a respond call.
	HistoryWindow = 20

	ApologyText     = "Pole! I'm having trouble connecting to the network right now. Try again soon."
	ModeratorSender = senderPrefix + "mod"
	defaultReason   = "Content violation"
	safeVerdict     = "SAFE"
	senderPrefix    = "bot-"
)

// Bot is a catalog entry.
type Bot struct {
	Kind              protocol.BotKind
	Name              string
	Description       string
	Icon              string
	SystemInstruction string
}

var catalog = map[protocol.BotKind]Bot{
	protocol.BotModerator: {
		Kind:              protocol.BotModerator,
		Name:              "Linda (Mod)",
		Description:       "Filters offensive content and spam.",
		Icon:              "🛡️",
		SystemInstruction: "You are a strict but fair chat moderator named Linda. Your job is to detect hate speech, extreme profanity, or spam in the user's message. If the message is safe, return 'SAFE'. If it violates rules, return a brief, polite warning in English explaining why it was flagged. Do not output JSON. Just the warning text or 'SAFE'.",
	},
	protocol.BotTranslator: {
		Kind:              protocol.BotTranslator,
		Name:              "Mtafsiri (Sheng)",
		Description:       "Translates between English and Kenyan Sheng.",
		Icon:              "🇰🇪",
		SystemInstruction: "You are a translator bot proficient in English and Kenyan Sheng (Nairobi slang). If the input is in standard English, translate it to authentic, cool Kenyan Sheng. If the input is in Sheng or Swahili, translate it to standard English. Keep the tone casual and conversational. Prefix your response with 'Translation: '.",
	},
	protocol.BotMeme: {
		Kind:              protocol.BotMeme,
		Name:              "Cheka Bot",
		Description:       "Generates meme descriptions or jokes.",
		Icon:              "😂",
		SystemInstruction: "You are a funny bot named Cheka. When asked, generate a short, funny text-based meme description or a joke relevant to Kenyan culture or general internet humor. Keep it short.",
	},
	protocol.BotSummary: {
		Kind:              protocol.BotSummary,
		Name:              "Recap Bot",
		Description:       "Summarizes the recent conversation.",
		Icon:              "📝",
		SystemInstruction: "You are a helpful assistant. Summarize the provided conversation history in 3 bullet points. Focus on the main topics discussed.",
	},
	protocol.BotHelper: {
		Kind:              protocol.BotHelper,
		Name:              "Rafiki AI",
		Description:       "Smart assistant with web search.",
		Icon:              "🤖",
		SystemInstruction: "You are Rafiki, a smart AI assistant in a chat app. Answer questions helpfully and concisely.",
	},
}

// Kinds lists the catalog in display order.
var Kinds = []protocol.BotKind{
	protocol.BotModerator,
	protocol.BotTranslator,
	protocol.BotMeme,
	protocol.BotSummary,
	protocol.BotHelper,
}

// Lookup returns the catalog entry for kind.
func Lookup(kind protocol.BotKind) (Bot, bool) {
	b, ok := catalog[kind]
	return b, ok
}

// ParseKind accepts a kind case-insensitively.
func ParseKind(s string) (protocol.BotKind, bool) {
	kind := protocol.BotKind(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := catalog[kind]
	return kind, ok
}

// ShouldRespond reports whether a non-moderator bot reacts to content.
// The translator answers everything; the rest answer when named or when "bot" is mentioned.
func ShouldRespond(kind protocol.BotKind, content string) bool {
	if kind == protocol.BotModerator {
		return false
	}
	if kind == protocol.BotTranslator {
		return true
	}
	b, ok := catalog[kind]
	if !ok {
		return false
	}
	lower := strings.ToLower(content)
	return strings.Contains(lower, strings.ToLower(b.Name)) || strings.Contains(lower, "bot")
}

// SenderID is the message sender id used for a bot's replies.
func SenderID(kind protocol.BotKind) string {
	if kind == protocol.BotModerator {
		return ModeratorSender
	}
	return senderPrefix + string(kind)
}

// IsSender reports whether id is reserved for bot replies.
func IsSender(id string) bool {
	return strings.HasPrefix(id, senderPrefix)
}

// DisplayName falls back to the kind when the bot is not in the catalog.
func DisplayName(kind protocol.BotKind) string {
	if b, ok := catalog[kind]; ok {
		return b.Name
	}
	return string(kind)
}

// FlagWarning is the moderator's notice for an unsafe message.
func FlagWarning(reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = defaultReason
	}
	return fmt.Sprintf("⚠️ Message Flagged: %s.", reason)
}

// AddedNotice is the system message announcing a newly added bot.
func AddedNotice(kind protocol.BotKind) string {
	return fmt.Sprintf("%s Bot has been added to the chat.", kind)
}

// RemovedNotice is the system message announcing a removed bot.
func RemovedNotice(kind protocol.BotKind) string {
	return fmt.Sprintf("%s Bot has been removed from the chat.", kind)
}

// RecentHistory returns the last n messages of log.
func RecentHistory(log []protocol.Message, n int) []protocol.Message {
	if len(log) <= n {
		return protocol.CloneMessages(log)
	}
	return protocol.CloneMessages(log[len(log)-n:])
}
