// Package cli is a terminal front end for a room session.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/baderanaas/hushroom/pkg/bots"
	"github.com/baderanaas/hushroom/pkg/identity"
	"github.com/baderanaas/hushroom/pkg/libp2p"
	"github.com/baderanaas/hushroom/pkg/protocol"
	"github.com/baderanaas/hushroom/pkg/room"
	"go.uber.org/zap"
)

// ErrLogout is returned by Run after /logout.
var ErrLogout = errors.New("logged out")

const (
	shortIDLen     = 8
	defaultHistory = 50
)

// Session is the room surface the CLI drives. *room.Session implements it.
type Session interface {
	User() protocol.User
	View() room.View
	Subscribe() (<-chan room.Update, func())
	CreateRoom(ctx context.Context, kind protocol.RoomKind) (protocol.Room, error)
	JoinRoom(ctx context.Context, code string) (protocol.Room, error)
	Leave() error
	SendMessage(content string, kind protocol.MessageKind, replyTo string) (protocol.Message, error)
	EditMessage(id, content string) error
	DeleteMessage(id string) error
	AddReaction(id, emoji string) error
	AddBot(kind protocol.BotKind) error
	RemoveBot(kind protocol.BotKind) error
	PolishDraft(ctx context.Context, draft string) (string, error)
	EditImage(ctx context.Context, messageID, instruction string) (protocol.Message, error)
}

// Network is the optional peer directory behind /peers and /invite.
type Network interface {
	Invite() string
	AddInvite(invite string) (string, error)
	KnownPeers() []libp2p.PeerStatus
}

// Options wires a CLI.
type Options struct {
	Session  Session
	Contacts *identity.Contacts
	Identity *identity.Provider
	Network  Network
	In       io.Reader
	Out      io.Writer
	Log      *zap.Logger
}

// CLI reads commands from In and prints the room to Out.
type CLI struct {
	session  Session
	contacts *identity.Contacts
	identity *identity.Provider
	network  Network
	in       io.Reader
	out      io.Writer
	log      *zap.Logger

	outMu sync.Mutex
}

func New(opts Options) *CLI {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &CLI{
		session:  opts.Session,
		contacts: opts.Contacts,
		identity: opts.Identity,
		network:  opts.Network,
		in:       opts.In,
		out:      opts.Out,
		log:      opts.Log,
	}
}

func (c *CLI) printf(format string, args ...interface{}) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func (c *CLI) printHelp() {
	c.printf("Commands:\n")
	c.printf("  /create [private|group]      - Host a room on your code\n")
	c.printf("  /join <code|invite|contact>  - Join a room\n")
	c.printf("  /leave                       - Leave the current room\n")
	c.printf("  /reply <id> <msg>            - Reply to a message\n")
	c.printf("  /edit <id> <msg>             - Edit one of your messages\n")
	c.printf("  /delete <id>                 - Delete one of your messages\n")
	c.printf("  /react <id> <emoji>          - Toggle a reaction\n")
	c.printf("  /sticker <sticker>           - Send a sticker\n")
	c.printf("  /image <url>                 - Send an image\n")
	c.printf("  /edit-image <id> <prompt>    - Ask the AI to edit an image\n")
	c.printf("  /bots                        - List the bots\n")
	c.printf("  /bot-add <bot>               - Add a bot (admin)\n")
	c.printf("  /bot-remove <bot>            - Remove a bot (admin)\n")
	c.printf("  /polish <draft>              - Polish a draft before sending\n")
	c.printf("  /history [n]                 - Show the last [n] messages (default 50)\n")
	c.printf("  /peers                       - List known peers\n")
	c.printf("  /invite                      - Print an invite for your code\n")
	c.printf("  /contacts                    - List all contacts\n")
	c.printf("  /add-contact <name> <code>   - Add a new contact\n")
	c.printf("  /logout                      - Forget your identity and exit\n")
	c.printf("  /quit                        - Exit\n")
	c.printf("  <message>                    - Send to the room\n")
}

// Run processes commands until /quit, /logout, end of input or ctx is done.
func (c *CLI) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates, stop := c.session.Subscribe()
	defer stop()
	go c.watch(ctx, updates)

	user := c.session.User()
	c.printf("\n✅ Hushroom started as %s (%s)\n", user.Name, user.ID)
	c.printf("Your room code is %s. Share it or use /create to host.\n", user.ID)
	c.printHelp()
	c.printf("> ")

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-scanErr:
			return err
		case line := <-lines:
			input := strings.TrimSpace(line)
			if input == "" {
				c.printf("> ")
				continue
			}
			done, err := c.handle(ctx, input)
			if done {
				return err
			}
			c.printf("> ")
		}
	}
}

// handle runs one input line. It reports whether the CLI should exit.
func (c *CLI) handle(ctx context.Context, input string) (bool, error) {
	cmd, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	if !strings.HasPrefix(cmd, "/") {
		if _, err := c.session.SendMessage(input, protocol.KindText, ""); err != nil {
			c.printf("❌ Failed to send message: %v\n", err)
		}
		return false, nil
	}

	switch cmd {
	case "/quit":
		c.printf("🔌 Shutting down...\n")
		return true, nil

	case "/logout":
		if c.identity == nil {
			c.printf("❌ Logout is not available\n")
			return false, nil
		}
		if err := c.session.Leave(); err != nil {
			c.log.Debug("leave before logout", zap.Error(err))
		}
		if err := c.identity.Logout(); err != nil {
			c.printf("❌ Failed to log out: %v\n", err)
			return false, nil
		}
		c.printf("👋 Logged out. Your code will change on next start.\n")
		return true, ErrLogout

	case "/help":
		c.printHelp()

	case "/create":
		kind := protocol.RoomGroup
		if strings.EqualFold(arg, "private") {
			kind = protocol.RoomPrivate
		}
		r, err := c.session.CreateRoom(ctx, kind)
		if err != nil {
			c.printf("❌ Failed to create room: %v\n", err)
			return false, nil
		}
		c.printf("✅ %s created. Others join with: /join %s\n", r.Name, r.ID)

	case "/join":
		if arg == "" {
			c.printf("Usage: /join <code|invite|contact>\n")
			return false, nil
		}
		code, err := c.resolveCode(arg)
		if err != nil {
			c.printf("❌ %v\n", err)
			return false, nil
		}
		c.printf("🔎 Connecting to %s...\n", code)
		r, err := c.session.JoinRoom(ctx, code)
		if err != nil {
			c.printf("❌ Failed to join: %v\n", err)
			return false, nil
		}
		c.printf("✅ Joined %s hosted by %s\n", r.Name, r.HostID)
		c.printHistory(defaultHistory)

	case "/leave":
		if err := c.session.Leave(); err != nil {
			c.printf("❌ Failed to leave: %v\n", err)
			return false, nil
		}
		c.printf("✅ Left the room\n")

	case "/reply":
		prefix, text, ok := strings.Cut(arg, " ")
		if !ok {
			c.printf("Usage: /reply <id> <message>\n")
			return false, nil
		}
		c.withMessage(prefix, func(id string) error {
			_, err := c.session.SendMessage(strings.TrimSpace(text), protocol.KindText, id)
			return err
		})

	case "/edit":
		prefix, text, ok := strings.Cut(arg, " ")
		if !ok {
			c.printf("Usage: /edit <id> <message>\n")
			return false, nil
		}
		c.withMessage(prefix, func(id string) error {
			return c.session.EditMessage(id, strings.TrimSpace(text))
		})

	case "/delete":
		if arg == "" {
			c.printf("Usage: /delete <id>\n")
			return false, nil
		}
		c.withMessage(arg, c.session.DeleteMessage)

	case "/react":
		prefix, emoji, ok := strings.Cut(arg, " ")
		if !ok {
			c.printf("Usage: /react <id> <emoji>\n")
			return false, nil
		}
		c.withMessage(prefix, func(id string) error {
			return c.session.AddReaction(id, strings.TrimSpace(emoji))
		})

	case "/sticker", "/image":
		if arg == "" {
			c.printf("Usage: %s <content>\n", cmd)
			return false, nil
		}
		kind := protocol.KindSticker
		if cmd == "/image" {
			kind = protocol.KindImage
		}
		if _, err := c.session.SendMessage(arg, kind, ""); err != nil {
			c.printf("❌ Failed to send %s: %v\n", strings.ToLower(string(kind)), err)
		}

	case "/edit-image":
		prefix, instruction, ok := strings.Cut(arg, " ")
		if !ok {
			c.printf("Usage: /edit-image <id> <instruction>\n")
			return false, nil
		}
		c.printf("🎨 Editing image...\n")
		c.withMessage(prefix, func(id string) error {
			_, err := c.session.EditImage(ctx, id, strings.TrimSpace(instruction))
			return err
		})

	case "/bots":
		c.printBots()

	case "/bot-add", "/bot-remove":
		kind, ok := bots.ParseKind(arg)
		if !ok {
			c.printf("❌ Unknown bot %q. Use /bots to list them.\n", arg)
			return false, nil
		}
		var err error
		if cmd == "/bot-add" {
			err = c.session.AddBot(kind)
		} else {
			err = c.session.RemoveBot(kind)
		}
		if err != nil {
			c.printf("❌ %v\n", err)
		}

	case "/polish":
		if arg == "" {
			c.printf("Usage: /polish <draft>\n")
			return false, nil
		}
		polished, err := c.session.PolishDraft(ctx, arg)
		if err != nil {
			c.printf("⚠️ Could not polish the draft: %v\n", err)
			return false, nil
		}
		c.printf("✨ %s\n", polished)

	case "/history":
		count := defaultHistory
		if arg != "" {
			n, err := strconv.Atoi(arg)
			if err != nil || n <= 0 {
				c.printf("Invalid count, must be a positive number.\n")
				return false, nil
			}
			count = n
		}
		c.printHistory(count)

	case "/peers":
		c.printPeers()

	case "/invite":
		if c.network == nil {
			c.printf("❌ Invites are not available on this transport\n")
			return false, nil
		}
		c.printf("📨 Share this invite: %s\n", c.network.Invite())

	case "/contacts":
		c.printContacts()

	case "/add-contact":
		name, code, ok := strings.Cut(arg, " ")
		if !ok || c.contacts == nil {
			c.printf("Usage: /add-contact <name> <code>\n")
			return false, nil
		}
		contact, err := c.contacts.Add(name, strings.TrimSpace(code))
		if err != nil {
			c.printf("❌ Failed to add contact: %v\n", err)
			return false, nil
		}
		c.printf("✅ Contact '%s' added (%s).\n", contact.Name, contact.Code)

	default:
		c.printf("Unknown command %s. Type /help for the list.\n", cmd)
	}
	return false, nil
}

// resolveCode turns a room code, contact name or invite into a room code.
func (c *CLI) resolveCode(arg string) (string, error) {
	if code := identity.NormalizeCode(arg); identity.ValidCode(code) {
		return code, nil
	}
	if c.contacts != nil {
		if contact, ok := c.contacts.Get(arg); ok {
			return contact.Code, nil
		}
	}
	if c.network != nil {
		code, err := c.network.AddInvite(arg)
		if err == nil {
			return code, nil
		}
		if !errors.Is(err, libp2p.ErrInvalidInvite) {
			return "", err
		}
	}
	return "", fmt.Errorf("%q is not a room code, contact or invite", arg)
}

// withMessage resolves a message id prefix and runs fn with the full id.
func (c *CLI) withMessage(prefix string, fn func(id string) error) {
	id, err := c.findMessage(prefix)
	if err != nil {
		c.printf("❌ %v\n", err)
		return
	}
	if err := fn(id); err != nil {
		c.printf("❌ %v\n", err)
	}
}

func (c *CLI) findMessage(prefix string) (string, error) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" {
		return "", room.ErrMessageNotFound
	}
	var match string
	for _, m := range c.session.View().Messages {
		if !strings.HasPrefix(strings.ToLower(m.ID), prefix) {
			continue
		}
		if match != "" && match != m.ID {
			return "", fmt.Errorf("message id %s is ambiguous", prefix)
		}
		match = m.ID
	}
	if match == "" {
		return "", fmt.Errorf("%w: %s", room.ErrMessageNotFound, prefix)
	}
	return match, nil
}

func shortID(id string) string {
	if len(id) > shortIDLen {
		return id[:shortIDLen]
	}
	return id
}

func (c *CLI) formatMessage(m protocol.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", m.Timestamp.Local().Format("15:04"), shortID(m.ID))
	switch {
	case m.Kind == protocol.KindSystem:
		fmt.Fprintf(&b, " ℹ️ %s", m.Content)
		return b.String()
	case m.IsBot:
		fmt.Fprintf(&b, " 🤖 %s: ", m.SenderName)
	default:
		fmt.Fprintf(&b, " %s: ", m.SenderName)
	}
	if m.ReplyTo != "" {
		fmt.Fprintf(&b, "↪ %s ", shortID(m.ReplyTo))
	}
	switch m.Kind {
	case protocol.KindImage:
		fmt.Fprintf(&b, "🖼️ %s", m.Content)
	case protocol.KindSticker:
		fmt.Fprintf(&b, "🏷️ %s", m.Content)
	default:
		b.WriteString(m.Content)
	}
	if m.IsEdited && !m.IsDeleted {
		b.WriteString(" (edited)")
	}
	if m.Status == protocol.StatusPending {
		b.WriteString(" ⏳")
	}
	for _, emoji := range m.ReactionKeys() {
		fmt.Fprintf(&b, " %s%d", emoji, len(m.Reactions[emoji]))
	}
	return b.String()
}

func (c *CLI) printHistory(count int) {
	msgs := c.session.View().Messages
	if len(msgs) > count {
		msgs = msgs[len(msgs)-count:]
	}
	c.printf("--- History (last %d messages) ---\n", len(msgs))
	for _, m := range msgs {
		c.printf("%s\n", c.formatMessage(m))
	}
	c.printf("--- End of history ---\n")
}

func (c *CLI) printBots() {
	view := c.session.View()
	c.printf("Bots:\n")
	for _, kind := range bots.Kinds {
		b, _ := bots.Lookup(kind)
		marker := " "
		if view.Room != nil && view.Room.HasBot(kind) {
			marker = "✓"
		}
		c.printf("  [%s] %s %-10s %s - %s\n", marker, b.Icon, strings.ToLower(string(kind)), b.Name, b.Description)
	}
}

func (c *CLI) printPeers() {
	view := c.session.View()
	if len(view.Peers) == 0 {
		c.printf("No peers connected to this room.\n")
	} else {
		c.printf("Room peers:\n")
		for _, p := range view.Peers {
			c.printf("  - %s\n", p)
		}
	}
	if c.network == nil {
		return
	}
	known := c.network.KnownPeers()
	if len(known) == 0 {
		return
	}
	c.printf("Known codes:\n")
	for _, p := range known {
		status := "⚪"
		if p.Connected {
			status = "🟢"
		}
		c.printf("  %s %s %s (via %s)\n", status, p.ShortID, p.Name, p.Source)
	}
}

func (c *CLI) printContacts() {
	if c.contacts == nil {
		c.printf("Contacts are not available.\n")
		return
	}
	contacts := c.contacts.List()
	if len(contacts) == 0 {
		c.printf("No contacts found. Use /add-contact <name> <code> to add one.\n")
		return
	}
	c.printf("Contacts:\n")
	for _, contact := range contacts {
		c.printf("  - %s: %s\n", contact.Name, contact.Code)
	}
}

// watch prints room activity that did not come from this terminal.
func (c *CLI) watch(ctx context.Context, updates <-chan room.Update) {
	self := c.session.User().ID
	var lastState room.State
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			switch u.Kind {
			case room.UpdateMessage:
				if u.Message != nil && (u.Message.SenderID != self || u.Message.IsBot) {
					c.printf("\r%s\n> ", c.formatMessage(*u.Message))
				}
			case room.UpdateNotice:
				c.printf("\r⚠️ %s\n> ", u.Notice)
			case room.UpdateState:
				if u.View.State == lastState {
					continue
				}
				lastState = u.View.State
				if u.View.State == room.StateError {
					c.printf("\r❌ %s\n> ", u.View.Reason)
				}
			case room.UpdateTyping:
				for _, name := range u.View.Typing {
					c.printf("\r✍️ %s is typing...\n> ", name)
				}
			}
		}
	}
}
