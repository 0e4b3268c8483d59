// Package ui is the line-oriented terminal front end. It renders the
// materialized message list and dispatches slash commands; all domain
// behavior lives behind the Actions interface.
package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"rownak/pkg/auth"
	"rownak/pkg/models"
	"rownak/pkg/reactions"
)

// tailSize is how many messages a full render shows.
const tailSize = 25

// Actions is what the terminal can do to the client.
type Actions interface {
	SignIn(ctx context.Context, email, password string) error
	SignUp(ctx context.Context, email, password string) error
	SignOut()
	SignedIn() *models.Identity

	Send(ctx context.Context, text string) error
	Reply(m models.Message)
	CancelReply()
	ReplyTarget() (models.Message, bool)
	React(ctx context.Context, messageID, emoji string) error
	Messages() []models.Message
	Statuses() map[string]models.PresenceRecord
	UpdateProfile(ctx context.Context, displayName, avatarFile string) error
	ToggleTheme() string
}

// Terminal is the REPL.
type Terminal struct {
	in  io.Reader
	out io.Writer
	act Actions

	mu       sync.Mutex
	msgs     []models.Message
	statuses map[string]models.PresenceRecord
	banner   string
}

// NewTerminal builds a terminal over the given streams.
func NewTerminal(in io.Reader, out io.Writer, act Actions) *Terminal {
	return &Terminal{in: in, out: out, act: act, statuses: map[string]models.PresenceRecord{}}
}

func (t *Terminal) printf(format string, args ...any) {
	fmt.Fprintf(t.out, format, args...)
}

// SetBanner shows a transient status line; empty clears it.
func (t *Terminal) SetBanner(msg string) {
	t.mu.Lock()
	t.banner = msg
	t.mu.Unlock()
	if msg != "" {
		t.printf("** %s **\n", msg)
	}
}

// Focus is called when a reply begins; in a line terminal there is no
// input widget to focus, so it just echoes the quoted target.
func (t *Terminal) Focus() {
	if m, ok := t.act.ReplyTarget(); ok {
		t.printf("replying to %s: %s\n", senderLabel(m), truncate(m.Text, 60))
	}
}

// RenderMessages receives each replaced message list. When the view is
// pinned by a pending reply the tail is not re-printed, only noted, so
// the quoted context stays on screen.
func (t *Terminal) RenderMessages(msgs []models.Message, scrollToNewest bool) {
	t.mu.Lock()
	t.msgs = msgs
	t.mu.Unlock()
	if scrollToNewest {
		t.Render()
	} else if len(msgs) > 0 {
		t.printf("(new activity; /cancel to jump back to the latest)\n")
	}
}

// RenderPresence receives the mirrored status map.
func (t *Terminal) RenderPresence(statuses map[string]models.PresenceRecord) {
	t.mu.Lock()
	t.statuses = statuses
	t.mu.Unlock()
}

// Render prints the message tail with presence markers and reactions.
func (t *Terminal) Render() {
	t.mu.Lock()
	msgs := t.msgs
	statuses := t.statuses
	banner := t.banner
	t.mu.Unlock()

	start := 0
	if len(msgs) > tailSize {
		start = len(msgs) - tailSize
	}
	for i := start; i < len(msgs); i++ {
		m := msgs[i]
		dot := "○"
		if statuses[m.UID].Online() {
			dot = "●"
		}
		if m.ReplyTo != "" {
			t.printf("    ┌ %s: %s\n", m.ReplyToSender, truncate(m.ReplyToText, 48))
		}
		t.printf("[%d] %s %s: %s\n", i+1, dot, senderLabel(m), m.Text)
		if line := reactionLine(m); line != "" {
			t.printf("      %s\n", line)
		}
	}
	if banner != "" {
		t.printf("** %s **\n", banner)
	}
}

func senderLabel(m models.Message) string {
	if m.SenderName != "" {
		return m.SenderName
	}
	id := models.Identity{Email: m.Sender}
	return id.Name()
}

func reactionLine(m models.Message) string {
	if len(m.Reactions) == 0 {
		return ""
	}
	parts := make([]string, 0, len(m.Reactions))
	for _, e := range reactions.DefaultEmojis {
		if n := m.ReactorCount(e); n > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", e, n))
		}
	}
	for e, uids := range m.Reactions {
		if !contains(reactions.DefaultEmojis, e) && len(uids) > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", e, len(uids)))
		}
	}
	return strings.Join(parts, "  ")
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// looksLikeImage distinguishes an avatar path from the last word of a
// multi-word display name.
func looksLikeImage(s string) bool {
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".gif", ".webp"} {
		if strings.HasSuffix(strings.ToLower(s), ext) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// Run reads lines until ctx is canceled, input ends or the user quits.
func (t *Terminal) Run(ctx context.Context) error {
	lines := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(t.in)
		sc.Buffer(make([]byte, 0, 64*1024), 64*1024)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errCh <- sc.Err()
	}()

	t.printf("messages sync via your store; type /help for commands\n")
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		case line := <-lines:
			if quit := t.handle(ctx, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

// handle dispatches one input line; returns true to quit.
func (t *Terminal) handle(ctx context.Context, line string) bool {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		if t.act.SignedIn() == nil {
			t.printf("sign in first: /login <email> <password>\n")
			return false
		}
		if err := t.act.Send(ctx, line); err != nil {
			t.printf("send failed: %s\n", err)
		}
		return false
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "/help":
		t.help()
	case "/quit":
		return true
	case "/login":
		if len(args) != 2 {
			t.printf("usage: /login <email> <password>\n")
			return false
		}
		if err := t.act.SignIn(ctx, args[0], args[1]); err != nil {
			t.printf("%s\n", auth.Classify(err))
			return false
		}
		t.Render()
	case "/signup":
		if len(args) != 2 {
			t.printf("usage: /signup <email> <password>\n")
			return false
		}
		if err := t.act.SignUp(ctx, args[0], args[1]); err != nil {
			t.printf("%s\n", auth.Classify(err))
			return false
		}
		t.printf("account created\n")
	case "/logout":
		t.act.SignOut()
		t.printf("signed out\n")
	case "/reply":
		m, ok := t.messageArg(args)
		if !ok {
			return false
		}
		t.act.Reply(m)
	case "/cancel":
		t.act.CancelReply()
		t.Render()
	case "/react":
		if len(args) != 2 {
			t.printf("usage: /react <n> <emoji|1-%d>\n", len(reactions.DefaultEmojis))
			return false
		}
		m, ok := t.messageArg(args[:1])
		if !ok {
			return false
		}
		emoji := args[1]
		if i, err := strconv.Atoi(emoji); err == nil && i >= 1 && i <= len(reactions.DefaultEmojis) {
			emoji = reactions.DefaultEmojis[i-1]
		}
		if err := t.act.React(ctx, m.ID, emoji); err != nil {
			t.printf("react failed: %s\n", err)
		}
	case "/profile":
		if len(args) < 1 {
			t.printf("usage: /profile <display-name> [avatar-file]\n")
			return false
		}
		avatar := ""
		if len(args) > 1 && looksLikeImage(args[len(args)-1]) {
			avatar = args[len(args)-1]
			args = args[:len(args)-1]
		}
		name := strings.Join(args, " ")
		if err := t.act.UpdateProfile(ctx, name, avatar); err != nil {
			t.printf("profile update failed: %s\n", err)
		}
	case "/theme":
		t.printf("theme: %s\n", t.act.ToggleTheme())
	case "/who":
		t.who()
	default:
		t.printf("unknown command %s; /help lists them\n", cmd)
	}
	return false
}

// messageArg resolves a 1-based index from the last render.
func (t *Terminal) messageArg(args []string) (models.Message, bool) {
	if len(args) != 1 {
		t.printf("expected a message number\n")
		return models.Message{}, false
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		t.printf("expected a message number, got %q\n", args[0])
		return models.Message{}, false
	}
	t.mu.Lock()
	msgs := t.msgs
	t.mu.Unlock()
	if n < 1 || n > len(msgs) {
		t.printf("no message [%d]\n", n)
		return models.Message{}, false
	}
	return msgs[n-1], true
}

func (t *Terminal) who() {
	statuses := t.act.Statuses()
	if len(statuses) == 0 {
		t.printf("nobody here yet\n")
		return
	}
	for uid, rec := range statuses {
		mark := "offline"
		if rec.Online() {
			mark = "online"
		}
		t.printf("%s  %s\n", uid, mark)
	}
}

func (t *Terminal) help() {
	t.printf(`commands:
  /login <email> <password>    sign in
  /signup <email> <password>   create an account
  /logout                      sign out
  /reply <n>                   reply to message n
  /cancel                      drop the pending reply
  /react <n> <emoji|1-6>       toggle a reaction on message n
  /profile <name> [avatar]     update display name and avatar
  /who                         list presence
  /theme                       toggle light/dark
  /quit                        exit
anything else is sent as a message
`)
}
