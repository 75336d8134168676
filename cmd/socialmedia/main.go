// Socialmedia — CLI entry point.
//
// This tool talks to the backend REST API for accounts and chat history, and
// to the relay's WebSocket routes for live chat, call notices and P2P video
// call signaling. The media itself flows peer to peer over WebRTC.
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (-server, -ws, -user, -pass).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pterm/pterm"

	"github.com/KiranBaburaj/socialmedia/internal/api"
	"github.com/KiranBaburaj/socialmedia/internal/call"
	"github.com/KiranBaburaj/socialmedia/internal/chat"
	"github.com/KiranBaburaj/socialmedia/internal/config"
	"github.com/KiranBaburaj/socialmedia/internal/notify"
	"github.com/KiranBaburaj/socialmedia/internal/util"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg := config.Default()
	flag.StringVar(&cfg.APIBase, "server", cfg.APIBase, "Backend HTTP base URL")
	flag.StringVar(&cfg.WSBase, "ws", cfg.WSBase, "Relay WebSocket base URL")
	flag.StringVar(&cfg.Username, "user", "", "Username (prompts when empty)")
	flag.StringVar(&cfg.Password, "pass", "", "Password (prompts when empty)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Socialmedia — v%s", version))
	pterm.Println()

	client := api.New(cfg.APIBase)
	sess, err := authenticate(ctx, client, cfg)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	util.LogInfo("logged in as %s", sess.Username)

	app := &app{
		cfg:    cfg,
		client: client,
		sess:   sess,
	}

	notifier, err := notify.Subscribe(ctx, cfg.WSBase, sess.ID, app.onIncomingCall)
	if err != nil {
		util.LogError("failed to subscribe to call notices: %v", err)
		os.Exit(1)
	}
	defer notifier.Close()
	app.notifier = notifier

	app.run(ctx)
}

// ---------------------------------------------------------------------------
// Authentication
// ---------------------------------------------------------------------------

// authenticate logs in with the provided or prompted credentials, offering
// registration when the account does not exist yet.
func authenticate(ctx context.Context, client *api.Client, cfg config.Config) (api.Session, error) {
	username := cfg.Username
	password := cfg.Password
	interactive := username == "" || password == ""

	for {
		if username == "" {
			username = askText("Username")
		}
		if password == "" {
			raw, _ := pterm.DefaultInteractiveTextInput.WithMask("*").WithDefaultText("Password").Show()
			password = strings.TrimSpace(raw)
		}

		sess, err := client.Login(ctx, username, password)
		if err == nil {
			return sess, nil
		}
		if !interactive {
			return api.Session{}, err
		}

		util.LogWarning("%v", err)
		choice, _ := pterm.DefaultInteractiveSelect.
			WithOptions([]string{"Try again", "Register this account", "Quit"}).
			WithDefaultText("Login failed").
			Show()

		switch choice {
		case "Register this account":
			email := askText("Email")
			if _, err := client.Register(ctx, username, email, password); err != nil {
				util.LogWarning("%v", err)
				username, password = "", ""
				continue
			}
			util.LogInfo("account created, logging in")
		case "Quit":
			return api.Session{}, fmt.Errorf("aborted")
		default:
			username, password = "", ""
		}
	}
}

// ---------------------------------------------------------------------------
// Application loop
// ---------------------------------------------------------------------------

type app struct {
	cfg      config.Config
	client   *api.Client
	sess     api.Session
	notifier *notify.Notifier

	mu      sync.Mutex
	pending []notify.IncomingCall
}

// onIncomingCall queues the notice for the menu; prompts are blocking, so the
// handler never starts a call itself.
func (a *app) onIncomingCall(ic notify.IncomingCall) {
	a.mu.Lock()
	a.pending = append(a.pending, ic)
	a.mu.Unlock()
	pterm.Println()
	pterm.Info.Println(fmt.Sprintf("Incoming call from %s — choose 'Answer incoming call' in the menu", ic.From))
}

func (a *app) takePending() (notify.IncomingCall, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.pending) == 0 {
		return notify.IncomingCall{}, false
	}
	ic := a.pending[0]
	a.pending = a.pending[1:]
	return ic, true
}

func (a *app) run(ctx context.Context) {
	for ctx.Err() == nil {
		choice, _ := pterm.DefaultInteractiveSelect.
			WithOptions([]string{
				"List users",
				"Open chat",
				"Start video call",
				"Answer incoming call",
				"Quit",
			}).
			WithDefaultText("Main menu").
			Show()
		pterm.Println()

		switch choice {
		case "List users":
			a.listUsers(ctx)
		case "Open chat":
			a.openChat(ctx)
		case "Start video call":
			a.startCall(ctx)
		case "Answer incoming call":
			a.answerCall(ctx)
		case "Quit":
			return
		}
	}
}

func (a *app) listUsers(ctx context.Context) {
	users, err := a.client.Users(ctx)
	if err != nil {
		util.LogWarning("%v", err)
		return
	}
	rows := pterm.TableData{{"Username", "Email"}}
	for _, u := range users {
		if u.ID == a.sess.ID {
			continue
		}
		rows = append(rows, []string{u.Username, u.Email})
	}
	pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	pterm.Println()
}

// pickUser prompts for one user from the directory, excluding ourselves.
func (a *app) pickUser(ctx context.Context) (api.User, bool) {
	users, err := a.client.Users(ctx)
	if err != nil {
		util.LogWarning("%v", err)
		return api.User{}, false
	}

	options := make([]string, 0, len(users))
	byName := make(map[string]api.User, len(users))
	for _, u := range users {
		if u.ID == a.sess.ID {
			continue
		}
		options = append(options, u.Username)
		byName[u.Username] = u
	}
	if len(options) == 0 {
		util.LogWarning("no other users registered yet")
		return api.User{}, false
	}

	name, _ := pterm.DefaultInteractiveSelect.
		WithOptions(options).
		WithDefaultText("Select a user").
		Show()
	pterm.Println()
	return byName[name], true
}

// ---------------------------------------------------------------------------
// Chat
// ---------------------------------------------------------------------------

// chatRoomID derives the shared room for a user pair. Sorted so both sides
// land in the same room regardless of who opens it first.
func chatRoomID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("%s_%s", a, b)
}

func (a *app) openChat(ctx context.Context) {
	peer, ok := a.pickUser(ctx)
	if !ok {
		return
	}
	roomID := chatRoomID(a.sess.ID, peer.ID)

	history, err := a.client.Messages(ctx, roomID)
	if err != nil {
		util.LogWarning("%v", err)
	}
	for _, m := range history {
		pterm.Println(fmt.Sprintf("[%s] %s: %s", m.Timestamp.Format("15:04"), m.Sender.Username, m.Content))
	}

	ch, err := chat.Open(ctx, a.cfg.WSBase, roomID, a.client.Token(), func(msg chat.Incoming) {
		pterm.Println(fmt.Sprintf("%s: %s", msg.User, msg.Message))
	})
	if err != nil {
		util.LogWarning("%v", err)
		return
	}
	defer ch.Close()

	util.LogInfo("chatting with %s — empty message to leave", peer.Username)
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.WithDefaultText("›").Show()
		text := strings.TrimSpace(raw)
		if text == "" {
			return
		}
		ch.Send(text, a.sess.ID)
	}
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

func (a *app) startCall(ctx context.Context) {
	peer, ok := a.pickUser(ctx)
	if !ok {
		return
	}
	roomID := uuid.NewString()
	a.notifier.Notify(peer.ID, roomID)
	util.LogInfo("calling %s", peer.Username)
	a.runCall(ctx, roomID, call.RoleCaller)
}

func (a *app) answerCall(ctx context.Context) {
	ic, ok := a.takePending()
	if !ok {
		util.LogWarning("no pending incoming call")
		return
	}
	util.LogInfo("answering call from %s", ic.From)
	a.runCall(ctx, ic.RoomID, call.RoleCallee)
}

func (a *app) runCall(ctx context.Context, roomID string, role call.Role) {
	c, err := call.Start(ctx, call.Options{
		WSBase:   a.cfg.WSBase,
		RoomID:   roomID,
		Role:     role,
		UserID:   a.sess.ID,
		Username: a.sess.Username,
		OnState: func(st call.State) {
			util.LogInfo("call state: %s", st)
		},
	})
	if err != nil {
		util.LogError("call failed: %v", err)
		return
	}
	defer c.HangUp()

	for {
		choice, _ := pterm.DefaultInteractiveSelect.
			WithOptions([]string{"Toggle mute", "Toggle video", "Hang up"}).
			WithDefaultText("In call").
			Show()
		pterm.Println()

		switch choice {
		case "Toggle mute":
			if c.ToggleMute() {
				util.LogInfo("microphone muted")
			} else {
				util.LogInfo("microphone live")
			}
		case "Toggle video":
			if c.ToggleVideo() {
				util.LogInfo("camera off")
			} else {
				util.LogInfo("camera on")
			}
		case "Hang up":
			return
		}

		if st := c.State(); st == call.StateError {
			util.LogError("call ended: %s", c.ErrReason())
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// askText prompts until a non-empty value is entered.
func askText(prompt string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.WithDefaultText(prompt).Show()
		if v := strings.TrimSpace(raw); v != "" {
			return v
		}
		util.LogWarning("a value is required")
	}
}
