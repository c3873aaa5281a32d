// Package bridge implements the front-end process that translates chat
// messages into state mutations: a single-threaded long-poll loop, a
// local classifier, and one background worker for chat replies.
package bridge

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/jaakkos/koanctl/internal/chatapi"
	"github.com/jaakkos/koanctl/internal/chathistory"
	"github.com/jaakkos/koanctl/internal/commands"
	"github.com/jaakkos/koanctl/internal/config"
	"github.com/jaakkos/koanctl/internal/missions"
	"github.com/jaakkos/koanctl/internal/outbox"
	"github.com/jaakkos/koanctl/internal/signalfile"
	"github.com/jaakkos/koanctl/internal/skills"
	"github.com/jaakkos/koanctl/internal/worker"
)

// liteFallbackTimeout is how long the main chat invocation gets before the
// bridge falls back to a reduced-context "lite" prompt.
const liteFallbackTimeout = 45 * time.Second

// Bridge owns the poller's state: the chat client, the classifier's
// downstream effects (missions, commands, chat history), and the single
// background chat worker slot.
type Bridge struct {
	Cfg         *config.Config
	Paths       signalfile.Paths
	Client      chatapi.Client
	Missions    *missions.Store
	Outbox      *outbox.Outbox
	History     *chathistory.History
	Cmds        *commands.Context
	SkillRunner skills.Registry

	Logger *log.Logger

	offset     int64
	chatBusy   atomic.Bool
	workerSt   *worker.SignalState
	instanceDir string
}

// New wires a Bridge from cfg, constructing the HTTP chat client and
// command context. instanceDir is where chat_history/worker scratch files
// live.
func New(cfg *config.Config, instanceDir string) *Bridge {
	client := chatapi.NewHTTPClient(cfg.Bridge.BaseURL, cfg.Bridge.Token, cfg.Bridge.ChatID, cfg.LongPoll(), cfg.RequestTimeout())
	paths := signalfile.NewPaths(cfg.Root)
	hist := chathistory.Open(instanceDir + "/telegram-history.jsonl")
	missionsStore := missions.NewStore(instanceDir + "/missions.md")

	return &Bridge{
		Cfg:      cfg,
		Paths:    paths,
		Client:   client,
		Missions: missionsStore,
		Outbox:   outbox.New(instanceDir + "/outbox.md"),
		History:  hist,
		Cmds: &commands.Context{
			Cfg:      cfg,
			Paths:    paths,
			Missions: missionsStore,
			History:  hist,
		},
		SkillRunner: cfg.Skills,
		Logger:      log.New(os.Stderr, "koan-bridge: ", log.LstdFlags),
		workerSt:    worker.NewSignalState(),
		instanceDir: instanceDir,
	}
}

func (b *Bridge) logf(format string, args ...any) {
	b.Logger.Printf(format, args...)
}

// Startup validates credentials, acquires the bridge PID file, compacts old
// chat history, refreshes the heartbeat, and prints credential fingerprints
// (never the full secret).
func (b *Bridge) Startup() (*signalfile.PIDLock, error) {
	if b.Cfg.Bridge.Token == "" || b.Cfg.Bridge.ChatID == "" {
		return nil, fmt.Errorf("bridge: missing chat token or chat id")
	}

	lock, err := signalfile.AcquirePIDFile(b.Cfg.Root, "awake")
	if err != nil {
		return nil, fmt.Errorf("bridge: startup: %w", err)
	}

	dropped, err := b.History.Compact()
	if err != nil {
		b.logf("compact chat history: %v", err)
	} else if dropped > 0 {
		b.logf("compacted %d old chat messages", dropped)
	}

	_ = os.Remove(b.Paths.Heartbeat)
	if err := signalfile.TouchHeartbeat(b.Paths.Heartbeat); err != nil {
		b.logf("write heartbeat: %v", err)
	}

	b.logf("token %s, chat id %s", chatapi.Fingerprint(b.Cfg.Bridge.Token), chatapi.Fingerprint(b.Cfg.Bridge.ChatID))
	return lock, nil
}

// Run is the main poll loop: request updates, classify and dispatch each
// one, flush the outbox, refresh the heartbeat, sleep. It returns when ctx
// is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		updates, err := b.Client.GetUpdates(ctx, b.offset)
		if err != nil {
			b.logf("get updates: %v", err)
		}
		for _, u := range updates {
			b.offset = u.ID + 1
			if u.ChatID != b.Cfg.Bridge.ChatID {
				continue
			}
			b.handleMessage(ctx, u.Text)
		}

		if sent, err := b.Outbox.Flush(b.send(ctx)); err != nil {
			b.logf("flush outbox: %v", err)
		} else if sent {
			b.logf("flushed outbox")
		}

		if err := signalfile.TouchHeartbeat(b.Paths.Heartbeat); err != nil {
			b.logf("heartbeat: %v", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(b.Cfg.PollInterval()):
		}
	}
}

func (b *Bridge) send(ctx context.Context) outbox.Sender {
	return func(content string) error {
		return b.Client.Send(ctx, content)
	}
}

// handleMessage classifies raw and dispatches it per the classifier's
// verdict: drop, run a command synchronously, enqueue a mission, or save +
// background-reply to chat.
func (b *Bridge) handleMessage(ctx context.Context, raw string) {
	c := Classify(raw)
	switch c.Kind {
	case KindDrop:
		return
	case KindCommand:
		reply, ok, err := commands.Dispatch(b.Cmds, c.Command, c.Args)
		if err != nil {
			b.logf("command /%s: %v", c.Command, err)
			_ = b.Outbox.Append(fmt.Sprintf("error running /%s: %v", c.Command, err))
			return
		}
		if !ok {
			b.handleSkillCommand(ctx, c.Command, c.Args)
			return
		}
		if c.Command == "chat" && reply == "" {
			b.spawnChatWorker(ctx, c.Args)
			return
		}
		if reply != "" {
			_ = b.Outbox.Append(reply)
		}
	case KindMission:
		urgent, cleaned := missions.ExtractNowFlag(c.Text)
		if err := b.Missions.InsertMission("- "+cleaned, urgent); err != nil {
			b.logf("insert mission: %v", err)
			_ = b.Outbox.Append(fmt.Sprintf("failed to queue mission: %v", err))
			return
		}
		_ = b.Outbox.Append("Mission queued.")
	case KindChat:
		if err := b.History.Save("user", c.Text); err != nil {
			b.logf("save chat history: %v", err)
		}
		b.spawnChatWorker(ctx, c.Text)
	}
}

// handleSkillCommand is the fallback for a command name not in commands.Table
// — notably /idea and /reflect, which are delegated to skill handlers that
// read or modify the Ideas section or the shared journal rather than being
// implemented as direct state mutations here.
func (b *Bridge) handleSkillCommand(ctx context.Context, name, args string) {
	text := "/" + name
	if args != "" {
		text += " " + args
	}
	stdout := b.instanceDir + "/skill-stdout.log"
	stderr := b.instanceDir + "/skill-stderr.log"

	matched, res, err := skills.Dispatch(ctx, b.workerSt, b.SkillRunner, text, b.instanceDir, stdout, stderr)
	if !matched {
		_ = b.Outbox.Append(fmt.Sprintf("unknown command: /%s", name))
		return
	}
	if err != nil {
		b.logf("skill /%s: %v", name, err)
		_ = b.Outbox.Append(fmt.Sprintf("error running /%s: %v", name, err))
		return
	}
	if res.ExitCode != 0 {
		_ = b.Outbox.Append(fmt.Sprintf("/%s exited %d", name, res.ExitCode))
		return
	}
	_ = b.Outbox.Append(fmt.Sprintf("/%s done.", name))
}

// spawnChatWorker runs the background chat invocation. If one is already in
// flight, the message is acknowledged and dropped rather than queued.
func (b *Bridge) spawnChatWorker(ctx context.Context, text string) {
	if !b.chatBusy.CompareAndSwap(false, true) {
		_ = b.Outbox.Append("Still working on the previous message, try again shortly.")
		return
	}
	go func() {
		defer b.chatBusy.Store(false)
		b.runChat(ctx, text)
	}()
}

func (b *Bridge) runChat(ctx context.Context, text string) {
	reply, err := b.invokeChatWorker(ctx, b.Cfg.Chat.Command, text, b.Cfg.ChatTimeout())
	if err != nil {
		b.logf("chat worker timed out or failed, retrying lite: %v", err)
		reply, err = b.invokeChatWorker(ctx, b.Cfg.Chat.LiteFallbackCommand, text, liteFallbackTimeout)
	}
	if err != nil {
		msg := fmt.Sprintf("Sorry, I couldn't process that: %v", err)
		_ = b.History.Save("assistant", msg)
		_ = b.Outbox.Append(msg)
		return
	}
	_ = b.History.Save("assistant", reply)
	_ = b.Outbox.Append(reply)
}

func (b *Bridge) invokeChatWorker(ctx context.Context, cmdTemplate []string, text string, timeout time.Duration) (string, error) {
	if len(cmdTemplate) == 0 {
		return "", fmt.Errorf("bridge: no chat command configured")
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	argv := append(append([]string{}, cmdTemplate...), text)
	stdout := b.instanceDir + "/chat-stdout.log"
	stderr := b.instanceDir + "/chat-stderr.log"
	res, err := worker.Run(runCtx, b.workerSt, argv, b.Cfg.Root, stdout, stderr)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("chat worker exited %d", res.ExitCode)
	}
	data, readErr := os.ReadFile(stdout)
	if readErr != nil {
		return "", fmt.Errorf("bridge: read chat output: %w", readErr)
	}
	return string(data), nil
}
