// Command wavelink-probe is an interactive terminal client for the
// OmniVibe messaging server. It keeps one realtime session open,
// prints every event it receives and sends whatever is typed on stdin
// to a chosen peer, with the HTTP API as delivery fallback.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/omnivibe/wavelink/pkg/apiclient"
	"github.com/omnivibe/wavelink/pkg/crypto"
	"github.com/omnivibe/wavelink/pkg/outbox"
	"github.com/omnivibe/wavelink/pkg/protocol"
	"github.com/omnivibe/wavelink/pkg/session"
	"github.com/omnivibe/wavelink/pkg/state"
)

// typingIdleWindow is how long after the last keystroke we tell the
// peer we stopped composing.
const typingIdleWindow = 2 * time.Second

func defaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "wavelink")
	}
	return ".wavelink"
}

func main() {
	configPath := flag.String("config", filepath.Join(defaultStateDir(), "config.toml"), "Config file path")
	serverAddr := flag.String("server", "", "Server address (overrides config)")
	userID := flag.String("user", "", "User ID to connect as")
	username := flag.String("username", "", "Display name (defaults to user ID)")
	peerID := flag.String("peer", "", "Peer user ID to chat with")
	plaintext := flag.Bool("plaintext", false, "Skip message encryption")
	notify := flag.Bool("notify", false, "Desktop notification on incoming messages")
	verbose := flag.Bool("verbose", false, "Log connection diagnostics to stderr")
	flag.Parse()

	if *userID == "" || *peerID == "" {
		fmt.Fprintln(os.Stderr, "usage: wavelink-probe -user <id> -peer <id> [-server host:port]")
		os.Exit(1)
	}
	if *username == "" {
		*username = *userID
	}

	fileCfg, err := session.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *serverAddr != "" {
		fileCfg.Server.URL = *serverAddr
	}

	var logger *log.Logger
	if *verbose {
		logger = log.New(os.Stderr, "[wavelink] ", log.LstdFlags)
	}

	st, err := state.Open(filepath.Join(defaultStateDir(), "state.db"))
	if err != nil {
		log.Fatalf("open state: %v", err)
	}
	defer st.Close()

	if st.GetFirstRun() {
		fmt.Printf("Welcome to wavelink. Config lives at %s, local state at %s.\n", *configPath, st.GetStateDir())
		if err := st.SetFirstRunComplete(); err != nil && logger != nil {
			logger.Printf("record first run: %v", err)
		}
	}

	cipher, err := crypto.NewCipher(fileCfg.Crypto.Secret)
	if err != nil {
		log.Fatalf("init cipher: %v", err)
	}
	cipher.SetLogger(logger)
	conversationID := protocol.ConversationID(*userID, *peerID)

	api, err := apiclient.New(fileCfg.Server.URL, "")
	if err != nil {
		log.Fatalf("init api client: %v", err)
	}
	api.SetLogger(logger)

	sessCfg := fileCfg.SessionConfig()
	sessCfg.Logger = logger
	if fileCfg.Metrics.ListenAddr != "" {
		reg := prometheus.NewRegistry()
		sessCfg.Metrics = session.NewMetrics(reg)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(fileCfg.Metrics.ListenAddr, mux); err != nil {
				log.Printf("metrics listener: %v", err)
			}
		}()
	}

	sess, err := session.New(sessCfg)
	if err != nil {
		log.Fatalf("create session: %v", err)
	}

	pending := outbox.New()
	pending.SetLogger(logger)

	decrypt := func(content string) string {
		if *plaintext {
			return content
		}
		return cipher.DecryptReceived(content, *userID, *peerID)
	}

	sess.On(session.EventConnectionState, func(ev protocol.Event) {
		cs := ev.(session.ConnectionStateEvent)
		switch cs.State {
		case session.StateConnected:
			fmt.Printf("* connected via %s\n", sess.TransportScheme())
			if err := st.SaveSuccessfulConnection(fileCfg.Server.URL, sess.TransportScheme()); err != nil {
				log.Printf("record connection: %v", err)
			}
		case session.StateReconnecting:
			fmt.Printf("* reconnecting (attempt %d): %v\n", cs.Attempt, cs.Err)
		case session.StateDisconnected:
			if cs.Err != nil {
				fmt.Printf("* disconnected: %v\n", cs.Err)
			} else {
				fmt.Println("* disconnected")
			}
		}
	})

	sess.On(protocol.EventReceiveMessage, func(ev protocol.Event) {
		msg := protocol.Message(ev.(protocol.ReceiveMessageEvent))
		if msg.ConversationID != conversationID {
			return
		}
		text := decrypt(msg.Content)
		fmt.Printf("<%s> %s\n", msg.SenderID, text)

		sess.MarkMessageRead(msg.ID)
		if err := st.UpdateReadState(conversationID, time.Now().UnixMilli()); err != nil {
			log.Printf("update read state: %v", err)
		}
		if *notify {
			if err := beeep.Notify("Wavelink", fmt.Sprintf("%s: %s", msg.SenderID, text), ""); err != nil && logger != nil {
				logger.Printf("notification failed: %v", err)
			}
		}
	})

	sess.On(protocol.EventMessageSent, func(ev protocol.Event) {
		saved := protocol.Message(ev.(protocol.MessageSentEvent))
		if p, ok := pending.Confirm(saved); ok {
			fmt.Printf("* delivered %s as %s\n", p.TempID, saved.ID)
		}
	})

	sess.On(protocol.EventMessageError, func(ev protocol.Event) {
		me := ev.(protocol.MessageErrorEvent)
		fmt.Printf("* send failed: %s\n", me.Error)
	})

	sess.On(protocol.EventUserTyping, func(ev protocol.Event) {
		typing := ev.(protocol.UserTypingEvent)
		if typing.SenderID != *peerID {
			return
		}
		if typing.IsTyping {
			fmt.Printf("* %s is typing...\n", typing.SenderID)
		}
	})

	sess.On(protocol.EventUserOnline, func(ev protocol.Event) {
		u := ev.(protocol.UserOnlineEvent)
		fmt.Printf("* %s came online\n", u.UserID)
	})
	sess.On(protocol.EventUserOffline, func(ev protocol.Event) {
		u := ev.(protocol.UserOfflineEvent)
		fmt.Printf("* %s went offline\n", u.UserID)
	})
	sess.On(protocol.EventError, func(ev protocol.Event) {
		fmt.Printf("* server error: %s\n", ev.(protocol.ErrorEvent).Message)
	})

	id := session.Identity{UserID: *userID, Username: *username}
	sess.Connect(id)
	if err := st.SetLastIdentity(id); err != nil {
		log.Printf("record identity: %v", err)
	}
	defer st.UpdateLastSeenTimestamp()

	// The typing indicator follows keystrokes: start on the first one,
	// stop after typingIdleWindow without another.
	var typingMu sync.Mutex
	var typingTimer *time.Timer
	typingActive := false
	touchTyping := func() {
		typingMu.Lock()
		defer typingMu.Unlock()
		if !typingActive {
			typingActive = true
			sess.StartTyping(*peerID, conversationID)
		}
		if typingTimer != nil {
			typingTimer.Stop()
		}
		typingTimer = time.AfterFunc(typingIdleWindow, func() {
			typingMu.Lock()
			typingActive = false
			typingMu.Unlock()
			sess.StopTyping(*peerID, conversationID)
		})
	}

	sendLine := func(text string) {
		content := text
		if !*plaintext {
			content = cipher.EncryptForSending(text, *userID, *peerID)
		}
		msg := protocol.Message{
			SenderID:        *userID,
			ReceiverID:      *peerID,
			Content:         content,
			ConversationID:  conversationID,
			ClientTimestamp: time.Now().UnixMilli(),
		}

		p, err := pending.Add(msg)
		if err != nil {
			log.Printf("queue message: %v", err)
			return
		}

		if sess.SendMessage(msg) {
			return
		}

		// Socket down: deliver over HTTP instead.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		saved, err := api.SendMessage(ctx, msg.SenderID, msg.ReceiverID, msg.Content)
		if err != nil {
			pending.Fail(p.TempID)
			fmt.Printf("* could not deliver message: %v\n", err)
			return
		}
		if _, ok := pending.Resolve(p.TempID, saved); ok {
			fmt.Printf("* delivered %s over http as %s\n", p.TempID, saved.ID)
		}
	}

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	fmt.Printf("chatting with %s (conversation %s), /quit to exit\n", *peerID, conversationID)
	for {
		select {
		case <-sigChan:
			fmt.Println("\n* shutting down")
			sess.Close()
			return
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "/quit" {
				sess.Close()
				return
			}
			switch {
			case strings.TrimSpace(line) == "":
				continue
			case strings.TrimSpace(line) == "/who":
				for _, u := range sess.OnlineUsers() {
					fmt.Printf("  %s (%s)\n", u.Username, u.UserID)
				}
			case strings.HasPrefix(line, "/status "):
				sess.UpdateStatus(strings.TrimPrefix(line, "/status "))
			default:
				touchTyping()
				sendLine(line)
			}
		}
	}
}
