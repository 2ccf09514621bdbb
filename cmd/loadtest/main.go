// Command loadtest drives an OmniVibe messaging server with many
// concurrent realtime sessions exchanging encrypted direct messages,
// and reports throughput, delivery confirmations and connection
// failures.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/omnivibe/wavelink/pkg/crypto"
	"github.com/omnivibe/wavelink/pkg/protocol"
	"github.com/omnivibe/wavelink/pkg/session"
)

const loremIpsum = "Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat. Duis aute irure dolor in reprehenderit in voluptate velit esse cillum dolore eu fugiat nulla pariatur. Excepteur sint occaecat cupidatat non proident, sunt in culpa qui officia deserunt mollit anim id est laborum."

var loremWords = strings.Fields(loremIpsum)

func randomContent() string {
	n := 3 + rand.Intn(12)
	words := make([]string, n)
	for i := range words {
		words[i] = loremWords[rand.Intn(len(loremWords))]
	}
	return strings.Join(words, " ")
}

// getCPULoad returns the 1-minute load average
func getCPULoad() float64 {
	// Read /proc/loadavg on Linux
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0
	}

	var load1, load5, load15 float64
	fmt.Sscanf(string(data), "%f %f %f", &load1, &load5, &load15)
	return load1
}

// Stats tracks performance metrics
type Stats struct {
	messagesSent      atomic.Int64
	messagesConfirmed atomic.Int64
	messagesReceived  atomic.Int64
	messagesDropped   atomic.Int64
	decryptFailures   atomic.Int64
	connectionErrors  atomic.Int64
	reconnects        atomic.Int64
	connectedBots     atomic.Int64
}

func (s *Stats) snapshot() (sent, confirmed, received, dropped int64) {
	return s.messagesSent.Load(), s.messagesConfirmed.Load(),
		s.messagesReceived.Load(), s.messagesDropped.Load()
}

// Bot is one synthetic user holding a session and messaging a fixed
// partner. Bots are created in pairs so everything sent has a reader.
type Bot struct {
	id     int
	userID string
	peerID string
	sess   *session.Session
	cipher *crypto.Cipher
	stats  *Stats

	connected chan struct{}
	once      sync.Once
}

func newBot(id, partner int, serverAddr, runID string, secret string, metrics *session.Metrics, stats *Stats) (*Bot, error) {
	userID := fmt.Sprintf("load-%s-%d", runID, id)
	peerID := fmt.Sprintf("load-%s-%d", runID, partner)

	cipher, err := crypto.NewCipher(secret)
	if err != nil {
		return nil, err
	}

	sess, err := session.New(session.Config{
		ServerURL:         serverAddr,
		ReconnectAttempts: 3,
		ReconnectDelay:    time.Second,
		Metrics:           metrics,
	})
	if err != nil {
		return nil, err
	}

	b := &Bot{
		id:        id,
		userID:    userID,
		peerID:    peerID,
		sess:      sess,
		cipher:    cipher,
		stats:     stats,
		connected: make(chan struct{}),
	}

	sess.On(session.EventConnectionState, func(ev protocol.Event) {
		cs := ev.(session.ConnectionStateEvent)
		switch cs.State {
		case session.StateConnected:
			b.once.Do(func() { close(b.connected) })
		case session.StateReconnecting:
			stats.reconnects.Add(1)
		}
	})
	sess.On(protocol.EventReceiveMessage, func(ev protocol.Event) {
		msg := ev.(protocol.ReceiveMessageEvent)
		stats.messagesReceived.Add(1)
		if b.cipher.DecryptReceived(msg.Content, msg.SenderID, msg.ReceiverID) == msg.Content {
			// Fail-open passthrough means the ciphertext did not decrypt.
			stats.decryptFailures.Add(1)
		}
	})
	sess.On(protocol.EventMessageSent, func(ev protocol.Event) {
		stats.messagesConfirmed.Add(1)
	})

	return b, nil
}

// Run connects, waits for the handshake and then posts messages at
// random intervals until the duration elapses or stop closes.
func (b *Bot) Run(duration, minDelay, maxDelay time.Duration, stop <-chan struct{}) {
	defer b.sess.Close()

	b.sess.Connect(session.Identity{UserID: b.userID, Username: b.userID})

	select {
	case <-b.connected:
	case <-time.After(30 * time.Second):
		b.stats.connectionErrors.Add(1)
		return
	case <-stop:
		return
	}
	b.stats.connectedBots.Add(1)

	deadline := time.After(duration)
	for {
		delay := minDelay + time.Duration(rand.Int63n(int64(maxDelay-minDelay)+1))
		select {
		case <-stop:
			return
		case <-deadline:
			return
		case <-time.After(delay):
		}

		content := b.cipher.EncryptForSending(randomContent(), b.userID, b.peerID)
		ok := b.sess.SendMessage(protocol.Message{
			SenderID:        b.userID,
			ReceiverID:      b.peerID,
			Content:         content,
			ConversationID:  protocol.ConversationID(b.userID, b.peerID),
			ClientTimestamp: time.Now().UnixMilli(),
		})
		if ok {
			b.stats.messagesSent.Add(1)
		} else {
			b.stats.messagesDropped.Add(1)
		}
	}
}

func initLogging() error {
	// Truncate on each run to avoid confusion
	logFile, err := os.OpenFile("loadtest.log", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return fmt.Errorf("failed to create loadtest.log: %w", err)
	}

	log.SetOutput(io.MultiWriter(os.Stdout, logFile))
	log.SetFlags(log.LstdFlags)
	return nil
}

func main() {
	serverAddr := flag.String("server", "localhost:5000", "Server address (host:port)")
	numClients := flag.Int("clients", 10, "Number of concurrent clients (rounded up to even)")
	duration := flag.Duration("duration", 1*time.Minute, "Test duration")
	minDelay := flag.Duration("min-delay", 100*time.Millisecond, "Minimum delay between messages")
	maxDelay := flag.Duration("max-delay", 1*time.Second, "Maximum delay between messages")
	secret := flag.String("secret", "omnivibe-secret-key-2024", "Conversation key secret")
	metricsAddr := flag.String("metrics-addr", "", "Expose /metrics on this address")
	flag.Parse()

	if err := initLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}

	// Bots message in pairs, so the count must be even.
	if *numClients%2 != 0 {
		*numClients++
	}

	var metrics *session.Metrics
	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		metrics = session.NewMetrics(reg)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Printf("metrics listener: %v", err)
			}
		}()
	}

	// Ramp up over 25% of test duration
	rampUpDuration := *duration / 4
	staggerDelay := rampUpDuration / time.Duration(*numClients)
	if staggerDelay < 1*time.Millisecond {
		staggerDelay = 1 * time.Millisecond
	}

	runID := fmt.Sprintf("%06x", rand.Int31n(1<<24))

	log.Printf("Starting load test:")
	log.Printf("  Server: %s", *serverAddr)
	log.Printf("  Clients: %d (%d conversations)", *numClients, *numClients/2)
	log.Printf("  Duration: %v", *duration)
	log.Printf("  Ramp-up: %v (%v per client)", rampUpDuration, staggerDelay)
	log.Printf("  Delay: %v - %v", *minDelay, *maxDelay)
	log.Printf("")

	stats := &Stats{}
	var wg sync.WaitGroup
	stop := make(chan struct{})

	// Stats reporter
	stopStats := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		startTime := time.Now()
		for {
			select {
			case <-ticker.C:
				sent, confirmed, received, dropped := stats.snapshot()
				elapsed := time.Since(startTime).Seconds()
				rate := float64(sent) / elapsed

				log.Printf("Stats: %d sent (%.1f/s), %d confirmed, %d received, %d dropped, %d reconnects, %d bots up, load %.2f, goroutines %d",
					sent, rate, confirmed, received, dropped,
					stats.reconnects.Load(), stats.connectedBots.Load(),
					getCPULoad(), runtime.NumGoroutine())
			case <-stopStats:
				return
			}
		}
	}()

	// Spawn bots; partner pairing is (0,1), (2,3), ...
	for i := 0; i < *numClients; i++ {
		partner := i + 1
		if i%2 == 1 {
			partner = i - 1
		}

		wg.Add(1)
		go func(id, partner int) {
			defer wg.Done()

			bot, err := newBot(id, partner, *serverAddr, runID, *secret, metrics, stats)
			if err != nil {
				stats.connectionErrors.Add(1)
				return
			}
			bot.Run(*duration, *minDelay, *maxDelay, stop)
		}(i, partner)

		time.Sleep(staggerDelay)
	}

	// Graceful shutdown on signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Printf("Shutdown signal received, stopping test...")
		close(stop)
	}()

	wg.Wait()
	close(stopStats)

	// Final stats
	sent, confirmed, received, dropped := stats.snapshot()
	connected := stats.connectedBots.Load()
	rate := float64(sent) / duration.Seconds()

	log.Printf("")
	log.Printf("=== Final Results ===")
	log.Printf("Clients: %d attempted, %d connected (%.1f%%)",
		*numClients, connected, float64(connected)/float64(*numClients)*100)
	log.Printf("Messages sent: %d (%.1f/s)", sent, rate)
	log.Printf("Messages confirmed: %d", confirmed)
	log.Printf("Messages received: %d", received)
	log.Printf("Messages dropped (session down): %d", dropped)
	log.Printf("Decrypt failures: %d", stats.decryptFailures.Load())
	log.Printf("Connection errors: %d", stats.connectionErrors.Load())
	log.Printf("Reconnect attempts: %d", stats.reconnects.Load())

	if sent > 0 {
		log.Printf("Confirmation rate: %.1f%%", float64(confirmed)/float64(sent)*100)
	}
}
