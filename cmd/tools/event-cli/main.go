package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	nats "github.com/nats-io/nats.go"

	"github.com/annel0/tilesync/internal/eventbus"
	"github.com/annel0/tilesync/internal/world"
)

const (
	defaultNATSURL = nats.DefaultURL
	timeFormat     = "2006-01-02T15:04:05Z"
)

func main() {
	var (
		natsURL    = flag.String("nats", defaultNATSURL, "NATS server URL")
		command    = flag.String("cmd", "tail", "Command: tail, stats, types")
		prefix     = flag.String("prefix", "tilesync.events", "Subject prefix")
		stream     = flag.String("stream", "", "JetStream stream (required for stats and -since)")
		eventTypes = flag.String("types", "", "Event types filter (comma-separated)")
		sessions   = flag.String("sessions", "", "Session IDs filter (comma-separated)")
		since      = flag.String("since", "", "Replay from stream since duration or time (e.g. 1h, 30m)")
		limit      = flag.Int("limit", 100, "Maximum number of events")
		follow     = flag.Bool("follow", false, "Follow new events (like tail -f)")
	)
	flag.Parse()

	if *command == "types" {
		showTypes()
		return
	}

	nc, err := nats.Connect(*natsURL, nats.Name("tilesync-event-cli"))
	if err != nil {
		log.Fatalf("❌ Failed to connect to NATS: %v", err)
	}
	defer nc.Close()

	flt := newFilter(parseStringList(*eventTypes), parseStringList(*sessions))

	switch *command {
	case "tail":
		if err := tailEvents(nc, &TailOptions{
			Prefix: *prefix,
			Stream: *stream,
			Since:  *since,
			Limit:  *limit,
			Follow: *follow,
			Filter: flt,
		}); err != nil {
			log.Fatalf("❌ Tail failed: %v", err)
		}

	case "stats":
		if err := showStats(nc, &StatsOptions{
			Prefix: *prefix,
			Stream: *stream,
			Since:  *since,
			Filter: flt,
		}); err != nil {
			log.Fatalf("❌ Stats failed: %v", err)
		}

	default:
		fmt.Printf("❌ Unknown command: %s\n", *command)
		fmt.Println("Available commands: tail, stats, types")
		os.Exit(1)
	}
}

type TailOptions struct {
	Prefix string
	Stream string
	Since  string
	Limit  int
	Follow bool
	Filter filter
}

type StatsOptions struct {
	Prefix string
	Stream string
	Since  string
	Filter filter
}

// filter отбор конвертов по типу события и сессии
type filter struct {
	types    []string
	sessions []string
}

func newFilter(types, sessions []string) filter {
	return filter{types: types, sessions: sessions}
}

func (f filter) match(env *eventbus.Envelope) bool {
	if len(f.types) > 0 && !slices.Contains(f.types, env.EventType) {
		return false
	}
	if len(f.sessions) > 0 && !slices.Contains(f.sessions, env.SessionID) {
		return false
	}
	return true
}

// subscribe открывает синхронную подписку: из стрима с заданного момента
// или обычную core-подписку на живой поток.
func subscribe(nc *nats.Conn, prefix, stream, since string) (*nats.Subscription, error) {
	subject := eventbus.SubjectWildcard(prefix)
	if since == "" {
		return nc.SubscribeSync(subject)
	}
	if stream == "" {
		return nil, errors.New("-since requires -stream")
	}
	start, err := parseSinceTime(since, time.Now())
	if err != nil {
		return nil, fmt.Errorf("invalid since time: %v", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	return js.SubscribeSync(subject, nats.BindStream(stream), nats.OrderedConsumer(), nats.StartTime(start))
}

// tailEvents выводит события по мере поступления
func tailEvents(nc *nats.Conn, opts *TailOptions) error {
	fmt.Printf("🎬 Tailing events (limit: %d, follow: %v)\n", opts.Limit, opts.Follow)

	sub, err := subscribe(nc, opts.Prefix, opts.Stream, opts.Since)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	eventCount := 0
	for opts.Follow || eventCount < opts.Limit {
		select {
		case <-sigCh:
			fmt.Printf("\n📊 Total events: %d\n", eventCount)
			return nil
		default:
		}

		msg, err := sub.NextMsg(time.Second)
		if errors.Is(err, nats.ErrTimeout) {
			continue
		}
		if err != nil {
			return fmt.Errorf("subscription error: %v", err)
		}

		var env eventbus.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			fmt.Printf("⚠️  bad envelope on %s: %v\n", msg.Subject, err)
			continue
		}
		if !opts.Filter.match(&env) {
			continue
		}
		printEvent(&env)
		eventCount++
	}

	fmt.Printf("\n📊 Total events: %d\n", eventCount)
	return nil
}

// showStats считает события стрима по типам с момента -since
func showStats(nc *nats.Conn, opts *StatsOptions) error {
	fmt.Println("📊 Event statistics")

	if opts.Stream == "" {
		return errors.New("stats requires -stream")
	}
	if opts.Since == "" {
		opts.Since = "1h"
	}

	sub, err := subscribe(nc, opts.Prefix, opts.Stream, opts.Since)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	counts := make(map[string]int)
	sessions := make(map[string]struct{})
	total := 0
	for {
		msg, err := sub.NextMsg(500 * time.Millisecond)
		if errors.Is(err, nats.ErrTimeout) {
			break // стрим дочитан
		}
		if err != nil {
			return fmt.Errorf("subscription error: %v", err)
		}
		var env eventbus.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil || !opts.Filter.match(&env) {
			continue
		}
		counts[env.EventType]++
		sessions[env.SessionID] = struct{}{}
		total++
	}

	fmt.Printf("Since: %s\n", opts.Since)
	fmt.Printf("Total events: %d\n", total)
	fmt.Printf("Sessions: %d\n", len(sessions))
	fmt.Println("\nBy event type:")
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Printf("  %s: %d events\n", k, counts[k])
	}
	return nil
}

// showTypes выводит известные типы событий
func showTypes() {
	fmt.Println("📋 Available event types")
	for t := world.EventMapChanged; t <= world.EventDisconnected; t++ {
		marker := ""
		if t.ChangesMap() {
			marker = " (changes map)"
		}
		fmt.Printf("  %s%s\n", t, marker)
	}
}

// printEvent выводит событие в читаемом формате
func printEvent(env *eventbus.Envelope) {
	fmt.Printf("[%s] %s [%s] %s\n",
		env.Timestamp.Local().Format("15:04:05"),
		env.SessionID,
		env.EventType,
		env.ID)
	if len(env.Payload) > 0 && string(env.Payload) != "{}" {
		fmt.Printf("  %s\n", env.Payload)
	}
}

// parseStringList парсит строку с разделителями-запятыми
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// parseSinceTime парсит относительное время типа "1h", "30m"
func parseSinceTime(since string, from time.Time) (time.Time, error) {
	if since == "" {
		return from, nil
	}

	duration, err := time.ParseDuration(since)
	if err != nil {
		// Пробуем парсить как абсолютное время
		return time.Parse(timeFormat, since)
	}

	return from.Add(-duration), nil
}
