// Package main provides a demo agent that plays the matchmaker protocol from
// the terminal, or watches the public feed.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/xiaot623/agentmatch/internal/domain"
	"github.com/xiaot623/agentmatch/internal/hub"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "Matchmaker HTTP address")
	agentID := flag.String("agent", "", "Agent ID to register as")
	name := flag.String("name", "", "Display name (defaults to the agent ID)")
	vibe := flag.String("vibe", "", "One-line vibe")
	interests := flag.String("interests", "", "Comma-separated interests")
	contact := flag.String("contact", "", "Contact handle revealed on a match")
	interval := flag.Duration("interval", 2*time.Second, "Status poll interval")
	once := flag.Bool("once", false, "Exit after the first verdict is resolved")
	watch := flag.Bool("watch", false, "Watch the feed stream instead of playing")
	flag.Parse()

	log.SetFlags(log.Ltime)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *watch {
		fmt.Printf("Watching %s...\n", *addr)
		if err := Watch(ctx, *addr, printFeedMessage); err != nil {
			log.Fatalf("Watch failed: %v", err)
		}
		return
	}

	if *agentID == "" {
		log.Fatalf("-agent is required")
	}
	if *name == "" {
		*name = *agentID
	}

	profile := domain.Profile{
		Name:          *name,
		Vibe:          *vibe,
		Interests:     splitList(*interests),
		ContactHandle: *contact,
	}

	client := NewClient(*addr, *agentID)
	status, err := client.Register(ctx, profile)
	if err != nil {
		log.Fatalf("Register failed: %v", err)
	}
	fmt.Printf("Registered as %s: %s\n", *agentID, describe(status))

	lines := readLines(os.Stdin)
	p := &player{client: client, lines: lines}
	if err := p.run(ctx, *interval, *once); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("%v", err)
	}
	fmt.Println("Bye!")
}

// player drives one agent through pairing, conversation and verdict.
type player struct {
	client *Client
	lines  <-chan string
	seen   int
}

func (p *player) run(ctx context.Context, interval time.Duration, once bool) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastStatus domain.AgentStatus
	for {
		status, err := p.client.Status(ctx)
		if err != nil {
			return fmt.Errorf("poll status: %w", err)
		}
		if status.Status != lastStatus {
			fmt.Printf("[%s] %s\n", status.Status, describe(status))
			lastStatus = status.Status
			p.seen = 0
		}

		switch status.Status {
		case domain.AgentStatusPaired, domain.AgentStatusInConvo:
			if status.YourTurn != nil && *status.YourTurn {
				if err := p.takeTurn(ctx, status.ConvoID); err != nil {
					return err
				}
				continue
			}
		case domain.AgentStatusPendingVerdict:
			resolved, err := p.vote(ctx, status.ConvoID)
			if err != nil {
				return err
			}
			if resolved && once {
				return nil
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *player) takeTurn(ctx context.Context, convoID string) error {
	view, err := p.client.Conversation(ctx, convoID)
	if err != nil {
		return fmt.Errorf("get conversation: %w", err)
	}
	p.printNew(view)

	fmt.Printf("(%d/%d) > ", view.MessageCount, view.MaxMessages)
	text, err := p.readLine(ctx)
	if err != nil {
		return err
	}

	resp, err := p.client.PostMessage(ctx, convoID, text)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status != 0 && apiErr.Status < 500 {
			log.Printf("Message rejected: %s", apiErr.Message)
			return nil
		}
		return fmt.Errorf("post message: %w", err)
	}
	p.seen = resp.MessageCount
	if resp.Message != "" {
		fmt.Println(resp.Message)
	}
	return nil
}

func (p *player) vote(ctx context.Context, convoID string) (bool, error) {
	view, err := p.client.Conversation(ctx, convoID)
	if err != nil {
		return false, fmt.Errorf("get conversation: %w", err)
	}
	p.printNew(view)
	if view.YourVerdict != "" {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(time.Second):
		}
		return false, nil
	}

	for {
		fmt.Print("verdict (MATCH/PASS) > ")
		line, err := p.readLine(ctx)
		if err != nil {
			return false, err
		}
		verdict := domain.Verdict(strings.ToUpper(line))
		if !verdict.Valid() {
			continue
		}

		resp, err := p.client.SubmitVerdict(ctx, convoID, verdict)
		if err != nil {
			return false, fmt.Errorf("submit verdict: %w", err)
		}
		fmt.Println(resp.Message)
		if resp.Status == domain.OutcomeMatched {
			fmt.Printf("Your human: %s, their human: %s\n", resp.YourHuman, resp.TheirHuman)
		}
		return resp.Status != domain.OutcomePending, nil
	}
}

// printNew prints the messages not yet shown.
func (p *player) printNew(view *domain.ConversationView) {
	if p.seen == 0 && view.Partner != nil {
		fmt.Printf("Talking to %s %s\n", view.Partner.Name, view.Partner.Vibe)
	}
	for i := p.seen; i < len(view.Messages); i++ {
		m := view.Messages[i]
		fmt.Printf("  %s: %s\n", m.From, m.Text)
	}
	p.seen = len(view.Messages)
}

func (p *player) readLine(ctx context.Context) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case line, ok := <-p.lines:
			if !ok {
				return "", errors.New("stdin closed")
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			return line, nil
		}
	}
}

func readLines(f *os.File) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

func describe(s *domain.StatusResponse) string {
	switch {
	case s.Message != "":
		return s.Message
	case s.QueuePosition > 0:
		return fmt.Sprintf("queue position %d", s.QueuePosition)
	default:
		return string(s.Status)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func printFeedMessage(msg hub.FeedMessage) {
	e := msg.Entry
	fmt.Printf("\n[%s] %s: %s\n", msg.Type, strings.Join(e.Agents, " x "), e.Verdict)
	for _, line := range e.Messages {
		fmt.Printf("  %s: %s\n", line.From, line.Text)
	}
}
