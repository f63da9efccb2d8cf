package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"kiwoom-core/pkg/exchanges/common"
)

// Confirmer asks the operator to type the live-trading phrase.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (string, error)
}

// ReaderConfirmer prompts on Out and reads one line from In.
type ReaderConfirmer struct {
	In  io.Reader
	Out io.Writer
}

func (c ReaderConfirmer) Confirm(ctx context.Context, prompt string) (string, error) {
	if c.Out != nil {
		fmt.Fprintln(c.Out, prompt)
	}
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := bufio.NewReader(c.In).ReadString('\n')
		if err == io.EOF && line != "" {
			err = nil
		}
		ch <- result{line, err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		return strings.TrimSpace(r.line), r.err
	}
}

// NormalizeWatchlist keeps six ASCII-digit codes in first-seen order.
// An "A" prefix is stripped.
func NormalizeWatchlist(codes []string) []string {
	seen := make(map[string]bool, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(c)), "A")
		if len(c) != 6 || strings.IndexFunc(c, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
			continue
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// confirmLive runs the live guard. A missing confirmer fails closed.
func (s *Session) confirmLive(ctx context.Context) error {
	cfg := s.st.Cfg
	if !s.st.Live || !cfg.LiveGuardEnabled {
		return nil
	}
	if s.confirmer == nil {
		return common.ErrLiveGuardRejected
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.LiveGuardTimeout)
	defer cancel()
	prompt := fmt.Sprintf(s.msg().LiveGuardPrompt, int(cfg.LiveGuardTimeout.Seconds()), cfg.LiveGuardPhrase)
	got, err := s.confirmer.Confirm(ctx, prompt)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrLiveGuardRejected, err)
	}
	if got != cfg.LiveGuardPhrase {
		return common.ErrLiveGuardRejected
	}
	return nil
}
