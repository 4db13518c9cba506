package cookies

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"akash-router/internal/models"
)

// Source yields operator-supplied cookies.
type Source interface {
	Name() string
	Cookies(ctx context.Context) (models.CookieSet, error)
}

// StaticSource serves values fixed in configuration.
type StaticSource struct {
	set models.CookieSet
}

// NewStaticSource drops empty values from set.
func NewStaticSource(set models.CookieSet) *StaticSource {
	clean := models.CookieSet{}
	for k, v := range set {
		if v = strings.TrimSpace(v); v != "" {
			clean[k] = v
		}
	}
	return &StaticSource{set: clean}
}

func (s *StaticSource) Name() string { return "config" }

func (s *StaticSource) Cookies(context.Context) (models.CookieSet, error) {
	if !s.set.Complete() {
		return nil, errors.New("configured cookies are incomplete")
	}
	return s.set.Clone(), nil
}

// PromptSource asks an operator on a terminal. One reader goroutine owns in
// for the lifetime of the source, so an abandoned prompt never swallows the
// answers meant for the next one.
type PromptSource struct {
	in  io.Reader
	out io.Writer
	url string

	turn     chan struct{}
	readOnce sync.Once
	lines    chan string
	readErr  error // written before lines is closed
}

// NewPromptSource reads answers from in and writes instructions to out.
func NewPromptSource(in io.Reader, out io.Writer, landingURL string) *PromptSource {
	return &PromptSource{
		in:    in,
		out:   out,
		url:   landingURL,
		turn:  make(chan struct{}, 1),
		lines: make(chan string),
	}
}

func (p *PromptSource) Name() string { return "prompt" }

// Cookies blocks until the operator answered every question or ctx ends.
func (p *PromptSource) Cookies(ctx context.Context) (models.CookieSet, error) {
	select {
	case p.turn <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-p.turn }()

	p.readOnce.Do(func() { go p.readLines() })
	return p.ask(ctx)
}

func (p *PromptSource) readLines() {
	defer close(p.lines)

	scanner := bufio.NewScanner(p.in)
	for scanner.Scan() {
		p.lines <- scanner.Text()
	}
	p.readErr = scanner.Err()
}

func (p *PromptSource) ask(ctx context.Context) (models.CookieSet, error) {
	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, "===== Manual cookie entry =====")
	fmt.Fprintf(p.out, "Open %s in a browser, pass the challenge, then copy these cookies\n", p.url)
	fmt.Fprintln(p.out, "from the developer tools (Application > Cookies).")
	fmt.Fprintln(p.out)

	questions := []struct {
		name     string
		optional bool
	}{
		{models.CookieClearance, false},
		{models.CookieSession, false},
		{models.CookieAnalytics, true},
		{models.CookieAnalyticsTag, true},
	}

	set := models.CookieSet{}
ask:
	for _, q := range questions {
		label := q.name
		if q.optional {
			label += " (optional)"
		}
		fmt.Fprintf(p.out, "%s: ", label)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case line, ok := <-p.lines:
			if !ok {
				if p.readErr != nil {
					return nil, fmt.Errorf("read %s: %w", q.name, p.readErr)
				}
				break ask
			}
			if v := strings.TrimSpace(line); v != "" {
				set[q.name] = v
			}
		}
	}

	if !set.Complete() {
		return nil, errors.New("required cookies were not provided")
	}
	return set, nil
}
