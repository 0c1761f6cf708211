package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// ImageSource tells how the challenge bytes were obtained.
type ImageSource int

const (
	SourceScreenshot ImageSource = iota
	SourceFetched
)

func (s ImageSource) String() string {
	if s == SourceFetched {
		return "fetched"
	}
	return "screenshot"
}

// ChallengeImage is one rendering of the security code image.
type ChallengeImage struct {
	Data   []byte
	Source ImageSource
}

// OCRAttempt records what one provider returned for one image.
type OCRAttempt struct {
	Provider string
	Text     string
	Valid    bool
	Err      error
}

// Provider recognizes the characters in a challenge image.
type Provider interface {
	Name() string
	Recognize(ctx context.Context, image []byte) (string, error)
}

// ValidateCode reports whether text looks like a security code: 4 to 6 ASCII
// letters or digits.
func ValidateCode(text string) bool {
	if len(text) < 4 || len(text) > 6 {
		return false
	}
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		default:
			return false
		}
	}
	return true
}

// Ordering selects which provider is asked first.
type Ordering int

const (
	PrimaryFirst Ordering = iota
	SecondaryFirst
)

func (o Ordering) String() string {
	if o == SecondaryFirst {
		return "secondary_first"
	}
	return "primary_first"
}

func (o Ordering) Flip() Ordering {
	if o == SecondaryFirst {
		return PrimaryFirst
	}
	return SecondaryFirst
}

// Alternator hands out an ordering per call, flipping each time when enabled.
// Create one per page load.
type Alternator struct {
	mu      sync.Mutex
	next    Ordering
	enabled bool
}

func NewAlternator(start Ordering, enabled bool) *Alternator {
	return &Alternator{next: start, enabled: enabled}
}

func (a *Alternator) Next() Ordering {
	a.mu.Lock()
	defer a.mu.Unlock()

	o := a.next
	if a.enabled {
		a.next = a.next.Flip()
	}
	return o
}

// Resolver turns challenge images into validated codes using up to two providers.
type Resolver struct {
	primary   Provider
	secondary Provider
	logger    *slog.Logger
	metrics   *Metrics
}

// NewResolver builds a resolver. secondary may be nil, in which case every
// ordering degrades to primary only.
func NewResolver(primary, secondary Provider, logger *slog.Logger, metrics *Metrics) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{primary: primary, secondary: secondary, logger: logger, metrics: metrics}
}

// HasSecondary reports whether a second provider is configured.
func (r *Resolver) HasSecondary() bool {
	return r.secondary != nil
}

func (r *Resolver) providers(order Ordering) []Provider {
	var out []Provider
	first, second := r.primary, r.secondary
	if order == SecondaryFirst {
		first, second = second, first
	}
	for _, p := range []Provider{first, second} {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

// Resolve asks the providers in order and returns the first valid code along with
// every attempt made. A provider error or invalid text falls through to the next
// provider. Only when all of them fail does Resolve return ChallengeUnresolved.
func (r *Resolver) Resolve(ctx context.Context, img ChallengeImage, order Ordering) (string, []OCRAttempt, error) {
	providers := r.providers(order)
	if len(providers) == 0 {
		return "", nil, newError(KindChallengeUnresolved, "resolve challenge", fmt.Errorf("no OCR provider configured"))
	}
	if len(img.Data) == 0 {
		return "", nil, newError(KindChallengeUnresolved, "resolve challenge", fmt.Errorf("empty challenge image"))
	}

	attempts := make([]OCRAttempt, 0, len(providers))
	for _, p := range providers {
		if err := ctx.Err(); err != nil {
			return "", attempts, err
		}

		text, err := p.Recognize(ctx, img.Data)
		attempt := OCRAttempt{Provider: p.Name(), Text: text, Err: err}
		attempt.Valid = err == nil && ValidateCode(text)
		attempts = append(attempts, attempt)
		r.metrics.observeOCR(p.Name(), attempt.Valid)

		if attempt.Valid {
			r.logger.Info("security code recognized", "provider", p.Name(), "code", text)
			return text, attempts, nil
		}
		if err != nil {
			r.logger.Warn("OCR provider failed", "provider", p.Name(), "err", err)
		} else {
			r.logger.Debug("OCR result rejected", "provider", p.Name(), "text", text)
		}
	}

	return "", attempts, newError(KindChallengeUnresolved, "resolve challenge", fmt.Errorf("all %d OCR providers failed", len(providers)))
}
