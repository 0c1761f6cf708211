package main

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name    string
	answers []string
	err     error
	calls   int
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Recognize(ctx context.Context, image []byte) (string, error) {
	p.calls++
	if p.err != nil {
		return "", p.err
	}
	if len(p.answers) == 0 {
		return "", nil
	}
	a := p.answers[0]
	if len(p.answers) > 1 {
		p.answers = p.answers[1:]
	}
	return a, nil
}

var testImage = ChallengeImage{Data: []byte{0x89, 'P', 'N', 'G'}, Source: SourceFetched}

func TestValidateCode(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"A1B2", true},
		{"abc12", true},
		{"ZZZZZZ", true},
		{"12", false},
		{"A1B2C3D", false},
		{"A1B2!", false},
		{"A1 B2", false},
		{"", false},
		{"１２３４", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidateCode(tt.text), "ValidateCode(%q)", tt.text)
	}
}

func TestResolverFallsThroughToSecondary(t *testing.T) {
	primary := &fakeProvider{name: "remote", answers: []string{"12"}}
	secondary := &fakeProvider{name: "gemini", answers: []string{"K7Q2"}}
	reg := prometheus.NewRegistry()
	r := NewResolver(primary, secondary, nil, NewMetrics(reg))

	code, attempts, err := r.Resolve(context.Background(), testImage, PrimaryFirst)
	require.NoError(t, err)
	assert.Equal(t, "K7Q2", code)
	require.Len(t, attempts, 2)
	assert.Equal(t, "remote", attempts[0].Provider)
	assert.False(t, attempts[0].Valid)
	assert.True(t, attempts[1].Valid)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.OCRResults.WithLabelValues("remote", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.OCRResults.WithLabelValues("gemini", "true")))
}

func TestResolverProviderErrorFallsThrough(t *testing.T) {
	primary := &fakeProvider{name: "remote", err: errors.New("HTTP error 502")}
	secondary := &fakeProvider{name: "gemini", answers: []string{"AB12"}}
	r := NewResolver(primary, secondary, nil, nil)

	code, attempts, err := r.Resolve(context.Background(), testImage, PrimaryFirst)
	require.NoError(t, err)
	assert.Equal(t, "AB12", code)
	require.Len(t, attempts, 2)
	assert.Error(t, attempts[0].Err)
}

func TestResolverOrderingSecondaryFirst(t *testing.T) {
	primary := &fakeProvider{name: "remote", answers: []string{"PRIM"}}
	secondary := &fakeProvider{name: "gemini", answers: []string{"SECD"}}
	r := NewResolver(primary, secondary, nil, nil)

	code, _, err := r.Resolve(context.Background(), testImage, SecondaryFirst)
	require.NoError(t, err)
	assert.Equal(t, "SECD", code)
	assert.Equal(t, 0, primary.calls)
}

func TestResolverAllProvidersFail(t *testing.T) {
	primary := &fakeProvider{name: "remote", answers: []string{"A1B2!"}}
	secondary := &fakeProvider{name: "gemini", err: errors.New("quota exceeded")}
	r := NewResolver(primary, secondary, nil, nil)

	_, attempts, err := r.Resolve(context.Background(), testImage, PrimaryFirst)
	require.Error(t, err)
	assert.Equal(t, KindChallengeUnresolved, KindOf(err))
	assert.Len(t, attempts, 2)
}

func TestResolverWithoutSecondary(t *testing.T) {
	primary := &fakeProvider{name: "remote", answers: []string{"XY34"}}
	r := NewResolver(primary, nil, nil, nil)
	assert.False(t, r.HasSecondary())

	// Secondary-first degrades to primary only.
	code, attempts, err := r.Resolve(context.Background(), testImage, SecondaryFirst)
	require.NoError(t, err)
	assert.Equal(t, "XY34", code)
	assert.Len(t, attempts, 1)
}

func TestResolverRejectsEmptyImage(t *testing.T) {
	primary := &fakeProvider{name: "remote", answers: []string{"XY34"}}
	r := NewResolver(primary, nil, nil, nil)

	_, _, err := r.Resolve(context.Background(), ChallengeImage{}, PrimaryFirst)
	assert.Equal(t, KindChallengeUnresolved, KindOf(err))
	assert.Equal(t, 0, primary.calls)
}

func TestResolverNoProviders(t *testing.T) {
	r := NewResolver(nil, nil, nil, nil)
	_, _, err := r.Resolve(context.Background(), testImage, PrimaryFirst)
	assert.Equal(t, KindChallengeUnresolved, KindOf(err))
}

func TestResolverStopsWhenCancelled(t *testing.T) {
	primary := &fakeProvider{name: "remote", answers: []string{"XY34"}}
	r := NewResolver(primary, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := r.Resolve(ctx, testImage, PrimaryFirst)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, primary.calls)
}

func TestAlternator(t *testing.T) {
	a := NewAlternator(PrimaryFirst, true)
	assert.Equal(t, PrimaryFirst, a.Next())
	assert.Equal(t, SecondaryFirst, a.Next())
	assert.Equal(t, PrimaryFirst, a.Next())

	fixed := NewAlternator(SecondaryFirst, false)
	assert.Equal(t, SecondaryFirst, fixed.Next())
	assert.Equal(t, SecondaryFirst, fixed.Next())
}

func TestOrderingString(t *testing.T) {
	assert.Equal(t, "primary_first", PrimaryFirst.String())
	assert.Equal(t, "secondary_first", SecondaryFirst.String())
	assert.Equal(t, PrimaryFirst, SecondaryFirst.Flip())
}
