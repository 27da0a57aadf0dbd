// Package geo acquires the viewer's position with a bounded wait and reuses
// a recent fix instead of asking again.
package geo

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/clementus360/proxy-chat-client/models"
)

var ErrUnavailable = errors.New("position unavailable")

// Source produces a fresh position. It should honour ctx.
type Source interface {
	Position(ctx context.Context) (models.Coordinate, error)
}

type SourceFunc func(ctx context.Context) (models.Coordinate, error)

func (f SourceFunc) Position(ctx context.Context) (models.Coordinate, error) { return f(ctx) }

// StaticSource always reports the same place.
func StaticSource(pos models.Coordinate) Source {
	return SourceFunc(func(ctx context.Context) (models.Coordinate, error) { return pos, nil })
}

type Locator struct {
	source  Source
	timeout time.Duration
	maxAge  time.Duration
	now     func() time.Time

	mu    sync.Mutex
	last  *models.Coordinate
	taken time.Time
}

// NewLocator wraps source. A nil source makes every lookup fail with
// ErrUnavailable.
func NewLocator(source Source, timeout, maxAge time.Duration) *Locator {
	return &Locator{source: source, timeout: timeout, maxAge: maxAge, now: time.Now}
}

// Position returns the cached fix if it is younger than maxAge, otherwise
// asks the source, waiting at most timeout.
func (l *Locator) Position(ctx context.Context) (models.Coordinate, error) {
	l.mu.Lock()
	if l.last != nil && l.now().Sub(l.taken) < l.maxAge {
		pos := *l.last
		l.mu.Unlock()
		return pos, nil
	}
	l.mu.Unlock()

	if l.source == nil {
		return models.Coordinate{}, ErrUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	type result struct {
		pos models.Coordinate
		err error
	}
	out := make(chan result, 1)
	go func() {
		pos, err := l.source.Position(ctx)
		out <- result{pos, err}
	}()

	select {
	case r := <-out:
		if r.err != nil {
			return models.Coordinate{}, errors.Wrap(r.err, "acquire position")
		}
		l.mu.Lock()
		l.last = &r.pos
		l.taken = l.now()
		l.mu.Unlock()
		return r.pos, nil
	case <-ctx.Done():
		return models.Coordinate{}, errors.Wrap(ErrUnavailable, ctx.Err().Error())
	}
}

// Last returns the most recent fix regardless of age.
func (l *Locator) Last() (models.Coordinate, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last == nil {
		return models.Coordinate{}, false
	}
	return *l.last, true
}
