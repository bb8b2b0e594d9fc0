package aggregator

import (
	"context"
	"testing"

	"github.com/Sternrassler/registry-stats/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMine(t *testing.T) {
	p := &fakeDiscover{
		fakeProvider: newFake("npm"),
		owned:        []string{"small", "big", "broken", "nomonth", "big", "gone", "medium"},
	}
	p.stats = func(subject string) (*registry.Record, error) {
		switch subject {
		case "big":
			return record("npm", subject, 1000), nil
		case "medium":
			return record("npm", subject, 500), nil
		case "small":
			return record("npm", subject, 5), nil
		case "nomonth":
			rec := record("npm", subject, 0)
			rec.Counts.Month = nil
			return rec, nil
		case "gone":
			return nil, nil
		}
		return nil, errBoom
	}
	a := newAggregator(p)

	var failed []string
	var progress int
	records, err := a.Mine(context.Background(), "npm", "sindresorhus", Options{
		Concurrency: 1,
		Progress:    func(done, total int, _ string) { progress = done },
		OnError: func(_, subject string, err error) {
			failed = append(failed, subject)
			assert.ErrorIs(t, err, errBoom)
		},
	})
	require.NoError(t, err)

	var names []string
	for _, r := range records {
		names = append(names, r.Subject)
	}
	assert.Equal(t, []string{"big", "medium", "small", "nomonth"}, names)
	assert.Equal(t, []string{"broken"}, failed)
	assert.Equal(t, 6, progress, "duplicates are discovered once")
	assert.Equal(t, 1, p.callCount("big"))
}

func TestMine_Errors(t *testing.T) {
	plain := newFake("pypi")
	broken := &fakeDiscover{fakeProvider: newFake("npm"), err: errBoom}
	a := newAggregator(broken, plain)

	_, err := a.Mine(context.Background(), "pypi", "someone", Options{})
	assert.ErrorIs(t, err, registry.ErrUnsupported)

	_, err = a.Mine(context.Background(), "npm", "someone", Options{})
	assert.ErrorIs(t, err, errBoom)

	_, err = a.Mine(context.Background(), "cargo", "someone", Options{})
	assert.ErrorIs(t, err, registry.ErrUnknownSource)
}
