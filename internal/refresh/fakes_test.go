package refresh

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// fakeDB models the terms row and the regex cache. ReplaceTerms applies all or
// nothing, the way the Postgres transaction does.
type fakeDB struct {
	mu        sync.Mutex
	termsDict []byte
	loaded    time.Time
	regexRows int64
	failWith  error
	writes    int
}

type fakeStore struct {
	db     *fakeDB
	now    func() time.Time
	closed bool
}

func (s *fakeStore) ReplaceTerms(_ context.Context, payload []byte) (Replacement, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if s.db.failWith != nil {
		return Replacement{}, s.db.failWith
	}
	s.db.termsDict = append([]byte{}, payload...)
	s.db.loaded = s.now()
	cleared := s.db.regexRows
	s.db.regexRows = 0
	s.db.writes++
	return Replacement{BytesStored: len(payload), RegexRowsCleared: cleared}, nil
}

func (s *fakeStore) Close() error {
	s.closed = true
	return nil
}

type fakeConnector struct {
	db     *fakeDB
	err    error
	now    func() time.Time
	calls  int
	stores []*fakeStore
}

func (c *fakeConnector) Connect(context.Context) (Store, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	s := &fakeStore{db: c.db, now: c.now}
	c.stores = append(c.stores, s)
	return s, nil
}

type fakeFetcher struct {
	payload []byte
	err     error
	urls    []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.urls = append(f.urls, url)
	if f.err != nil {
		return nil, f.err
	}
	return f.payload, nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *fakeClock) Since(start time.Time) time.Duration {
	return c.now.Sub(start)
}

type fakeIDGen struct {
	ids []string
	err error
}

func (g *fakeIDGen) NewID() (string, error) {
	if g.err != nil {
		return "", g.err
	}
	if len(g.ids) == 0 {
		return "", errors.New("no ids left")
	}
	id := g.ids[0]
	g.ids = g.ids[1:]
	return id, nil
}

type fakeHasher struct {
	hash string
}

func (h fakeHasher) Hash([]byte) (string, error) {
	return h.hash, nil
}

type fakeArchiver struct {
	err     error
	objects map[string][]byte
}

func (a *fakeArchiver) PutObject(_ context.Context, path, _ string, body io.Reader) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	if a.objects == nil {
		a.objects = map[string][]byte{}
	}
	a.objects[path] = data
	return "mem://" + path, nil
}

type fakePublisher struct {
	err      error
	topics   []string
	messages []any
}

func (p *fakePublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.topics = append(p.topics, topic)
	p.messages = append(p.messages, payload)
	return "msg-1", nil
}

type fakeRecorder struct {
	outcomes []Outcome
	results  []Result
}

func (r *fakeRecorder) Observe(outcome Outcome, res Result) {
	r.outcomes = append(r.outcomes, outcome)
	r.results = append(r.results, res)
}
