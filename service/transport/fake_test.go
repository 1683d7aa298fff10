package transport

import (
	"context"
	"errors"
	"sync"
)

type published struct {
	link        int
	destination string
	body        string
}

type fakeLink struct {
	idx    int
	driver *fakeDriver

	mu        sync.Mutex
	subs      map[string]string
	subCalls  int
	frames    chan Frame
	done      chan struct{}
	closeOnce sync.Once
	err       error
	pingErr   error
}

func (l *fakeLink) Publish(_ context.Context, destination string, body []byte) error {
	l.driver.mu.Lock()
	defer l.driver.mu.Unlock()
	if l.driver.publishErr != nil {
		return l.driver.publishErr
	}
	l.driver.published = append(l.driver.published, published{link: l.idx, destination: destination, body: string(body)})
	return nil
}

func (l *fakeLink) Subscribe(id, destination string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subCalls++
	l.subs[id] = destination
	return nil
}

func (l *fakeLink) Unsubscribe(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.subs, id)
	return nil
}

func (l *fakeLink) Ping(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pingErr
}

func (l *fakeLink) Frames() <-chan Frame  { return l.frames }
func (l *fakeLink) Done() <-chan struct{} { return l.done }

func (l *fakeLink) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *fakeLink) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return nil
}

// kill simulates a remote close.
func (l *fakeLink) kill(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
	l.closeOnce.Do(func() { close(l.done) })
}

func (l *fakeLink) subscriptions() map[string]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]string, len(l.subs))
	for k, v := range l.subs {
		out[k] = v
	}
	return out
}

type fakeDriver struct {
	mu         sync.Mutex
	links      []*fakeLink
	dialErrs   []error // consumed one per dial
	alwaysErr  error
	hang       bool
	publishErr error
	published  []published
	requests   []DialRequest
}

func (d *fakeDriver) Dial(ctx context.Context, req DialRequest) (Link, error) {
	d.mu.Lock()
	d.requests = append(d.requests, req)
	hang := d.hang
	var err error
	if len(d.dialErrs) > 0 {
		err, d.dialErrs = d.dialErrs[0], d.dialErrs[1:]
	} else if d.alwaysErr != nil {
		err = d.alwaysErr
	}
	d.mu.Unlock()

	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	l := &fakeLink{
		idx:    len(d.links),
		driver: d,
		subs:   make(map[string]string),
		frames: make(chan Frame, 16),
		done:   make(chan struct{}),
	}
	d.links = append(d.links, l)
	return l, nil
}

func (d *fakeDriver) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.requests)
}

func (d *fakeDriver) last() *fakeLink {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.links) == 0 {
		return nil
	}
	return d.links[len(d.links)-1]
}

func (d *fakeDriver) publishedTo(destination string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, p := range d.published {
		if p.destination == destination {
			out = append(out, p.body)
		}
	}
	return out
}

func (d *fakeDriver) setAlwaysErr(err error) {
	d.mu.Lock()
	d.alwaysErr = err
	d.mu.Unlock()
}

type staticReplayer []WireSubscription

func (r staticReplayer) WireSubscriptions() []WireSubscription { return r }

var errRemoteClosed = errors.New("remote closed")
