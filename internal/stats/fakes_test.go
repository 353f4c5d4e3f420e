package stats

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"

	"marketstats.shikanime.studio/internal/marketplace"
)

var errInjected = errors.New("injected failure")

// memStore is an in-memory Store. Transactions snapshot the state and
// restore it when fn fails.
type memStore struct {
	mu         sync.Mutex
	extensions []*Extension
	installs   []*ExtensionInstall
	nextID     int64

	// failSave makes SaveExtension fail for these names.
	failSave map[string]bool
	// failInstall makes SaveInstall fail for these extension ids.
	failInstall map[int64]bool
	failList    bool
	failActive  bool
	saves       int
}

func newMemStore() *memStore {
	return &memStore{failSave: map[string]bool{}, failInstall: map[int64]bool{}}
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) ListExtensions(context.Context) ([]*Extension, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failList {
		return nil, errInjected
	}
	out := make([]*Extension, 0, len(s.extensions))
	for _, e := range s.extensions {
		c := *e
		out = append(out, &c)
	}
	return out, nil
}

func (s *memStore) FindExtensionByName(_ context.Context, name string) (*Extension, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.extensions {
		if e.Name == name {
			c := *e
			return &c, nil
		}
	}
	return nil, nil
}

func (s *memStore) FindActiveExtensions(context.Context) ([]*Extension, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failActive {
		return nil, errInjected
	}
	var out []*Extension
	for _, e := range s.extensions {
		if e.Active {
			c := *e
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) SaveExtension(_ context.Context, e *Extension) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave[e.Name] {
		return errInjected
	}
	s.saves++
	if e.ID == 0 {
		for _, o := range s.extensions {
			if o.Name == e.Name {
				return errors.New("duplicate extension name " + e.Name)
			}
		}
		e.ID = s.id()
		c := *e
		s.extensions = append(s.extensions, &c)
		return nil
	}
	for i, o := range s.extensions {
		if o.ID == e.ID {
			c := *e
			s.extensions[i] = &c
			return nil
		}
	}
	return errors.New("no such extension")
}

func (s *memStore) LastTwoInstalls(_ context.Context, ext *Extension) ([]*ExtensionInstall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []*ExtensionInstall
	for _, r := range s.installs {
		if r.ExtensionID == ext.ID {
			c := *r
			rows = append(rows, &c)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].Time.Equal(rows[j].Time) {
			return rows[i].Time.After(rows[j].Time)
		}
		return rows[i].ID > rows[j].ID
	})
	if len(rows) > 2 {
		rows = rows[:2]
	}
	return rows, nil
}

func (s *memStore) SaveInstall(_ context.Context, r *ExtensionInstall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failInstall[r.ExtensionID] {
		return errInjected
	}
	if r.ID == 0 {
		r.ID = s.id()
		c := *r
		s.installs = append(s.installs, &c)
		return nil
	}
	for i, o := range s.installs {
		if o.ID == r.ID {
			c := *r
			s.installs[i] = &c
			return nil
		}
	}
	return errors.New("no such install record")
}

func (s *memStore) InTx(ctx context.Context, fn func(Store) error) error {
	s.mu.Lock()
	exts := cloneAll(s.extensions)
	installs := cloneAll(s.installs)
	next := s.nextID
	s.mu.Unlock()
	if err := fn(s); err != nil {
		s.mu.Lock()
		s.extensions, s.installs, s.nextID = exts, installs, next
		s.mu.Unlock()
		return err
	}
	return nil
}

func cloneAll[T any](in []*T) []*T {
	out := make([]*T, 0, len(in))
	for _, v := range in {
		c := *v
		out = append(out, &c)
	}
	return out
}

// historyOf returns the install rows of name in insertion order.
func (s *memStore) historyOf(name string) []*ExtensionInstall {
	s.mu.Lock()
	defer s.mu.Unlock()
	var id int64
	for _, e := range s.extensions {
		if e.Name == name {
			id = e.ID
		}
	}
	var out []*ExtensionInstall
	for _, r := range s.installs {
		if r.ExtensionID == id {
			c := *r
			out = append(out, &c)
		}
	}
	return out
}

func (s *memStore) extension(name string) *Extension {
	e, _ := s.FindExtensionByName(context.Background(), name)
	return e
}

// fakeGateway serves catalogs from memory.
type fakeGateway struct {
	mu          sync.Mutex
	catalogs    map[string][]marketplace.Extension
	failing     map[string]bool
	invalidated [][]string
	calls       int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{catalogs: map[string][]marketplace.Extension{}, failing: map[string]bool{}}
}

func (g *fakeGateway) PublisherCatalog(_ context.Context, publisher string) ([]marketplace.Extension, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.failing[publisher] {
		return nil, errInjected
	}
	return slices.Clone(g.catalogs[publisher]), nil
}

func (g *fakeGateway) ExtensionDocument(ctx context.Context, id string) (*marketplace.Extension, error) {
	publisher, name, ok := strings.Cut(id, ".")
	if !ok {
		return nil, nil
	}
	docs, err := g.PublisherCatalog(ctx, publisher)
	if err != nil {
		return nil, err
	}
	for i := range docs {
		if docs[i].ExtensionName == name {
			return &docs[i], nil
		}
	}
	return nil, nil
}

func (g *fakeGateway) Invalidate(publishers ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.invalidated = append(g.invalidated, publishers)
}

// put replaces the document of publisher.name.
func (g *fakeGateway) put(doc marketplace.Extension) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := doc.Publisher.PublisherName
	for i, d := range g.catalogs[p] {
		if d.ExtensionName == doc.ExtensionName {
			g.catalogs[p][i] = doc
			return
		}
	}
	g.catalogs[p] = append(g.catalogs[p], doc)
}

func (g *fakeGateway) remove(publisher, name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.catalogs[publisher] = slices.DeleteFunc(g.catalogs[publisher], func(d marketplace.Extension) bool {
		return d.ExtensionName == name
	})
}

type docOption func(*marketplace.Extension)

func withStats(kv ...any) docOption {
	return func(d *marketplace.Extension) {
		for i := 0; i+1 < len(kv); i += 2 {
			d.Statistics = append(d.Statistics, marketplace.Statistic{
				StatisticName: kv[i].(string),
				Value:         float64(kv[i+1].(int)),
			})
		}
	}
}

func withVersion(v string) docOption {
	return func(d *marketplace.Extension) {
		d.Versions = []marketplace.Version{{Version: v}}
	}
}

func withIcon(url string) docOption {
	return func(d *marketplace.Extension) {
		if len(d.Versions) == 0 {
			d.Versions = []marketplace.Version{{}}
		}
		d.Versions[0].Files = []marketplace.File{{AssetType: "Microsoft.VisualStudio.Services.Icons.Default", Source: url}}
	}
}

func newDoc(publisher, name, displayName string, opts ...docOption) marketplace.Extension {
	d := marketplace.Extension{
		Publisher:     marketplace.Publisher{PublisherName: publisher},
		ExtensionName: name,
		DisplayName:   displayName,
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}
