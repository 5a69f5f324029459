package agent

import (
	"context"
	stdErrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	toriiErrors "github.com/akiho/torii/internal/errors"
)

type memStore struct {
	byID     map[string]Agent
	byName   map[string]Agent
	getCalls int
	err      error
}

func newMemStore() *memStore {
	return &memStore{byID: make(map[string]Agent), byName: make(map[string]Agent)}
}

func (m *memStore) GetAgent(ctx context.Context, id string) (Agent, bool, error) {
	m.getCalls++
	if m.err != nil {
		return Agent{}, false, m.err
	}
	a, ok := m.byID[id]
	return a, ok, nil
}

func (m *memStore) FindAgentByName(ctx context.Context, name string) (Agent, bool, error) {
	if m.err != nil {
		return Agent{}, false, m.err
	}
	a, ok := m.byName[name]
	return a, ok, nil
}

func (m *memStore) CreateAgent(ctx context.Context, a Agent) error {
	if m.err != nil {
		return m.err
	}
	if _, taken := m.byName[a.Name]; taken {
		return nil
	}
	m.byID[a.ID] = a
	m.byName[a.Name] = a
	return nil
}

func (m *memStore) put(a Agent) {
	m.byID[a.ID] = a
	m.byName[a.Name] = a
}

func TestResolver_ExplicitIDFound(t *testing.T) {
	store := newMemStore()
	store.put(Agent{ID: "id-1", Name: "crawler", DistrustToolContext: true, CreatedAt: time.Now()})

	resolver, err := NewResolver(store)
	require.NoError(t, err)

	a, err := resolver.Resolve(context.Background(), "id-1", "")
	require.NoError(t, err)
	assert.Equal(t, "crawler", a.Name)
	assert.True(t, a.DistrustToolContext)
}

func TestResolver_ExplicitIDUnknownIsError(t *testing.T) {
	resolver, err := NewResolver(newMemStore())
	require.NoError(t, err)

	_, err = resolver.Resolve(context.Background(), "missing", "")
	require.Error(t, err)
	assert.True(t, stdErrors.Is(err, toriiErrors.ErrNotFound))
}

func TestResolver_ExplicitIDCached(t *testing.T) {
	store := newMemStore()
	store.put(Agent{ID: "id-1", Name: "crawler"})

	resolver, err := NewResolver(store)
	require.NoError(t, err)

	_, err = resolver.Resolve(context.Background(), "id-1", "")
	require.NoError(t, err)
	_, err = resolver.Resolve(context.Background(), "id-1", "")
	require.NoError(t, err)

	assert.Equal(t, 1, store.getCalls)
}

func TestResolver_UserAgentFallbackCreatesDefaultAgent(t *testing.T) {
	store := newMemStore()
	resolver, err := NewResolver(store)
	require.NoError(t, err)

	a, err := resolver.Resolve(context.Background(), "", "MyBot/2.1 (linux; amd64)")
	require.NoError(t, err)

	assert.Equal(t, "mybot", a.Name)
	assert.NotEmpty(t, a.ID)
	assert.False(t, a.DistrustToolContext)

	stored, ok := store.byName["mybot"]
	require.True(t, ok)
	assert.Equal(t, a.ID, stored.ID)
}

func TestResolver_UserAgentFallbackReusesExisting(t *testing.T) {
	store := newMemStore()
	store.put(Agent{ID: "id-9", Name: "mybot", CompressToolPayloads: true})

	resolver, err := NewResolver(store)
	require.NoError(t, err)

	a, err := resolver.Resolve(context.Background(), "", "MyBot/2.1")
	require.NoError(t, err)
	assert.Equal(t, "id-9", a.ID)
	assert.True(t, a.CompressToolPayloads)
}

func TestResolver_EmptySignalsResolveToDefault(t *testing.T) {
	store := newMemStore()
	resolver, err := NewResolver(store)
	require.NoError(t, err)

	a, err := resolver.Resolve(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, "default", a.Name)
}

func TestNameFromUserAgent(t *testing.T) {
	cases := map[string]string{
		"":                        "default",
		"   ":                     "default",
		"MyApp/1.0":               "myapp",
		"my-app/1.2 (linux)":      "my-app",
		"curl/8.4.0":              "curl",
		"SoloToken":               "solotoken",
		"/1.0":                    "default",
		"Mozilla/5.0 (Macintosh)": "mozilla",
	}

	for input, want := range cases {
		assert.Equal(t, want, nameFromUserAgent(input), "input %q", input)
	}
}
