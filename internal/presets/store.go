package presets

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// KV is the opaque key-value persistence collaborator the spec names for
// preset storage: the scanner only ever stores and retrieves an already
// JSON-encoded blob by id, never interprets it. Its implementation (a
// real KV service, a database row, a file) is out of scope here.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]string, error)
}

// Authenticator is the opaque bearer-check collaborator named alongside
// preset persistence; the scanner only asks "is this token valid", never
// how tokens are issued or stored.
type Authenticator interface {
	Authenticate(ctx context.Context, bearerToken string) bool
}

// ErrNotFound is returned by Store methods when no preset exists for the
// given id.
var ErrNotFound = errors.New("presets: not found")

// Preset is the opaque JSON document a client stores: a named filter
// configuration plus free-form metadata the scanner never validates
// beyond the envelope shape.
type Preset struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
	Filters     json.RawMessage `json:"filters"`
}

// Store is the preset CRUD surface the REST handlers call; it is a thin
// JSON-codec wrapper around the opaque KV collaborator.
type Store struct {
	kv KV
}

func NewStore(kv KV) *Store {
	return &Store{kv: kv}
}

func (s *Store) Create(ctx context.Context, p Preset) (Preset, error) {
	p.ID = uuid.New().String()
	data, err := json.Marshal(p)
	if err != nil {
		return Preset{}, err
	}
	if err := s.kv.Put(ctx, p.ID, data); err != nil {
		return Preset{}, err
	}
	return p, nil
}

func (s *Store) Get(ctx context.Context, id string) (Preset, error) {
	data, ok, err := s.kv.Get(ctx, id)
	if err != nil {
		return Preset{}, err
	}
	if !ok {
		return Preset{}, ErrNotFound
	}
	var p Preset
	if err := json.Unmarshal(data, &p); err != nil {
		return Preset{}, err
	}
	return p, nil
}

func (s *Store) Update(ctx context.Context, id string, p Preset) (Preset, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return Preset{}, err
	}
	p.ID = id
	data, err := json.Marshal(p)
	if err != nil {
		return Preset{}, err
	}
	if err := s.kv.Put(ctx, id, data); err != nil {
		return Preset{}, err
	}
	return p, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.kv.Delete(ctx, id)
}

func (s *Store) List(ctx context.Context) ([]Preset, error) {
	ids, err := s.kv.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Preset, 0, len(ids))
	for _, id := range ids {
		p, err := s.Get(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// InMemoryKV is a process-local stand-in for the real opaque KV
// collaborator, sufficient to run the scanner without an external
// dependency wired up.
type InMemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewInMemoryKV() *InMemoryKV {
	return &InMemoryKV{data: make(map[string][]byte)}
}

func (k *InMemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	v, ok := k.data[key]
	return v, ok, nil
}

func (k *InMemoryKV) Put(_ context.Context, key string, value []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.data[key] = value
	return nil
}

func (k *InMemoryKV) Delete(_ context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.data, key)
	return nil
}

func (k *InMemoryKV) List(_ context.Context) ([]string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]string, 0, len(k.data))
	for id := range k.data {
		out = append(out, id)
	}
	return out, nil
}

// StaticBearerAuth authenticates against a fixed set of tokens, a stand-in
// for the real auth collaborator named in the spec as an opaque contract.
// Comparisons are constant-time in the token's content, so a matching
// prefix is not revealed via timing; a length mismatch still returns early.
type StaticBearerAuth struct {
	tokens map[string]bool
}

func NewStaticBearerAuth(tokens ...string) *StaticBearerAuth {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return &StaticBearerAuth{tokens: set}
}

func (a *StaticBearerAuth) Authenticate(_ context.Context, bearerToken string) bool {
	for t := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(t), []byte(bearerToken)) == 1 {
			return true
		}
	}
	return false
}
