package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
	"go.uber.org/zap"

	"notebooklm-mcp-server/internal/config"
)

// baselineIDs are the common call ids (query, describe, and friends) every
// session produces. Discovery flows look for ids outside this set.
var baselineIDs = map[string]struct{}{
	"HdY7pc": {},
	"JjGjQe": {},
	"gGZdY":  {},
}

// program declares the traffic relations. Raw calls are extensional facts;
// the distinct-id relation is derived on evaluation.
const program = `
Decl rpc_call(Id, Url, At).
Decl rpc_seen(Id).

rpc_seen(Id) :- rpc_call(Id, Url, At).
`

// Fact is one normalized traffic event.
type Fact struct {
	Predicate string        `json:"predicate"`
	Args      []interface{} `json:"args"`
	Timestamp time.Time     `json:"timestamp"`
}

// DiscoveredRPC summarizes one observed RPC id.
type DiscoveredRPC struct {
	ID        string    `json:"id"`
	Count     int       `json:"count"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Baseline  bool      `json:"baseline"`
	Label     string    `json:"label,omitempty"`
}

// Snapshot is the discovery tool's view of the inventory.
type Snapshot struct {
	Discovered []DiscoveredRPC   `json:"discovered"`
	Unfamiliar []string          `json:"unfamiliar,omitempty"`
	Labels     map[string]string `json:"labels,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at,omitempty"`
}

// cacheFile is the persisted inventory. Labels map semantic names (for
// example RESEARCH_START) onto discovered ids.
type cacheFile struct {
	Discovered []string          `json:"discovered"`
	Labels     map[string]string `json:"labels,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Observer ingests batchexecute requests, keeps a bounded fact buffer backed
// by a Mangle store, and persists the distinct-id inventory across runs.
type Observer struct {
	cfg    config.RPCConfig
	logger *zap.Logger

	mu          sync.RWMutex
	programInfo *analysis.ProgramInfo
	store       factstore.FactStore
	facts       []Fact
	index       map[string][]int
	discovered  map[string]*DiscoveredRPC
	labels      map[string]string
	updatedAt   time.Time
}

// NewObserver builds the observer and loads any cached inventory. The
// relation program is embedded, so construction only fails if it stops
// parsing, which a test catches immediately.
func NewObserver(cfg config.RPCConfig, logger *zap.Logger) (*Observer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	unit, err := parse.Unit(bytes.NewReader([]byte(program)))
	if err != nil {
		return nil, fmt.Errorf("parse rpc program: %w", err)
	}
	programInfo, err := analysis.AnalyzeOneUnit(unit, make(map[ast.PredicateSym]ast.Decl))
	if err != nil {
		return nil, fmt.Errorf("analyze rpc program: %w", err)
	}

	o := &Observer{
		cfg:         cfg,
		logger:      logger.Named("rpc"),
		programInfo: programInfo,
		store:       factstore.NewSimpleInMemoryStore(),
		index:       make(map[string][]int),
		discovered:  make(map[string]*DiscoveredRPC),
		labels:      make(map[string]string),
	}
	o.loadCache()
	return o, nil
}

// ObserveRequest ingests one request. Non-batchexecute traffic is ignored.
// Safe to call from Rod's event goroutine.
func (o *Observer) ObserveRequest(requestURL, postData string) {
	if !o.cfg.Enable || !IsBatchExecute(requestURL) {
		return
	}
	ids := FromRequest(requestURL, postData)
	if len(ids) == 0 {
		return
	}

	now := time.Now()
	o.mu.Lock()
	defer o.mu.Unlock()

	fresh := false
	for _, id := range ids {
		o.addFactLocked(Fact{
			Predicate: "rpc_call",
			Args:      []interface{}{id, requestURL, now.UnixMilli()},
			Timestamp: now,
		})
		entry, ok := o.discovered[id]
		if !ok {
			_, baseline := baselineIDs[id]
			entry = &DiscoveredRPC{ID: id, FirstSeen: now, Baseline: baseline}
			o.discovered[id] = entry
			fresh = true
		}
		entry.Count++
		entry.LastSeen = now
	}
	o.updatedAt = now

	if err := engine.EvalProgram(o.programInfo, o.store); err != nil {
		o.logger.Warn("rpc program evaluation failed", zap.Error(err))
	}
	if fresh {
		o.logger.Info("new rpc ids observed", zap.Strings("ids", ids))
		o.persistLocked()
	}
}

// Enabled reports whether request observation is active.
func (o *Observer) Enabled() bool {
	return o.cfg.Enable
}

// Label binds a semantic name to an id and persists the binding.
func (o *Observer) Label(name, id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.labels[name] = id
	if entry, ok := o.discovered[id]; ok {
		entry.Label = name
	}
	o.persistLocked()
}

// LabelFor returns the id bound to a semantic name, if any.
func (o *Observer) LabelFor(name string) (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	id, ok := o.labels[name]
	return id, ok
}

// Snapshot returns the current inventory sorted by first sighting.
func (o *Observer) Snapshot() Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()

	snap := Snapshot{
		Discovered: make([]DiscoveredRPC, 0, len(o.discovered)),
		Labels:     make(map[string]string, len(o.labels)),
		UpdatedAt:  o.updatedAt,
	}
	for _, entry := range o.discovered {
		snap.Discovered = append(snap.Discovered, *entry)
		if !entry.Baseline {
			snap.Unfamiliar = append(snap.Unfamiliar, entry.ID)
		}
	}
	sort.Slice(snap.Discovered, func(i, j int) bool {
		a, b := snap.Discovered[i], snap.Discovered[j]
		if a.FirstSeen.Equal(b.FirstSeen) {
			return a.ID < b.ID
		}
		return a.FirstSeen.Before(b.FirstSeen)
	})
	sort.Strings(snap.Unfamiliar)
	for name, id := range o.labels {
		snap.Labels[name] = id
	}
	return snap
}

// SeenIDs evaluates the derived relation and returns every distinct id the
// store knows about.
func (o *Observer) SeenIDs() ([]string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := engine.EvalProgram(o.programInfo, o.store); err != nil {
		return nil, fmt.Errorf("eval rpc program: %w", err)
	}

	queryAtom := ast.Atom{
		Predicate: ast.PredicateSym{Symbol: "rpc_seen", Arity: 1},
		Args:      []ast.BaseTerm{ast.Variable{Symbol: "Id"}},
	}
	ids := make([]string, 0, len(o.discovered))
	err := o.store.GetFacts(queryAtom, func(atom ast.Atom) error {
		if len(atom.Args) != 1 {
			return nil
		}
		if c, ok := atom.Args[0].(ast.Constant); ok && c.Type == ast.StringType {
			if val, err := c.StringValue(); err == nil {
				ids = append(ids, val)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get facts: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Reset drops the inventory, the fact buffer, the Mangle store, and every
// label, then rewrites the cache so the empty state survives a restart.
func (o *Observer) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.facts = nil
	o.index = make(map[string][]int)
	o.discovered = make(map[string]*DiscoveredRPC)
	o.labels = make(map[string]string)
	o.store = factstore.NewSimpleInMemoryStore()
	o.updatedAt = time.Time{}
	o.persistLocked()
	o.logger.Info("rpc inventory reset")
}

// FactsByPredicate returns buffered facts for one predicate, newest last.
func (o *Observer) FactsByPredicate(predicate string) []Fact {
	o.mu.RLock()
	defer o.mu.RUnlock()

	indices := o.index[predicate]
	out := make([]Fact, 0, len(indices))
	for _, idx := range indices {
		if idx >= 0 && idx < len(o.facts) {
			out = append(out, o.facts[idx])
		}
	}
	return out
}

// addFactLocked appends to the bounded buffer and the Mangle store.
func (o *Observer) addFactLocked(f Fact) {
	o.facts = append(o.facts, f)
	limit := o.cfg.FactBufferLimit
	if limit > 0 && len(o.facts) > limit {
		o.facts = o.facts[len(o.facts)-limit:]
		o.rebuildIndexLocked()
	} else {
		o.index[f.Predicate] = append(o.index[f.Predicate], len(o.facts)-1)
	}

	args := make([]ast.BaseTerm, len(f.Args))
	for i, arg := range f.Args {
		args[i] = toConstant(arg)
	}
	o.store.Add(ast.Atom{
		Predicate: ast.PredicateSym{Symbol: f.Predicate, Arity: len(f.Args)},
		Args:      args,
	})
}

func (o *Observer) rebuildIndexLocked() {
	o.index = make(map[string][]int)
	for i, f := range o.facts {
		o.index[f.Predicate] = append(o.index[f.Predicate], i)
	}
}

// loadCache restores the persisted inventory. A missing or unreadable cache
// just means an empty inventory.
func (o *Observer) loadCache() {
	if o.cfg.CachePath == "" {
		return
	}
	data, err := os.ReadFile(o.cfg.CachePath)
	if err != nil {
		return
	}
	var cache cacheFile
	if err := json.Unmarshal(data, &cache); err != nil {
		o.logger.Warn("rpc cache unreadable, starting fresh", zap.Error(err))
		return
	}
	for _, id := range cache.Discovered {
		_, baseline := baselineIDs[id]
		o.discovered[id] = &DiscoveredRPC{
			ID:        id,
			FirstSeen: cache.Timestamp,
			LastSeen:  cache.Timestamp,
			Baseline:  baseline,
		}
	}
	for name, id := range cache.Labels {
		o.labels[name] = id
		if entry, ok := o.discovered[id]; ok {
			entry.Label = name
		}
	}
	o.updatedAt = cache.Timestamp
}

// persistLocked writes the inventory atomically next to the auth artifact.
func (o *Observer) persistLocked() {
	if o.cfg.CachePath == "" {
		return
	}
	cache := cacheFile{
		Discovered: make([]string, 0, len(o.discovered)),
		Labels:     o.labels,
		Timestamp:  time.Now(),
	}
	for id := range o.discovered {
		cache.Discovered = append(cache.Discovered, id)
	}
	sort.Strings(cache.Discovered)

	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		o.logger.Warn("encode rpc cache failed", zap.Error(err))
		return
	}
	if err := os.MkdirAll(filepath.Dir(o.cfg.CachePath), 0o755); err != nil {
		o.logger.Warn("create rpc cache dir failed", zap.Error(err))
		return
	}
	tmp := o.cfg.CachePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		o.logger.Warn("write rpc cache failed", zap.Error(err))
		return
	}
	if err := os.Rename(tmp, o.cfg.CachePath); err != nil {
		o.logger.Warn("replace rpc cache failed", zap.Error(err))
	}
}

func toConstant(v interface{}) ast.Constant {
	switch val := v.(type) {
	case string:
		return ast.String(val)
	case int:
		return ast.Number(int64(val))
	case int64:
		return ast.Number(val)
	case float64:
		return ast.Float64(val)
	default:
		return ast.String(fmt.Sprintf("%v", v))
	}
}
