package ws

import "sync"

// Registry は開いている接続を接続IDで管理する。
// 接続開始時に登録し、終了時に削除する。
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewRegistry は空のRegistryを生成する。
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

// Add は接続を登録する。
func (r *Registry) Add(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.ID()] = c
}

// Remove は接続を削除する。
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

// Len は登録中の接続数を返す。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Snapshot は登録中の接続の一覧を返す。順序は不定。
func (r *Registry) Snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}
