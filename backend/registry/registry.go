package registry

import (
	"sync"

	"github.com/Asmit356/anant-signaling/backend/room"
)

// Registry is the process-wide name to room mapping. Its mutex guards only
// the map itself; room state is serialized by each room's own lock.
type Registry struct {
	mx    *sync.Mutex
	rooms map[string]*room.Room
}

func New() *Registry {
	return &Registry{
		mx:    &sync.Mutex{},
		rooms: make(map[string]*room.Room),
	}
}

// GetOrCreate returns the room with the given name, materializing it on
// first reference. The created result reports whether it was materialized
// by this call.
func (rg *Registry) GetOrCreate(name string) (*room.Room, bool) {
	rg.mx.Lock()
	defer rg.mx.Unlock()

	if r, ok := rg.rooms[name]; ok {
		return r, false
	}
	r := room.New(name)
	rg.rooms[name] = r
	return r, true
}

func (rg *Registry) Get(name string) (*room.Room, bool) {
	rg.mx.Lock()
	defer rg.mx.Unlock()

	r, ok := rg.rooms[name]
	return r, ok
}

// Destroy drops the room from the registry. Idempotent; reports whether
// the entry was actually present.
func (rg *Registry) Destroy(name string) bool {
	rg.mx.Lock()
	defer rg.mx.Unlock()

	if _, ok := rg.rooms[name]; !ok {
		return false
	}
	delete(rg.rooms, name)
	return true
}

func (rg *Registry) Len() int {
	rg.mx.Lock()
	defer rg.mx.Unlock()

	return len(rg.rooms)
}
