// Package runtime implements the live method registry a boot-image build
// back-patches: oat.Runtime, oat.DexCache, and oat.Method. Its shape follows
// vm/object_registry.go and vm/class.go's class/method bookkeeping, adapted
// from a live-object graph to the narrow setter interface the OAT writer's
// boot-image bridge calls into.
package runtime

import (
	"fmt"
	"sync"

	"github.com/chazu/oatwriter/oat"
)

// dexCache is the per-dex resolution cache oat.Runtime.FindDexCache hands
// back. It exists purely as an opaque token threaded through ResolveMethod;
// the registry keeps its real bookkeeping keyed by dex location instead.
type dexCache struct{ location string }

// Method is the registry's live method record. The boot-image bridge
// populates its offsets and, conditionally, its code address.
type Method struct {
	mu sync.Mutex

	Name                string
	isConstructor       bool
	declaringClassReady bool

	FrameSize          uint32
	CoreSpillMask      uint32
	FPSpillMask        uint32
	MappingTableOffset uint32
	VmapTableOffset    uint32
	GCMapOffset        uint32
	InvokeStubOffset   uint32
	CodeOffset         uint32 // stays 0 (trampoline) until gated by the bridge
}

func (m *Method) SetFrameSize(v uint32)          { m.mu.Lock(); defer m.mu.Unlock(); m.FrameSize = v }
func (m *Method) SetCoreSpillMask(v uint32)      { m.mu.Lock(); defer m.mu.Unlock(); m.CoreSpillMask = v }
func (m *Method) SetFPSpillMask(v uint32)        { m.mu.Lock(); defer m.mu.Unlock(); m.FPSpillMask = v }
func (m *Method) SetMappingTableOffset(v uint32) { m.mu.Lock(); defer m.mu.Unlock(); m.MappingTableOffset = v }
func (m *Method) SetVmapTableOffset(v uint32)    { m.mu.Lock(); defer m.mu.Unlock(); m.VmapTableOffset = v }
func (m *Method) SetGCMapOffset(v uint32)        { m.mu.Lock(); defer m.mu.Unlock(); m.GCMapOffset = v }
func (m *Method) SetInvokeStubOffset(v uint32)   { m.mu.Lock(); defer m.mu.Unlock(); m.InvokeStubOffset = v }
func (m *Method) SetCodeOffset(v uint32)         { m.mu.Lock(); defer m.mu.Unlock(); m.CodeOffset = v }

func (m *Method) IsConstructor() bool               { return m.isConstructor }
func (m *Method) IsDeclaringClassInitialized() bool { return m.declaringClassReady }

// Registry is the boot image's live method table, organized by dex location
// then method index the way vm/object_registry.go keys live VM objects by a
// stable handle. Every Registry method takes Mu itself, so a caller must not
// hold Mu while an oat.Writer construction uses this registry as a
// boot-image bridge target.
type Registry struct {
	Mu sync.Mutex

	methods map[string]map[int]*Method
}

// NewRegistry creates an empty method registry.
func NewRegistry() *Registry {
	return &Registry{methods: make(map[string]map[int]*Method)}
}

// Declare registers a method ahead of the OAT build so ResolveMethod can
// find it. For a static method, isConstructor and declaringClassReady gate
// whether the bridge will patch in a real code address (spec §4.H) or leave the entry pointing
// at the runtime's resolution trampoline.
func (r *Registry) Declare(dexLocation string, methodIdx int, name string, isConstructor, declaringClassReady bool) *Method {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	if r.methods[dexLocation] == nil {
		r.methods[dexLocation] = make(map[int]*Method)
	}
	m := &Method{Name: name, isConstructor: isConstructor, declaringClassReady: declaringClassReady}
	r.methods[dexLocation][methodIdx] = m
	return m
}

// Lookup returns the declared method, for assertions in tests.
func (r *Registry) Lookup(dexLocation string, methodIdx int) (*Method, bool) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	m, ok := r.methods[dexLocation][methodIdx]
	return m, ok
}

func (r *Registry) FindDexCache(dex oat.DexFile) (oat.DexCache, bool) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	if _, ok := r.methods[dex.Location()]; !ok {
		return nil, false
	}
	return &dexCache{location: dex.Location()}, true
}

func (r *Registry) ResolveMethod(dex oat.DexFile, methodIdx int, cache oat.DexCache, invokeType oat.InvokeType) (oat.Method, bool) {
	dc, ok := cache.(*dexCache)
	if !ok {
		return nil, false
	}
	r.Mu.Lock()
	defer r.Mu.Unlock()
	m, ok := r.methods[dc.location][methodIdx]
	if !ok {
		return nil, false
	}
	return m, true
}

func (r *Registry) String() string {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	total := 0
	for _, ms := range r.methods {
		total += len(ms)
	}
	return fmt.Sprintf("runtime.Registry{%d dex(es), %d method(s)}", len(r.methods), total)
}
