package chain

import (
	"sort"
	"sync"

	werrors "custody/internal/errors"
	"custody/pkg/models"
)

// Registry 链适配器注册表
type Registry struct {
	mu       sync.RWMutex
	adapters map[models.ChainType]Adapter
}

// NewRegistry 创建注册表
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[models.ChainType]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register 注册适配器
func (r *Registry) Register(adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.Type()] = adapter
}

// Get 按链类型获取适配器
func (r *Registry) Get(chainType models.ChainType) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.adapters[chainType]
	if !ok {
		return nil, werrors.ErrUnsupportedChain(string(chainType))
	}
	return adapter, nil
}

// Resolve 解析链类型标签并返回适配器
func (r *Registry) Resolve(label string) (Adapter, error) {
	chainType, err := ParseChainType(label)
	if err != nil {
		return nil, err
	}
	return r.Get(chainType)
}

// List 返回已注册的链类型
func (r *Registry) List() []models.ChainType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]models.ChainType, 0, len(r.adapters))
	for t := range r.adapters {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// ParseChainType 解析链类型，未知标签返回 UNSUPPORTED_CHAIN
func ParseChainType(label string) (models.ChainType, error) {
	chainType, err := models.ParseChainType(label)
	if err != nil {
		return "", werrors.ErrUnsupportedChain(label)
	}
	return chainType, nil
}
