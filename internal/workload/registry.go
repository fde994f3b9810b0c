package workload

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// PropertyClass names the workload type inside a test descriptor.
const PropertyClass = "class"

var (
	ErrTypeExists      = errors.New("workload: type already registered")
	ErrFactoryNil      = errors.New("workload: factory is nil")
	ErrInvalidTypeName = errors.New("workload: invalid type name")
	ErrMissingType     = errors.New("workload: descriptor has no class property")
	ErrUnknownType     = errors.New("workload: unknown type")
	ErrConstruct       = errors.New("workload: construction failed")
)

// Properties is the string-keyed configuration of one test case.
type Properties map[string]string

// Clone returns an independent copy.
func (p Properties) Clone() Properties {
	if p == nil {
		return Properties{}
	}
	out := make(Properties, len(p))
	maps.Copy(out, p)
	return out
}

func (p Properties) String(key, def string) string {
	if v, ok := p[key]; ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (p Properties) Int(key string, def int) (int, error) {
	raw, ok := p[key]
	if !ok || strings.TrimSpace(raw) == "" {
		return def, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("workload: property %q: %w", key, err)
	}
	return v, nil
}

func (p Properties) Duration(key string, def time.Duration) (time.Duration, error) {
	raw, ok := p[key]
	if !ok || strings.TrimSpace(raw) == "" {
		return def, nil
	}
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("workload: property %q: %w", key, err)
	}
	return v, nil
}

// Factory builds one workload instance from its properties.
type Factory func(props Properties) (Workload, error)

// Registry stores workload factories by stable type name.
type Registry struct {
	mu    sync.RWMutex
	items map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{items: make(map[string]Factory)}
}

// Register adds a factory under typeName.
func (r *Registry) Register(typeName string, factory Factory) error {
	if factory == nil {
		return ErrFactoryNil
	}
	name := strings.TrimSpace(typeName)
	if !isValidTypeName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidTypeName, typeName)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[name]; ok {
		return fmt.Errorf("%w: %s", ErrTypeExists, name)
	}
	r.items[name] = factory
	return nil
}

// Resolve returns the factory for typeName.
func (r *Registry) Resolve(typeName string) (Factory, error) {
	name := strings.TrimSpace(typeName)
	r.mu.RLock()
	factory, ok := r.items[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typeName)
	}
	return factory, nil
}

// New resolves the class property and instantiates the workload.
func (r *Registry) New(props Properties) (Workload, error) {
	class := props.String(PropertyClass, "")
	if class == "" {
		return nil, ErrMissingType
	}
	factory, err := r.Resolve(class)
	if err != nil {
		return nil, err
	}
	w, err := construct(factory, class, props.Clone())
	if err != nil {
		if errors.Is(err, ErrConstruct) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrConstruct, class, err)
	}
	if w == nil {
		return nil, fmt.Errorf("%w: %s returned nil", ErrConstruct, class)
	}
	return w, nil
}

func construct(factory Factory, class string, props Properties) (w Workload, err error) {
	defer func() {
		if r := recover(); r != nil {
			w, err = nil, fmt.Errorf("%w: %s panicked: %v", ErrConstruct, class, r)
		}
	}()
	return factory(props)
}

// Types returns the registered type names in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.items))
	for name := range r.items {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func isValidTypeName(id string) bool {
	if id == "" {
		return false
	}
	lastSep := false
	for i := 0; i < len(id); i++ {
		c := id[i]
		isLower := c >= 'a' && c <= 'z'
		isDigit := c >= '0' && c <= '9'
		isSep := c == '.' || c == '-' || c == '_'
		if !(isLower || isDigit || isSep) {
			return false
		}
		if i == 0 || i == len(id)-1 {
			if isSep {
				return false
			}
		}
		if isSep && lastSep {
			return false
		}
		lastSep = isSep
	}
	return true
}
