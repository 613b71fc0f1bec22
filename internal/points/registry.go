package points

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/vetgate/vetgate/internal/datasources"
	"github.com/vetgate/vetgate/pkg/schema"
)

// Wildcard allows every registered datasource at a point.
const Wildcard = "*"

// Point is one named trigger location in the host application where workflows
// may be bound and executed.
type Point struct {
	Code               string   `json:"code"`
	Name               string   `json:"name"`
	Description        string   `json:"description,omitempty"`
	Category           string   `json:"category,omitempty"`
	AllowedDataSources []string `json:"allowed_datasources"`
}

// allowsAll reports whether the point's allow-list is the wildcard.
func (p *Point) allowsAll() bool {
	for _, n := range p.AllowedDataSources {
		if n == Wildcard {
			return true
		}
	}
	return false
}

// Registry is the concrete thread-safe execution point catalog. Points are
// registered at process start; re-registration overwrites with a warning so
// a process reload never fails.
type Registry struct {
	mu     sync.RWMutex
	points map[string]*Point
	logger *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		points: make(map[string]*Point),
		logger: logger,
	}
}

// Register adds an execution point. Registering an existing code overwrites
// the previous definition.
func (r *Registry) Register(code, name, description, category string, allowedDataSources []string) error {
	if code == "" {
		return schema.NewError(schema.ErrCodeValidation, "execution point code is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.points[code]; exists {
		r.logger.Warn("execution point re-registered", slog.String("code", code))
	}
	r.points[code] = &Point{
		Code:               code,
		Name:               name,
		Description:        description,
		Category:           category,
		AllowedDataSources: append([]string(nil), allowedDataSources...),
	}
	return nil
}

// Exists checks if a point code is registered.
func (r *Registry) Exists(code string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.points[code]
	return ok
}

// Get retrieves a point by code.
func (r *Registry) Get(code string) (*Point, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.points[code]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "execution point %q not registered", code)
	}
	cp := *p
	return &cp, nil
}

// List returns all registered points, sorted by code.
func (r *Registry) List() []*Point {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Point, 0, len(r.points))
	for _, p := range r.points {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// ListByCategory returns the points in one category, sorted by code.
func (r *Registry) ListByCategory(category string) []*Point {
	all := r.List()
	out := all[:0]
	for _, p := range all {
		if p.Category == category {
			out = append(out, p)
		}
	}
	return out
}

// Categories returns the distinct categories in use, sorted.
func (r *Registry) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for _, p := range r.points {
		if p.Category == "" {
			continue
		}
		if _, ok := seen[p.Category]; ok {
			continue
		}
		seen[p.Category] = struct{}{}
		out = append(out, p.Category)
	}
	sort.Strings(out)
	return out
}

// IsDataSourceAllowed reports whether name may be referenced by workflows
// bound to the point: literally allow-listed, or the allow-list is "*".
// Unknown point codes allow nothing.
func (r *Registry) IsDataSourceAllowed(code, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.points[code]
	if !ok {
		return false
	}
	if p.allowsAll() {
		return true
	}
	for _, n := range p.AllowedDataSources {
		if n == name {
			return true
		}
	}
	return false
}

// AllowedDataSourceDetails merges the point's allow-list with registry
// metadata. Names allowed but not yet registered are still listed, flagged
// with a warning. A wildcard allow-list expands to every registered
// datasource.
func (r *Registry) AllowedDataSourceDetails(code string, sources *datasources.Registry) ([]schema.AllowedDataSourceDetail, error) {
	p, err := r.Get(code)
	if err != nil {
		return nil, err
	}

	names := p.AllowedDataSources
	if p.allowsAll() {
		infos := sources.List()
		names = make([]string, 0, len(infos))
		for _, info := range infos {
			names = append(names, info.Name)
		}
	}

	out := make([]schema.AllowedDataSourceDetail, 0, len(names))
	for _, name := range names {
		detail := schema.AllowedDataSourceDetail{Name: name}
		if ds, dErr := sources.Get(name); dErr == nil {
			info := ds.Info()
			detail.Registered = true
			detail.Parameters = info.Parameters
			detail.ReturnKind = info.ReturnKind
			detail.Description = info.Description
		} else {
			detail.Warning = "datasource is allowed at this point but not registered"
		}
		out = append(out, detail)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Count returns the number of registered points.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.points)
}
