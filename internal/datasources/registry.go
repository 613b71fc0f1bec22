package datasources

import (
	"context"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/vetgate/vetgate/pkg/schema"
)

// Callable is the canonical datasource function shape: it receives the
// per-call parameter map and produces the value.
type Callable func(ctx context.Context, params map[string]any) (any, error)

// DataSource pairs registered metadata with its bound callable.
type DataSource struct {
	info schema.DataSourceInfo
	call Callable
}

// Info returns the datasource metadata. The callable is never exposed.
func (d *DataSource) Info() schema.DataSourceInfo { return d.info }

// Name returns the unique datasource name.
func (d *DataSource) Name() string { return d.info.Name }

// Registry is the catalog of named, parameterized value-producing functions.
// Registration happens once at process start; afterwards the registry is
// read-only, so concurrent readers need no coordination beyond the RWMutex.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]*DataSource
	logger  *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sources: make(map[string]*DataSource),
		logger:  logger,
	}
}

// Register adds a datasource to the catalog. fn is either a Callable or a
// positional function whose input arity equals the declared parameter list
// (inputs are bound from the parameter map in declared order). Duplicate
// names and signature mismatches are rejected here, never at use time.
func (r *Registry) Register(name string, parameters []string, kind schema.ReturnKind, description string, fn any) error {
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "datasource name is empty")
	}
	if !kind.Valid() {
		return schema.NewErrorf(schema.ErrCodeValidation, "datasource %q: unknown return kind %q", name, kind)
	}

	call, err := adaptCallable(name, parameters, fn)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(parameters))
	for _, p := range parameters {
		if p == "" {
			return schema.NewErrorf(schema.ErrCodeSignatureMismatch,
				"datasource %q: empty parameter name", name)
		}
		if _, dup := seen[p]; dup {
			return schema.NewErrorf(schema.ErrCodeSignatureMismatch,
				"datasource %q: duplicate parameter %q", name, p)
		}
		seen[p] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sources[name]; exists {
		return schema.NewErrorf(schema.ErrCodeDuplicateDataSource,
			"datasource %q already registered", name)
	}

	r.sources[name] = &DataSource{
		info: schema.DataSourceInfo{
			Name:        name,
			Parameters:  append([]string(nil), parameters...),
			ReturnKind:  kind,
			Description: description,
		},
		call: call,
	}
	r.logger.Debug("datasource registered",
		slog.String("name", name),
		slog.String("return_kind", string(kind)),
	)
	return nil
}

// adaptCallable validates fn against the declared parameter list and wraps it
// into the canonical Callable shape.
func adaptCallable(name string, parameters []string, fn any) (Callable, error) {
	if fn == nil {
		return nil, schema.NewErrorf(schema.ErrCodeSignatureMismatch,
			"datasource %q: callable is nil", name)
	}
	if c, ok := fn.(Callable); ok {
		return c, nil
	}
	if c, ok := fn.(func(context.Context, map[string]any) (any, error)); ok {
		return Callable(c), nil
	}

	v := reflect.ValueOf(fn)
	t := v.Type()
	if t.Kind() != reflect.Func {
		return nil, schema.NewErrorf(schema.ErrCodeSignatureMismatch,
			"datasource %q: callable must be a function, got %T", name, fn)
	}
	if t.IsVariadic() {
		return nil, schema.NewErrorf(schema.ErrCodeSignatureMismatch,
			"datasource %q: variadic callables are not supported", name)
	}
	if t.NumIn() != len(parameters) {
		return nil, schema.NewErrorf(schema.ErrCodeSignatureMismatch,
			"datasource %q: callable takes %d argument(s) but %d parameter name(s) declared",
			name, t.NumIn(), len(parameters))
	}
	if t.NumOut() == 0 || t.NumOut() > 2 {
		return nil, schema.NewErrorf(schema.ErrCodeSignatureMismatch,
			"datasource %q: callable must return a value and an optional error", name)
	}
	if t.NumOut() == 2 && t.Out(1) != reflect.TypeFor[error]() {
		return nil, schema.NewErrorf(schema.ErrCodeSignatureMismatch,
			"datasource %q: second return value must be error", name)
	}

	declared := append([]string(nil), parameters...)
	return func(_ context.Context, params map[string]any) (any, error) {
		args := make([]reflect.Value, len(declared))
		for i, pname := range declared {
			in := t.In(i)
			raw, ok := params[pname]
			if !ok || raw == nil {
				args[i] = reflect.Zero(in)
				continue
			}
			rv := reflect.ValueOf(raw)
			switch {
			case rv.Type().AssignableTo(in):
				args[i] = rv
			case rv.Type().ConvertibleTo(in):
				args[i] = rv.Convert(in)
			default:
				return nil, schema.NewErrorf(schema.ErrCodeParameter,
					"datasource %q: parameter %q has type %T, want %s", name, pname, raw, in)
			}
		}
		out := v.Call(args)
		if len(out) == 2 && !out[1].IsNil() {
			return nil, out[1].Interface().(error)
		}
		return out[0].Interface(), nil
	}, nil
}

// Get retrieves a datasource by name.
func (r *Registry) Get(name string) (*DataSource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ds, ok := r.sources[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeDataSourceNotFound,
			"datasource %q not registered", name)
	}
	return ds, nil
}

// Has checks if a datasource is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sources[name]
	return ok
}

// ValidateParams checks a provided parameter map against the declared list,
// flagging both missing and unexpected keys.
func (r *Registry) ValidateParams(name string, provided map[string]any) error {
	ds, err := r.Get(name)
	if err != nil {
		return err
	}

	declared := make(map[string]struct{}, len(ds.info.Parameters))
	var missing []string
	for _, p := range ds.info.Parameters {
		declared[p] = struct{}{}
		if _, ok := provided[p]; !ok {
			missing = append(missing, p)
		}
	}
	var unexpected []string
	for k := range provided {
		if _, ok := declared[k]; !ok {
			unexpected = append(unexpected, k)
		}
	}
	sort.Strings(unexpected)

	if len(missing) == 0 && len(unexpected) == 0 {
		return nil
	}

	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(missing, ", "))
	}
	if len(unexpected) > 0 {
		parts = append(parts, "unexpected: "+strings.Join(unexpected, ", "))
	}
	return schema.NewErrorf(schema.ErrCodeParameter,
		"datasource %q: invalid parameters (%s)", name, strings.Join(parts, "; ")).
		WithDetails(map[string]any{"missing": missing, "unexpected": unexpected})
}

// Call invokes the bound callable. Any failure raised by the callable itself,
// including a panic, is wrapped into an invocation error naming the source.
func (r *Registry) Call(ctx context.Context, name string, params map[string]any) (out any, err error) {
	ds, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if params == nil {
		params = map[string]any{}
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = schema.NewErrorf(schema.ErrCodeInvocation,
				"datasource %q panicked: %v", name, rec)
		}
	}()

	out, callErr := ds.call(ctx, params)
	if callErr != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvocation,
			"datasource %q failed: %s", name, callErr.Error()).WithCause(callErr)
	}
	return out, nil
}

// List returns the metadata of every registered datasource, sorted by name.
// The callables themselves are never exposed.
func (r *Registry) List() []schema.DataSourceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]schema.DataSourceInfo, 0, len(r.sources))
	for _, ds := range r.sources {
		infos = append(infos, ds.info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// Count returns the number of registered datasources.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}
