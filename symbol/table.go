// Package symbol caches the original implementations of interposed
// functions. Each name is looked up once for the life of the process.
package symbol

import (
	"reflect"
	"sync"

	"github.com/pkg/errors"
)

// Loader fills out, a pointer to a function variable, with the named
// symbol. *dl.DL from github.com/rainycape/dl satisfies it.
type Loader interface {
	Sym(name string, out interface{}) error
}

type Table struct {
	loader Loader

	mu      sync.Mutex
	entries map[key]*entry
	lookups int
}

// key is the symbol name and the function type it is bound to. A failed
// binding for one type does not affect another.
type key struct {
	name string
	typ  reflect.Type
}

type entry struct {
	once sync.Once
	val  reflect.Value
	err  error
}

func NewTable(loader Loader) *Table {
	return &Table{loader: loader, entries: map[key]*entry{}}
}

// Resolve stores the original implementation of name into out. Concurrent
// first calls for the same name and type share a single lookup; failures
// are cached as well.
func (t *Table) Resolve(name string, out interface{}) error {
	dst := reflect.ValueOf(out)
	if dst.Kind() != reflect.Ptr || dst.IsNil() {
		return errors.Errorf("symbol %s: out must be a non-nil pointer, got %T", name, out)
	}

	typ := dst.Elem().Type()
	e := t.entry(key{name: name, typ: typ})
	e.once.Do(func() {
		t.mu.Lock()
		t.lookups++
		t.mu.Unlock()

		v := reflect.New(typ)
		err := t.loader.Sym(name, v.Interface())
		if err != nil {
			e.err = errors.Wrapf(err, "resolving %s", name)
			return
		}

		e.val = v.Elem()
		if e.val.Kind() == reflect.Func && e.val.IsNil() {
			e.err = errors.Errorf("resolving %s: loader returned nil", name)
		}
	})

	if e.err != nil {
		return e.err
	}

	dst.Elem().Set(e.val)
	return nil
}

// MustResolve is like Resolve but panics when the symbol cannot be found.
// Calling through a missing original is never attempted.
func (t *Table) MustResolve(name string, out interface{}) {
	err := t.Resolve(name, out)
	if err != nil {
		panic(errors.WithMessage(err, "rlarch: fatal"))
	}
}

// Lookups reports how many times the underlying loader was consulted.
func (t *Table) Lookups() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lookups
}

func (t *Table) entry(k key) *entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entries[k]
	if e == nil {
		e = &entry{}
		t.entries[k] = e
	}

	return e
}
