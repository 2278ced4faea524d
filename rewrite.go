package rlarch

import (
	"os"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

const RootEnv = "RLARCH_PREFIX"

// Prefixes are checked in order. Matching is byte-wise, so "/usrlocal"
// matches "/usr".
var Prefixes = []string{"/usr", "/etc", "/lib"}

type Translator struct {
	root string
	fs   afero.Fs
}

func NewTranslator(root string, fs afero.Fs) *Translator {
	return &Translator{root: root, fs: fs}
}

func (t *Translator) Root() (string, bool) {
	return t.root, t.root != ""
}

// RewritePath returns root+path for the first prefix match whose relocated
// file exists, and path unchanged otherwise.
func (t *Translator) RewritePath(path string) string {
	if t.root == "" {
		return path
	}

	for _, prefix := range Prefixes {
		if !strings.HasPrefix(path, prefix) {
			continue
		}

		candidate := t.root + path
		if t.exists(candidate) {
			return candidate
		}
	}

	return path
}

func (t *Translator) exists(path string) bool {
	_, err := t.fs.Stat(path)
	return err == nil
}

// LookupRoot reads the configured root. An empty value counts as unset.
func LookupRoot(lookup func(string) (string, bool)) (string, bool) {
	root, ok := lookup(RootEnv)
	if !ok || root == "" {
		return "", false
	}

	return root, true
}

var (
	envOnce       sync.Once
	envTranslator *Translator
)

// FromEnv returns the process-wide translator. The environment is read on
// first use only.
func FromEnv() *Translator {
	envOnce.Do(func() {
		root, _ := LookupRoot(os.LookupEnv)
		envTranslator = NewTranslator(root, afero.NewOsFs())
	})

	return envTranslator
}

func RewritePath(path string) string {
	return FromEnv().RewritePath(path)
}
