// Package schema compiles the job request JSON schema and validates messages against it.
package schema

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	// Scheme is the URL scheme used to address schema documents in the schema directory
	Scheme = "json-schema"

	rootDocument = "api.json"
)

// ErrUnsupportedScheme is returned when a $ref points outside the local schema directory
var ErrUnsupportedScheme = errors.New("schema reference scheme is not supported")

// Load reads api.json from dir and compiles it.
// Relative references resolve to other documents in the same directory.
func Load(dir string) (*Validator, error) {
	if _, err := os.Stat(filepath.Join(dir, rootDocument)); err != nil {
		return nil, fmt.Errorf("failed to read root schema: %w", err)
	}

	loader := &localLoader{dir: dir}
	compiler := jsonschema.NewCompiler()
	compiler.LoadURL = loader.load

	compiled, err := compiler.Compile(Scheme + ":///" + rootDocument)
	if loader.rejected != "" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, loader.rejected)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema in %s: %w", dir, err)
	}

	return &Validator{schema: compiled}, nil
}

// localLoader maps json-schema:///<file> URLs onto files in the schema directory
type localLoader struct {
	dir      string
	rejected string
}

func (l *localLoader) load(s string) (io.ReadCloser, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	if u.Scheme != Scheme {
		if l.rejected == "" {
			l.rejected = s
		}
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, s)
	}

	name := strings.TrimPrefix(u.Path, "/")
	return os.Open(filepath.Join(l.dir, filepath.FromSlash(name)))
}
