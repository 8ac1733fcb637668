package flowtype

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
)

// LoadResult holds the declarations found in a CUE source set.
type LoadResult struct {
	Declarations []Declaration
	FileCount    int
}

// Registry resolves the loaded declarations.
func (r *LoadResult) Registry() (*Registry, error) {
	return NewRegistry(r.Declarations...)
}

// CompileString compiles a single CUE document and extracts its flow
// declarations. filename is used only for error positions.
func CompileString(src, filename string) (*LoadResult, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	decls, err := extract(v)
	if err != nil {
		return nil, err
	}
	return &LoadResult{Declarations: decls, FileCount: 1}, nil
}

// LoadDir loads every .cue file in dir as one CUE instance and extracts its
// flow declarations.
func LoadDir(dir string) (*LoadResult, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("flow types directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no CUE files found in %s", dir)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("loading CUE files: %w", inst.Err)
	}

	v := cuecontext.New().BuildInstance(inst)
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	decls, err := extract(v)
	if err != nil {
		return nil, err
	}
	return &LoadResult{Declarations: decls, FileCount: len(files)}, nil
}

// FindCUEFiles walks dir and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func extract(v cue.Value) ([]Declaration, error) {
	flowsVal := v.LookupPath(cue.ParsePath("flow"))
	if !flowsVal.Exists() {
		return []Declaration{}, nil
	}

	iter, err := flowsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	decls := []Declaration{}
	for iter.Next() {
		decl, err := CompileFlow(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		decls = append(decls, *decl)
	}
	return decls, nil
}
