package catalog

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
)

// Load error codes, shared with the CLI output.
const (
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeInvalid     = "E101" // Catalog does not match the schema
)

// LoadError is a failure to read or compile a catalog directory.
type LoadError struct {
	Code    string
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Loaded is a compiled catalog together with where it came from.
type Loaded struct {
	*Catalog
	Dir       string
	FileCount int
}

// Load reads every CUE file of the package in dir and compiles the
// resulting value. Relative dataset files are resolved against dir.
func Load(dir string) (*Loaded, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("catalog directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing catalog directory: %v", err), Err: err}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err), Err: err}
	}
	if len(files) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	if err := instances[0].Err; err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", err), Err: err}
	}

	value := cuecontext.New().BuildInstance(instances[0])
	if err := value.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err), Err: err}
	}
	c, err := Compile(value)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeInvalid, Message: err.Error(), Err: err}
	}
	return &Loaded{Catalog: c, Dir: dir, FileCount: len(files)}, nil
}

// LoadString compiles a single catalog source. Dataset files are resolved
// against the working directory.
func LoadString(filename, src string) (*Loaded, error) {
	value := cuecontext.New().CompileString(src, cue.Filename(filename))
	c, err := Compile(value)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeInvalid, Message: err.Error(), Err: err}
	}
	return &Loaded{Catalog: c, FileCount: 1}, nil
}

// FindCUEFiles walks the directory and returns all .cue file paths.
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
