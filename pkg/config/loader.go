package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/go-playground/validator/v10"
)

// Severities of a ValidationError.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Loader parses CUE configuration files and validates them against the
// built-in schemas.
type Loader struct {
	schemas   *SchemaRegistry
	validator *validator.Validate
}

// NewLoader creates a new loader.
func NewLoader() *Loader {
	return &Loader{
		schemas:   NewSchemaRegistry(),
		validator: validator.New(),
	}
}

// Schemas returns the loader's schema registry.
func (l *Loader) Schemas() *SchemaRegistry {
	return l.schemas
}

// LoadFile loads configuration from CUE files or directories. Values from
// every source are unified. Problems in the content are reported in
// File.Errors; the returned error is reserved for unreadable sources.
func (l *Loader) LoadFile(ctx context.Context, paths ...string) (*File, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	var (
		value       cue.Value
		sourceFiles []string
		loadErrors  []ValidationError
	)

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", path, err)
		}

		var (
			val   cue.Value
			files []string
			errs  []ValidationError
		)
		if info.IsDir() {
			val, files, errs = l.loadDirectory(path)
		} else {
			val, errs = l.loadFile(path)
			files = []string{path}
		}

		loadErrors = append(loadErrors, errs...)
		sourceFiles = append(sourceFiles, files...)
		if val.Exists() {
			if value.Exists() {
				value = value.Unify(val)
			} else {
				value = val
			}
		}
	}

	if len(loadErrors) > 0 {
		return &File{SourceFiles: sourceFiles, ParsedAt: time.Now(), Errors: loadErrors}, nil
	}
	if err := value.Err(); err != nil {
		return &File{SourceFiles: sourceFiles, ParsedAt: time.Now(), Errors: convertCUEErrors(err)}, nil
	}

	return l.extract(value, sourceFiles), nil
}

// LoadInline parses configuration from CUE source text.
func (l *Loader) LoadInline(_ context.Context, content string) (*File, error) {
	val := l.schemas.Context().CompileString(content, cue.Filename("inline"))
	if err := val.Err(); err != nil {
		return &File{
			SourceFiles: []string{"inline"},
			ParsedAt:    time.Now(),
			Errors:      convertCUEErrors(err),
		}, nil
	}

	return l.extract(val, []string{"inline"}), nil
}

// loadDirectory loads a directory as a CUE package.
func (l *Loader) loadDirectory(dir string) (cue.Value, []string, []ValidationError) {
	instances := load.Instances([]string{dir}, nil)
	if len(instances) == 0 {
		return cue.Value{}, nil, []ValidationError{{
			File:     dir,
			Message:  "no CUE files found",
			Severity: SeverityError,
		}}
	}

	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, nil, convertCUEErrors(inst.Err)
	}

	val := l.schemas.Context().BuildInstance(inst)
	if err := val.Err(); err != nil {
		return cue.Value{}, nil, convertCUEErrors(err)
	}

	var files []string
	for _, file := range inst.Files {
		if file.Filename != "" {
			files = append(files, file.Filename)
		}
	}

	return val, files, nil
}

// loadFile loads a single CUE file.
func (l *Loader) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{{
			File:     path,
			Message:  fmt.Sprintf("failed to read file: %v", err),
			Severity: SeverityError,
		}}
	}

	val := l.schemas.Context().CompileString(string(content), cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, convertCUEErrors(err)
	}

	return val, nil
}

// extract decodes settings and modules from a unified value.
func (l *Loader) extract(val cue.Value, sourceFiles []string) *File {
	file := &File{
		SourceFiles: sourceFiles,
		ParsedAt:    time.Now(),
	}

	settingsVal := val.LookupPath(cue.ParsePath("settings"))
	if !settingsVal.Exists() {
		settingsVal = l.schemas.Context().CompileString("{}")
	}
	file.Errors = append(file.Errors, l.extractSettings(settingsVal, &file.Settings)...)

	modulesVal := val.LookupPath(cue.ParsePath("modules"))
	if modulesVal.Exists() {
		switch modulesVal.IncompleteKind() {
		case cue.StructKind:
			iter, err := modulesVal.Fields()
			if err != nil {
				file.Errors = append(file.Errors, errorAt("modules", fmt.Sprintf("failed to iterate modules: %v", err)))
				break
			}
			for iter.Next() {
				path := fmt.Sprintf("modules.%s", iter.Selector())
				m, errs := l.extractModule(iter.Selector().Unquoted(), iter.Value(), path)
				file.Errors = append(file.Errors, errs...)
				if len(errs) == 0 {
					file.Modules = append(file.Modules, m)
				}
			}
		case cue.ListKind:
			list, err := modulesVal.List()
			if err != nil {
				file.Errors = append(file.Errors, errorAt("modules", fmt.Sprintf("failed to list modules: %v", err)))
				break
			}
			for idx := 0; list.Next(); idx++ {
				m, errs := l.extractModule("", list.Value(), fmt.Sprintf("modules[%d]", idx))
				file.Errors = append(file.Errors, errs...)
				if len(errs) == 0 {
					file.Modules = append(file.Modules, m)
				}
			}
		default:
			file.Errors = append(file.Errors, errorAt("modules", "modules must be a list or a struct keyed by module id"))
		}
	}

	file.Errors = append(file.Errors, checkModules(file.Modules)...)
	return file
}

func (l *Loader) extractSettings(val cue.Value, out *Settings) []ValidationError {
	unified, err := l.schemas.Apply(SchemaSettings, val)
	if err != nil {
		return []ValidationError{errorAt("settings", err.Error())}
	}
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return convertCUEErrors(err)
	}
	if err := unified.Decode(out); err != nil {
		return []ValidationError{errorAt("settings", fmt.Sprintf("failed to decode settings: %v", err))}
	}

	var errs []ValidationError
	if err := l.validator.Struct(out); err != nil {
		errs = append(errs, convertValidatorErrors("settings", err)...)
	}
	if _, err := time.ParseDuration(out.Normalizer.Timeout); err != nil {
		errs = append(errs, errorAt("settings.normalizer.timeout", err.Error()))
	}
	if _, err := time.ParseDuration(out.Watch.Debounce); err != nil {
		errs = append(errs, errorAt("settings.watch.debounce", err.Error()))
	}
	return errs
}

// extractModule decodes one module. A module keyed by id may omit its id field.
func (l *Loader) extractModule(key string, val cue.Value, path string) (ModuleConfig, []ValidationError) {
	var m ModuleConfig

	if key != "" && !val.LookupPath(cue.ParsePath("id")).Exists() {
		val = val.FillPath(cue.ParsePath("id"), key)
	}

	unified, err := l.schemas.Apply(SchemaModule, val)
	if err != nil {
		return m, []ValidationError{errorAt(path, err.Error())}
	}
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		errs := convertCUEErrors(err)
		for i := range errs {
			if errs[i].Path == "" {
				errs[i].Path = path
			}
		}
		return m, errs
	}
	if err := unified.Decode(&m); err != nil {
		return m, []ValidationError{errorAt(path, fmt.Sprintf("failed to decode module: %v", err))}
	}
	if key != "" && m.ID != key {
		return m, []ValidationError{errorAt(path, fmt.Sprintf("module id %q does not match its key", m.ID))}
	}
	if err := l.validator.Struct(m); err != nil {
		return m, convertValidatorErrors(path, err)
	}

	return m, nil
}

// checkModules rejects duplicate ids and warns about dependencies on
// modules that are not installed.
func checkModules(modules []ModuleConfig) []ValidationError {
	var errs []ValidationError

	seen := make(map[string]bool, len(modules))
	for _, m := range modules {
		if seen[m.ID] {
			errs = append(errs, errorAt("modules."+m.ID, fmt.Sprintf("duplicate module id %q", m.ID)))
		}
		seen[m.ID] = true
	}

	for _, m := range modules {
		for _, dep := range m.Dependencies {
			if !seen[dep] {
				errs = append(errs, ValidationError{
					Path:     fmt.Sprintf("modules.%s.dependencies", m.ID),
					Message:  fmt.Sprintf("dependency %q is not installed", dep),
					Severity: SeverityWarning,
				})
			}
		}
	}

	return errs
}

func errorAt(path, msg string) ValidationError {
	return ValidationError{Path: path, Message: msg, Severity: SeverityError}
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError

	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{
			Message:  cueerrors.Details(e, nil),
			Severity: SeverityError,
		}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		if p := e.Path(); len(p) > 0 {
			ve.Path = strings.Join(p, ".")
		}
		out = append(out, ve)
	}

	return out
}

// convertValidatorErrors converts struct tag failures, prefixing each
// field path with prefix.
func convertValidatorErrors(prefix string, err error) []ValidationError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []ValidationError{errorAt(prefix, err.Error())}
	}

	out := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("failed on the %q rule", fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("failed on the %q rule (%s)", fe.Tag(), fe.Param())
		}
		out = append(out, errorAt(prefix+"."+fe.Field(), msg))
	}
	return out
}
