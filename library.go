package nodegraph

import (
	"io"
	"path"
	"slices"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// LibraryManifestName is the optional manifest entry of a library archive.
const LibraryManifestName = "library.yaml"

// LibraryManifest names a library and the entries it loads. Empty lists
// load every entry of the matching kind.
type LibraryManifest struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Scripts     []string `yaml:"scripts,omitempty"`
	Programs    []string `yaml:"programs,omitempty"`
}

// Library reports what LoadLibrary registered.
type Library struct {
	Manifest LibraryManifest
	Programs []string
	Builders []string
}

// LoadLibrary loads a zip archive of programs and builder scripts.
func (s *Session) LoadLibrary(file string) error {
	_, err := s.LoadLibraryFile(file)
	return err
}

// LoadLibraryFile is LoadLibrary returning the loaded entries.
func (s *Session) LoadLibraryFile(file string) (*Library, error) {
	rc, err := zip.OpenReader(file)
	if err != nil {
		return nil, errors.Wrapf(err, "open library %s", file)
	}
	defer rc.Close()
	lib, err := s.loadLibrary(&rc.Reader)
	if err != nil {
		return nil, errors.Wrapf(err, "library %s", file)
	}
	return lib, nil
}

// LoadLibraryReader loads a library archive of the given size from r.
//
// Entries ending in .spv or .wgsl are registered as programs named by their
// path without extension; .hcl entries are loaded as builder scripts after
// all programs.
func (s *Session) LoadLibraryReader(r io.ReaderAt, size int64) (*Library, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, errors.Wrap(err, "read library")
	}
	return s.loadLibrary(zr)
}

func (s *Session) loadLibrary(zr *zip.Reader) (*Library, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	entries := make(map[string]*zip.File, len(zr.File))
	var names []string
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		entries[f.Name] = f
		names = append(names, f.Name)
	}
	slices.Sort(names)

	lib := &Library{}
	if f, ok := entries[LibraryManifestName]; ok {
		data, err := readZipEntry(f)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &lib.Manifest); err != nil {
			return nil, errors.Wrapf(ErrInvalidScript, "manifest: %v", err)
		}
	}

	var scripts, programs []string
	for _, name := range names {
		switch path.Ext(name) {
		case ".hcl":
			scripts = append(scripts, name)
		case ".spv", ".wgsl":
			programs = append(programs, name)
		}
	}
	if len(lib.Manifest.Programs) > 0 {
		programs = lib.Manifest.Programs
	}
	if len(lib.Manifest.Scripts) > 0 {
		scripts = lib.Manifest.Scripts
	}

	for _, name := range programs {
		f, ok := entries[name]
		if !ok {
			return nil, errors.Wrapf(ErrInvalidScript, "manifest names missing entry %q", name)
		}
		code, err := readZipEntry(f)
		if err != nil {
			return nil, err
		}
		progName := strings.TrimSuffix(name, path.Ext(name))
		if err := s.SetProgram(progName, code); err != nil {
			return nil, errors.Wrapf(err, "program %s", name)
		}
		lib.Programs = append(lib.Programs, progName)
	}

	for _, name := range scripts {
		f, ok := entries[name]
		if !ok {
			return nil, errors.Wrapf(ErrInvalidScript, "manifest names missing entry %q", name)
		}
		src, err := readZipEntry(f)
		if err != nil {
			return nil, err
		}
		builders, err := ParseBuilderScript(name, src)
		if err != nil {
			return nil, err
		}
		for _, b := range builders {
			if err := s.RegisterBuilder(b); err != nil {
				return nil, err
			}
			lib.Builders = append(lib.Builders, b.Name())
		}
	}

	Logger().Info("nodegraph: library loaded", "name", lib.Manifest.Name,
		"programs", len(lib.Programs), "builders", len(lib.Builders))
	return lib, nil
}

func readZipEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, errors.Wrapf(err, "open entry %s", f.Name)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.Wrapf(err, "read entry %s", f.Name)
	}
	return data, nil
}
