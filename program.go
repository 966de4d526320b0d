package nodegraph

import (
	"encoding/binary"
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/naga"

	"github.com/gogpu/nodegraph/driver"
)

// spirvMagic is the first word of a SPIR-V module.
const spirvMagic = 0x07230203

// Program is a compute program registered under a name. The device object
// is created on first use by a node.
type Program struct {
	name  string
	spirv []uint32
	wgsl  string

	id      driver.ProgramID
	created bool
}

// Name returns the program name.
func (p *Program) Name() string { return p.name }

// SPIRV returns the SPIR-V words, or nil for WGSL-only programs.
func (p *Program) SPIRV() []uint32 { return p.spirv }

// WGSL returns the WGSL source, or "" for SPIR-V programs.
func (p *Program) WGSL() string { return p.wgsl }

func (p *Program) String() string {
	if p.spirv != nil {
		return fmt.Sprintf("Program[%s, %d SPIR-V words]", p.name, len(p.spirv))
	}
	return fmt.Sprintf("Program[%s, WGSL]", p.name)
}

var (
	builtinProgramsMu sync.Mutex
	builtinPrograms   = map[string]string{}
)

// RegisterBuiltinProgram registers WGSL source copied into every Session
// created afterwards. It is meant to be called from init functions.
func RegisterBuiltinProgram(name, wgsl string) {
	builtinProgramsMu.Lock()
	defer builtinProgramsMu.Unlock()
	builtinPrograms[name] = wgsl
}

type programTable struct {
	mu       sync.Mutex
	programs map[string]*Program
}

func newProgramTable() *programTable {
	t := &programTable{programs: make(map[string]*Program)}
	builtinProgramsMu.Lock()
	for name, src := range builtinPrograms {
		t.programs[name] = &Program{name: name, wgsl: src}
	}
	builtinProgramsMu.Unlock()
	return t
}

func (t *programTable) put(s *Session, p *Program) {
	t.mu.Lock()
	old := t.programs[p.name]
	t.programs[p.name] = p
	t.mu.Unlock()
	if old != nil && old.created {
		s.dev.DestroyProgram(old.id)
	}
}

func (t *programTable) release(dev driver.Device) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.programs {
		if p.created {
			dev.DestroyProgram(p.id)
			p.created = false
		}
	}
}

// SetProgram registers code under name. Code starting with the SPIR-V magic
// number is read as little-endian SPIR-V words; anything else as WGSL text.
// A program already registered under name is replaced.
func (s *Session) SetProgram(name string, code []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if len(code) == 0 {
		return fmt.Errorf("nodegraph: program %q: empty code", name)
	}
	p := &Program{name: name}
	if len(code) >= 4 && binary.LittleEndian.Uint32(code) == spirvMagic {
		if len(code)%4 != 0 {
			return fmt.Errorf("nodegraph: program %q: SPIR-V size %d is not a multiple of 4", name, len(code))
		}
		p.spirv = spirvWords(code)
	} else {
		p.wgsl = string(code)
	}
	s.programs.put(s, p)
	Logger().Debug("nodegraph: program registered", "name", name, "spirv", p.spirv != nil)
	return nil
}

// CompileProgram compiles WGSL to SPIR-V and registers both under name.
func (s *Session) CompileProgram(name, wgsl string) (*Program, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	code, err := naga.Compile(wgsl)
	if err != nil {
		return nil, fmt.Errorf("nodegraph: compile program %q: %w", name, err)
	}
	p := &Program{name: name, spirv: spirvWords(code), wgsl: wgsl}
	s.programs.put(s, p)
	return p, nil
}

// GetProgram returns the named program, creating its device object on
// first use.
func (s *Session) GetProgram(name string) (*Program, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	s.programs.mu.Lock()
	defer s.programs.mu.Unlock()
	p, ok := s.programs.programs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProgram, name)
	}
	if !p.created {
		id, err := s.dev.CreateProgram(&driver.ProgramDescriptor{Label: name, SPIRV: p.spirv, WGSL: p.wgsl})
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrUnknownProgram, name, err)
		}
		p.id = id
		p.created = true
	}
	return p, nil
}

// HasProgram reports whether a program is registered under name.
func (s *Session) HasProgram(name string) bool {
	s.programs.mu.Lock()
	defer s.programs.mu.Unlock()
	_, ok := s.programs.programs[name]
	return ok
}

// Programs returns the registered program names, sorted.
func (s *Session) Programs() []string {
	s.programs.mu.Lock()
	names := make([]string, 0, len(s.programs.programs))
	for name := range s.programs.programs {
		names = append(names, name)
	}
	s.programs.mu.Unlock()
	slices.Sort(names)
	return names
}

// spirvWords converts little-endian bytes to SPIR-V words.
func spirvWords(code []byte) []uint32 {
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	return words
}
