package compiler

import "fmt"

// Local is a block-scoped variable occupying one stack slot of the
// enclosing function's frame. Depth -1 marks a declared-but-uninitialized
// variable so its own initializer cannot read it.
type Local struct {
	Name       string
	Depth      int
	IsCaptured bool
}

// UpvalueRef describes one captured variable of a function: either a
// local slot of the immediately enclosing function (IsLocal) or an
// upvalue index of that function.
type UpvalueRef struct {
	Index   uint8
	IsLocal bool
}

// ScopeManager tracks local slots and upvalue capture for one function
// being compiled. Managers chain through Parent, mirroring the lexical
// nesting of functions.
type ScopeManager struct {
	Parent   *ScopeManager
	Locals   []Local
	Upvalues []UpvalueRef
	depth    int
}

// NewScopeManager starts scope tracking for a function body. Slot 0 of
// every frame is reserved: methods keep their receiver there as "self",
// other functions keep the callee value there under an unnameable slot.
func NewScopeManager(parent *ScopeManager, isMethod bool) *ScopeManager {
	s := &ScopeManager{Parent: parent}
	if isMethod {
		s.Locals = append(s.Locals, Local{Name: "self", Depth: 0})
	} else {
		s.Locals = append(s.Locals, Local{Name: "", Depth: -1})
	}
	return s
}

func (s *ScopeManager) Depth() int { return s.depth }

func (s *ScopeManager) BeginScope() { s.depth++ }

// EndScope drops the locals of the innermost scope, calling emit for
// each so the compiler can pop the slot or close its upvalue.
func (s *ScopeManager) EndScope(emit func(captured bool)) {
	s.depth--
	for len(s.Locals) > 0 && s.Locals[len(s.Locals)-1].Depth > s.depth {
		if emit != nil {
			emit(s.Locals[len(s.Locals)-1].IsCaptured)
		}
		s.Locals = s.Locals[:len(s.Locals)-1]
	}
}

// Declare reserves a slot for a new local. Globals (depth 0) are not
// slot-allocated and pass through. Redeclaring a name within the same
// scope is an error; shadowing an outer scope is fine.
func (s *ScopeManager) Declare(name string) error {
	if s.depth == 0 {
		return nil
	}
	for i := len(s.Locals) - 1; i >= 0; i-- {
		if s.Locals[i].Depth != -1 && s.Locals[i].Depth < s.depth {
			break
		}
		if s.Locals[i].Name == name {
			return fmt.Errorf("Variable with this name already declared in this scope: %s", name)
		}
	}
	if len(s.Locals) >= 256 {
		return fmt.Errorf("Too many local variables in function.")
	}
	s.Locals = append(s.Locals, Local{Name: name, Depth: -1})
	return nil
}

// MarkInitialized makes the most recent declaration resolvable.
func (s *ScopeManager) MarkInitialized() {
	if s.depth == 0 {
		return
	}
	s.Locals[len(s.Locals)-1].Depth = s.depth
}

// ResolveLocal returns the slot of a local, or -1 when the name is not
// a local of this function. Reading a variable inside its own
// initializer is an error.
func (s *ScopeManager) ResolveLocal(name string) (int, error) {
	for i := len(s.Locals) - 1; i >= 0; i-- {
		if s.Locals[i].Name == name {
			if s.Locals[i].Depth != -1 {
				return i, nil
			}
			return -1, fmt.Errorf("Cannot read local variable in its own initializer: %s", name)
		}
	}
	return -1, nil
}

// ResolveInScope returns the slot of an initialized local declared in
// the innermost scope only, or -1. Unlike ResolveLocal it never sees
// outer scopes, so callers can tell rebinding from shadowing.
func (s *ScopeManager) ResolveInScope(name string) int {
	for i := len(s.Locals) - 1; i >= 0; i-- {
		if s.Locals[i].Depth != -1 && s.Locals[i].Depth < s.depth {
			break
		}
		if s.Locals[i].Name == name && s.Locals[i].Depth == s.depth {
			return i
		}
	}
	return -1
}

func (s *ScopeManager) addUpvalue(index uint8, isLocal bool) (int, error) {
	for i, uv := range s.Upvalues {
		if uv.Index == index && uv.IsLocal == isLocal {
			return i, nil
		}
	}
	if len(s.Upvalues) == 255 {
		return -1, fmt.Errorf("Too many closure upvalues")
	}
	s.Upvalues = append(s.Upvalues, UpvalueRef{Index: index, IsLocal: isLocal})
	return len(s.Upvalues) - 1, nil
}

// ResolveUpvalue finds name in an enclosing function, registering the
// capture chain on the way. Returns -1 when the name is not defined in
// any enclosing function, which makes it a global reference.
func (s *ScopeManager) ResolveUpvalue(name string) (int, error) {
	if s.Parent == nil {
		return -1, nil
	}

	local, err := s.Parent.ResolveLocal(name)
	if err != nil {
		return -1, err
	}
	if local != -1 {
		s.Parent.Locals[local].IsCaptured = true
		return s.addUpvalue(uint8(local), true)
	}

	upvalue, err := s.Parent.ResolveUpvalue(name)
	if err != nil {
		return -1, err
	}
	if upvalue != -1 {
		return s.addUpvalue(uint8(upvalue), false)
	}

	return -1, nil
}

// CanResolve reports whether name is an initialized local or captured
// variable of this or any enclosing function. Unlike ResolveUpvalue it
// records nothing, so it is safe to use for classification probes.
func (s *ScopeManager) CanResolve(name string) bool {
	for sm := s; sm != nil; sm = sm.Parent {
		for i := len(sm.Locals) - 1; i >= 0; i-- {
			if sm.Locals[i].Name == name && sm.Locals[i].Depth != -1 {
				return true
			}
		}
	}
	return false
}
