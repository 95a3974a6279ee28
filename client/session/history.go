package session

// maxHistory bounds the snapshot arena. Whole-state snapshots are cheap at
// the expected scale (tens of elements); the cap keeps a marathon editing
// session from growing without bound.
const maxHistory = 100

// The undo history is an arena of whole-state snapshots with a cursor.
// Undo and redo move the cursor; they never replay inverse operations.
// Mutations always replace the state value rather than editing it in
// place, so stored snapshots stay immutable.

// recordLocked commits the current state as a new snapshot, discarding any
// redo tail. Callers hold s.mu.
func (s *Session) recordLocked() {
	s.history = append(s.history[:s.cursor+1], s.state)
	if len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}
	s.cursor = len(s.history) - 1
}

// resetHistoryLocked seeds the arena with the current state as the only
// snapshot. Used after load and after adopting a remote document.
func (s *Session) resetHistoryLocked() {
	s.history = s.history[:0]
	s.history = append(s.history, s.state)
	s.cursor = 0
}

func (s *Session) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor > 0
}

func (s *Session) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor < len(s.history)-1
}

// Undo steps the cursor back one snapshot. Reports whether anything moved.
func (s *Session) Undo() bool {
	s.mu.Lock()
	if s.cursor <= 0 {
		s.mu.Unlock()
		return false
	}
	s.cursor--
	s.state = s.history[s.cursor]
	s.scheduleLocked()
	bound := s.project != ""
	s.mu.Unlock()

	if bound && s.sync != nil {
		s.sync.MarkDirty()
	}
	return true
}

// Redo steps the cursor forward one snapshot. Reports whether anything moved.
func (s *Session) Redo() bool {
	s.mu.Lock()
	if s.cursor >= len(s.history)-1 {
		s.mu.Unlock()
		return false
	}
	s.cursor++
	s.state = s.history[s.cursor]
	s.scheduleLocked()
	bound := s.project != ""
	s.mu.Unlock()

	if bound && s.sync != nil {
		s.sync.MarkDirty()
	}
	return true
}
