package state

// TasksByInitiator scans every project's task registry and returns every
// TaskRecord initiated by chatID, across the whole manager state. An
// O(total tasks) scan, fine at current scale; satisfies guard.TaskLister.
func (s *ManagerState) TasksByInitiator(chatID string) []*TaskRecord {
	var out []*TaskRecord
	for _, p := range s.Projects {
		for _, t := range p.Tasks {
			if t.InitiatorChatID == chatID {
				out = append(out, t)
			}
		}
	}
	return out
}
