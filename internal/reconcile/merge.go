package reconcile

import "github.com/matheus3301/smsdesk/internal/model"

// MergeWindow folds a freshly fetched window of recent messages into the
// existing timeline. Existing rows whose id appears in fresh are dropped,
// and the surviving rows are followed by fresh in its own order. Ids
// repeated within fresh are kept once.
func MergeWindow(existing, fresh []model.Message) []model.Message {
	window := make([]model.Message, 0, len(fresh))
	inWindow := make(map[string]struct{}, len(fresh))
	for _, m := range fresh {
		if _, ok := inWindow[m.ID]; ok {
			continue
		}
		inWindow[m.ID] = struct{}{}
		window = append(window, m)
	}

	out := make([]model.Message, 0, len(existing)+len(window))
	for _, m := range existing {
		if _, ok := inWindow[m.ID]; ok {
			continue
		}
		out = append(out, m)
	}
	return append(out, window...)
}

// SupersedeTransients removes optimistic rows whose durable counterpart
// (a row with a matching ClientRef) is present. It returns the kept rows
// and the removed optimistic rows.
func SupersedeTransients(msgs []model.Message) (kept, superseded []model.Message) {
	refs := make(map[string]struct{})
	for _, m := range msgs {
		if m.ClientRef != "" && !m.IsTransient() {
			refs[m.ClientRef] = struct{}{}
		}
	}
	if len(refs) == 0 {
		return msgs, nil
	}
	kept = make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := refs[m.ID]; ok && m.IsTransient() {
			superseded = append(superseded, m)
			continue
		}
		kept = append(kept, m)
	}
	return kept, superseded
}

// overlaps reports whether any id of fresh is already in existing.
func overlaps(existing, fresh []model.Message) bool {
	known := make(map[string]struct{}, len(existing))
	for _, m := range existing {
		known[m.ID] = struct{}{}
	}
	for _, m := range fresh {
		if _, ok := known[m.ID]; ok {
			return true
		}
	}
	return false
}

// newestDurable returns the last non-transient message.
func newestDurable(msgs []model.Message) (model.Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if !msgs[i].IsTransient() {
			return msgs[i], true
		}
	}
	return model.Message{}, false
}
