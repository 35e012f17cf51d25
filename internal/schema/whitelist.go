package schema

// Whitelist restricts which recipients may receive events. A nil Whitelist
// allows everyone.
type Whitelist struct {
	emails map[string]struct{}
}

func NewWhitelist(emails []string) *Whitelist {
	w := &Whitelist{emails: make(map[string]struct{}, len(emails))}
	for _, email := range emails {
		w.emails[email] = struct{}{}
	}
	return w
}

func (w *Whitelist) Allows(email string) bool {
	if w == nil {
		return true
	}
	_, ok := w.emails[email]
	return ok
}

// Restricted reports whether an allow-list is configured at all.
func (w *Whitelist) Restricted() bool {
	return w != nil
}
