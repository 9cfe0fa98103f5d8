package app

import "sort"

type set map[string]struct{}

// Registry tracks which session is subscribed to which token. The forward
// and reverse maps always mirror each other. Registry is not safe for
// concurrent use; the Engine guards it.
type Registry struct {
	bySession map[string]set
	byToken   map[string]set
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		bySession: make(map[string]set),
		byToken:   make(map[string]set),
	}
}

// Subscribe adds token to session. It reports whether the pair is new.
func (r *Registry) Subscribe(session, token string) bool {
	tokens, ok := r.bySession[session]
	if !ok {
		tokens = make(set)
		r.bySession[session] = tokens
	}
	if _, exists := tokens[token]; exists {
		return false
	}
	tokens[token] = struct{}{}

	sessions, ok := r.byToken[token]
	if !ok {
		sessions = make(set)
		r.byToken[token] = sessions
	}
	sessions[session] = struct{}{}
	return true
}

// Unsubscribe removes token from session. A token left without sessions
// leaves the polling set.
func (r *Registry) Unsubscribe(session, token string) bool {
	tokens, ok := r.bySession[session]
	if !ok {
		return false
	}
	if _, exists := tokens[token]; !exists {
		return false
	}
	delete(tokens, token)
	r.unlink(token, session)
	return true
}

// DropSession removes session from every token it touched and returns those
// tokens.
func (r *Registry) DropSession(session string) []string {
	tokens, ok := r.bySession[session]
	if !ok {
		return nil
	}
	delete(r.bySession, session)

	for token := range tokens {
		r.unlink(token, session)
	}
	return sorted(tokens)
}

func (r *Registry) unlink(token, session string) {
	sessions := r.byToken[token]
	delete(sessions, session)
	if len(sessions) == 0 {
		delete(r.byToken, token)
	}
}

// TokensWithSubscribers returns every token with at least one session.
func (r *Registry) TokensWithSubscribers() []string {
	out := make([]string, 0, len(r.byToken))
	for token := range r.byToken {
		out = append(out, token)
	}
	sort.Strings(out)
	return out
}

// SessionsFor returns the sessions subscribed to token.
func (r *Registry) SessionsFor(token string) []string {
	return sorted(r.byToken[token])
}

// TokensFor returns the tokens session is subscribed to.
func (r *Registry) TokensFor(session string) []string {
	return sorted(r.bySession[session])
}

// HasSession reports whether session holds any subscription.
func (r *Registry) HasSession(session string) bool {
	return len(r.bySession[session]) > 0
}

func sorted(s set) []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
