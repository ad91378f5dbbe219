package incident

import (
	"sync"
	"time"

	"github.com/sleuthstack/sleuth-engine/internal/models"
)

// Context is the mutable aggregate for one investigation: scope, windows,
// the append-only symptom and candidate lists, and the conversation log.
// All mutation goes through the context's mutex; readers receive copies.
type Context struct {
	mu sync.RWMutex

	id              string
	windows         models.Windows
	scope           models.Scope
	status          models.IncidentStatus
	createdAt       time.Time
	symptoms        []models.Symptom
	candidates      []models.Candidate
	recommendations []string
	chatHistory     []models.ChatMessage
	metadata        map[string]any
}

func newContext(id string, scope models.Scope, windows models.Windows) *Context {
	return &Context{
		id:        id,
		windows:   windows,
		scope:     scope,
		status:    models.StatusOpen,
		createdAt: time.Now().UTC(),
		metadata:  make(map[string]any),
	}
}

// ID returns the context identifier.
func (c *Context) ID() string { return c.id }

// Scope returns the context's service/env scope.
func (c *Context) Scope() models.Scope { return c.scope }

// Windows returns the windows fixed at creation time. They do not slide as
// correlated evidence arrives later.
func (c *Context) Windows() models.Windows { return c.windows }

// CreatedAt returns the creation timestamp.
func (c *Context) CreatedAt() time.Time { return c.createdAt }

// Status returns the current lifecycle state.
func (c *Context) Status() models.IncidentStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// AppendSymptom records one observation. Symptoms are never removed.
func (c *Context) AppendSymptom(s models.Symptom) {
	if s.ObservedAt.IsZero() {
		s.ObservedAt = time.Now().UTC()
	}
	c.mu.Lock()
	c.symptoms = append(c.symptoms, s)
	c.mu.Unlock()
}

// AppendCandidates adds newly found candidates. Earlier candidates are never
// re-scored or deleted; ranking happens on read.
func (c *Context) AppendCandidates(cands []models.Candidate) {
	if len(cands) == 0 {
		return
	}
	c.mu.Lock()
	c.candidates = append(c.candidates, cands...)
	c.mu.Unlock()
}

// AppendChat appends messages to the conversation log in the given order.
func (c *Context) AppendChat(msgs ...models.ChatMessage) {
	if len(msgs) == 0 {
		return
	}
	now := time.Now().UTC()
	c.mu.Lock()
	for _, m := range msgs {
		if m.Timestamp.IsZero() {
			m.Timestamp = now
		}
		c.chatHistory = append(c.chatHistory, m)
	}
	c.mu.Unlock()
}

// SetRecommendations replaces the derived recommendation list.
func (c *Context) SetRecommendations(recs []string) {
	c.mu.Lock()
	c.recommendations = append([]string(nil), recs...)
	c.mu.Unlock()
}

// SetMetadata stores one metadata entry.
func (c *Context) SetMetadata(key string, value any) {
	c.mu.Lock()
	c.metadata[key] = value
	c.mu.Unlock()
}

// Symptoms returns a snapshot of the symptom list.
func (c *Context) Symptoms() []models.Symptom {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.Symptom(nil), c.symptoms...)
}

// Candidates returns a snapshot of the raw (unranked) candidate list.
func (c *Context) Candidates() []models.Candidate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.Candidate(nil), c.candidates...)
}

// Recommendations returns a snapshot of the recommendation list.
func (c *Context) Recommendations() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.recommendations...)
}

// ChatHistory returns a snapshot of the conversation log.
func (c *Context) ChatHistory() []models.ChatMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.ChatMessage(nil), c.chatHistory...)
}

// Metadata returns a snapshot of the metadata map.
func (c *Context) Metadata() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.metadata))
	for k, v := range c.metadata {
		out[k] = v
	}
	return out
}

func (c *Context) markClosed() {
	c.mu.Lock()
	c.status = models.StatusClosed
	c.mu.Unlock()
}
