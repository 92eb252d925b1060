package session

import (
	"time"

	"github.com/maxclaw/internal/types"
)

// Recover settles sessions a previous daemon run left persisted as active.
// Sessions whose pid is gone become interrupted. Sessions whose pid is still
// alive stay active but are marked unowned; this daemon never signals a
// process it did not spawn. Nothing is respawned.
func (m *Manager) Recover() error {
	sessions, err := m.store.ListSessions("", types.SessionActive)
	if err != nil {
		return err
	}

	interrupted, kept := 0, 0
	for _, sess := range sessions {
		if sess.OSProcessID > 0 && m.spawner.Alive(sess.OSProcessID) {
			m.markUnowned(sess.ID)
			if err := m.pool.Allocate(sess); err != nil {
				m.logger.Printf("[SESSIONS] pool recovered session %s: %v", sess.ID, err)
			}
			kept++
			continue
		}

		if err := m.store.EndSession(sess.ID, types.SessionInterrupted, time.Now().UTC()); err != nil {
			m.logger.Printf("[SESSIONS] interrupt stale session %s: %v", sess.ID, err)
			continue
		}
		m.publishLifecycle(TopicSessionEnded, sess.ID, sess.ProjectID, types.SessionInterrupted)
		interrupted++
	}

	if interrupted > 0 || kept > 0 {
		m.logger.Printf("[SESSIONS] Recovery settled %d stale sessions, kept %d unowned", interrupted, kept)
	}
	return nil
}
