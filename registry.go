package browserstate

import (
	"net/url"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
)

// TargetInfo describes a browser tab or OOPIF (§3 "Target").
type TargetInfo struct {
	ID        target.ID
	Type      string // "page", "iframe", "worker", "other"
	URL       string
	SessionID target.SessionID // "" until a session attaches
}

// SessionInfo describes an attached protocol channel to a target (§3
// "Session"). Detached sessions are kept in the registry with Active=false
// rather than removed, so a stale sessionID is recognizably dead rather
// than silently reused for a different target.
type SessionInfo struct {
	ID       target.SessionID
	TargetID target.ID
	Active   bool
}

// FrameInfo describes a renderer frame (§3 "Frame"). TargetID is mutable:
// a cross-origin navigation can move a frame to a different target.
type FrameInfo struct {
	ID       cdp.FrameID
	TargetID target.ID
	ParentID cdp.FrameID
	URL      string
	Origin   string
}

// registry is the routing table mapping CDP frames -> targets -> sessions,
// per §4.C. It is a pure data structure guarded by a single mutex; every
// mutation that implies a cascade (target removal taking its session and
// frames with it) happens atomically under that lock.
type registry struct {
	mu sync.Mutex

	targets  map[target.ID]*TargetInfo
	sessions map[target.SessionID]*SessionInfo
	frames   map[cdp.FrameID]*FrameInfo

	// originIndex avoids a linear scan in sessionForOrigin.
	originIndex map[string]map[target.ID]struct{}

	// rootTarget is the first page-typed target added, used to answer
	// rootPageSession.
	rootTarget target.ID

	// onSessionDetached is invoked (outside the lock) whenever a session
	// is tombstoned, so the CDP client can fail that session's pending
	// commands with cdperr.ErrSessionLost (invariant 2).
	onSessionDetached func(target.SessionID)
}

func newRegistry() *registry {
	return &registry{
		targets:     make(map[target.ID]*TargetInfo),
		sessions:    make(map[target.SessionID]*SessionInfo),
		frames:      make(map[cdp.FrameID]*FrameInfo),
		originIndex: make(map[string]map[target.ID]struct{}),
	}
}

// addTarget registers a new target on Target.targetCreated.
func (r *registry) addTarget(id target.ID, typ, rawURL string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.targets[id] = &TargetInfo{ID: id, Type: typ, URL: rawURL}
	if typ == "page" && r.rootTarget == "" {
		r.rootTarget = id
	}
	r.indexOriginLocked(id, rawURL)
}

// removeTarget handles Target.targetDestroyed, cascading the removal of
// any attached session and any frame still owned by this target.
func (r *registry) removeTarget(id target.ID) {
	r.mu.Lock()

	t, ok := r.targets[id]
	if !ok {
		r.mu.Unlock()
		return
	}

	var detached target.SessionID
	if t.SessionID != "" {
		if s, ok := r.sessions[t.SessionID]; ok {
			s.Active = false
			detached = s.ID
		}
	}

	for fid, f := range r.frames {
		if f.TargetID == id {
			delete(r.frames, fid)
		}
	}

	r.removeFromOriginIndexLocked(id)
	delete(r.targets, id)
	if r.rootTarget == id {
		r.rootTarget = ""
	}

	cb := r.onSessionDetached
	r.mu.Unlock()

	if detached != "" && cb != nil {
		cb(detached)
	}
}

// attachSession records a new attached session on
// Target.attachedToTarget, maintaining invariant 1 (session<->target
// point at each other).
func (r *registry) attachSession(sessionID target.SessionID, targetID target.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[sessionID] = &SessionInfo{ID: sessionID, TargetID: targetID, Active: true}
	if t, ok := r.targets[targetID]; ok {
		t.SessionID = sessionID
	}
}

// detachSession tombstones a session on Target.detachedFromTarget. The
// session entry is kept, Active=false, so a late lookup reports "known but
// dead" rather than "unknown".
func (r *registry) detachSession(sessionID target.SessionID) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if ok {
		s.Active = false
		if t, tok := r.targets[s.TargetID]; tok && t.SessionID == sessionID {
			t.SessionID = ""
		}
	}
	cb := r.onSessionDetached
	r.mu.Unlock()

	if ok && cb != nil {
		cb(sessionID)
	}
}

// isActive reports whether sessionID is a live, attached session.
func (r *registry) isActive(sessionID target.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	return ok && s.Active
}

// targetOf returns the target a session is (or was) attached to.
func (r *registry) targetOf(sessionID target.SessionID) (target.ID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return "", false
	}
	return s.TargetID, true
}

// upsertFrame records or updates a frame, e.g. on Page.frameAttached or
// Page.frameNavigated. A cross-origin navigation can re-home a frame onto
// a different target; callers pass the new targetID each time.
func (r *registry) upsertFrame(frameID cdp.FrameID, targetID target.ID, parentID cdp.FrameID, rawURL string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	origin := originOf(rawURL)
	r.frames[frameID] = &FrameInfo{
		ID:       frameID,
		TargetID: targetID,
		ParentID: parentID,
		URL:      rawURL,
		Origin:   origin,
	}
}

// removeFrame handles Page.frameDetached.
func (r *registry) removeFrame(frameID cdp.FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.frames, frameID)
}

// sessionForFrame resolves the session currently owning frameID.
func (r *registry) sessionForFrame(frameID cdp.FrameID) (target.SessionID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.frames[frameID]
	if !ok {
		return "", false
	}
	t, ok := r.targets[f.TargetID]
	if !ok || t.SessionID == "" {
		return "", false
	}
	return t.SessionID, true
}

// sessionForOrigin resolves a session attached to a target whose URL has
// the given origin, using the secondary origin index rather than scanning
// every target.
func (r *registry) sessionForOrigin(origin string) (target.SessionID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids, ok := r.originIndex[origin]
	if !ok {
		return "", false
	}
	for id := range ids {
		if t, ok := r.targets[id]; ok && t.SessionID != "" {
			return t.SessionID, true
		}
	}
	return "", false
}

// rootPageSession returns the session attached to the first page-typed
// target (the top-level tab), if any.
func (r *registry) rootPageSession() (target.SessionID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rootTarget == "" {
		return "", false
	}
	t, ok := r.targets[r.rootTarget]
	if !ok || t.SessionID == "" {
		return "", false
	}
	return t.SessionID, true
}

// frameDepth walks a frame's ParentID chain to compute its nesting depth
// for the serializer's indentation. Capped well above any real frame tree
// so a malformed or cyclic chain can't spin the lookup forever.
func (r *registry) frameDepth(frameID cdp.FrameID) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	depth := 0
	seen := make(map[cdp.FrameID]bool)
	cur := frameID
	for depth < 32 {
		f, ok := r.frames[cur]
		if !ok || f.ParentID == "" || seen[cur] {
			return depth
		}
		seen[cur] = true
		cur = f.ParentID
		depth++
	}
	return depth
}

func (r *registry) indexOriginLocked(id target.ID, rawURL string) {
	origin := originOf(rawURL)
	if origin == "" {
		return
	}
	set, ok := r.originIndex[origin]
	if !ok {
		set = make(map[target.ID]struct{})
		r.originIndex[origin] = set
	}
	set[id] = struct{}{}
}

func (r *registry) removeFromOriginIndexLocked(id target.ID) {
	for origin, set := range r.originIndex {
		if _, ok := set[id]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(r.originIndex, origin)
			}
		}
	}
}

// originOf extracts "scheme://host" from a URL, returning "" if it can't be
// parsed (e.g. "about:blank").
func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
