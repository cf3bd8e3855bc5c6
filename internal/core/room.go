package core

import (
	"sort"
	"sync"
	"time"

	"github.com/dkeye/classmeet/internal/domain"
	"github.com/rs/zerolog/log"
)

type member struct {
	p       *domain.Participant
	handles []MediaHandle
	seq     uint64
}

// scope is a participant mapping: the main room or one breakout room.
type scope struct {
	id        domain.RoomID
	name      string
	createdAt time.Time
	members   map[domain.ParticipantID]*member
}

func newScope(id domain.RoomID, name string, now time.Time) *scope {
	return &scope{id: id, name: name, createdAt: now, members: make(map[domain.ParticipantID]*member)}
}

// Room is a threadsafe in-memory room.
// All participant, waiting and breakout mappings share one lock so the
// "one place per id" invariant is checked and kept atomically.
// It never closes adapter-owned resources.
type Room struct {
	mu sync.Mutex

	id        domain.RoomID
	createdAt time.Time
	router    MediaRouter

	settings     domain.Settings
	recording    bool
	creator      *domain.Identity
	everAdmitted bool
	closed       bool
	seq          uint64

	main      *scope
	waiting   map[domain.ParticipantID]*domain.WaitingParticipant
	breakouts map[domain.RoomID]*scope
}

func NewRoom(id domain.RoomID, settings domain.Settings, router MediaRouter, now time.Time) *Room {
	return &Room{
		id:        id,
		createdAt: now,
		router:    router,
		settings:  settings,
		main:      newScope("", string(id), now),
		waiting:   make(map[domain.ParticipantID]*domain.WaitingParticipant),
		breakouts: make(map[domain.RoomID]*scope),
	}
}

func (r *Room) ID() domain.RoomID { return r.id }

func (r *Room) Router() MediaRouter { return r.router }

func (r *Room) CreatedAt() time.Time { return r.createdAt }

func (r *Room) Settings() domain.Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings
}

func (r *Room) UpdateSettings(p domain.SettingsPatch) domain.Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings = r.settings.Apply(p)
	return r.settings
}

func (r *Room) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

func (r *Room) SetRecording(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recording = on
}

func (r *Room) Creator() (domain.Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.creator == nil {
		return domain.Identity{}, false
	}
	return *r.creator, true
}

// Enter runs the admission decision and applies it under one lock.
func (r *Room) Enter(id domain.Identity, adm Admission, now time.Time) (domain.Decision, domain.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return domain.AdmitImmediately, domain.Participant{}, ErrRoomClosed
	}
	if r.containsLocked(id.ParticipantID) {
		return domain.AdmitImmediately, domain.Participant{}, ErrDuplicateParticipant
	}
	decision := adm.Evaluate(AdmissionState{
		WaitingRoomEnabled: r.settings.WaitingRoomEnabled,
		HasCreator:         r.creator != nil,
		EverAdmitted:       r.everAdmitted,
	}, id)
	if decision == domain.Wait {
		r.waiting[id.ParticipantID] = domain.NewWaitingParticipant(id, now)
		log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("participant", string(id.ParticipantID)).Msg("waiting for approval")
		return decision, domain.Participant{}, nil
	}
	p, err := r.admitLocked(id, now)
	if err != nil {
		return decision, domain.Participant{}, err
	}
	return decision, p, nil
}

func (r *Room) admitLocked(id domain.Identity, now time.Time) (domain.Participant, error) {
	if r.countLocked() >= r.settings.MaxParticipants {
		return domain.Participant{}, ErrRoomFull
	}
	p := domain.NewParticipant(id, r.settings, now)
	r.seq++
	r.main.members[p.ID] = &member{p: p, seq: r.seq}
	r.everAdmitted = true
	if r.creator == nil {
		c := id
		r.creator = &c
	}
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("participant", string(p.ID)).Msg("participant admitted")
	return *p, nil
}

func (r *Room) moderatorViewLocked(actor domain.Identity) ModeratorView {
	v := ModeratorView{IsTeacher: actor.IsTeacher}
	if r.creator != nil && r.creator.ParticipantID == actor.ParticipantID {
		v.IsCreator = true
	}
	_, _, v.Present = r.findLocked(actor.ParticipantID)
	return v
}

// Promote moves a waiting participant into the main room.
// On ErrRoomFull the request stays in the waiting mapping.
func (r *Room) Promote(waitingID domain.ParticipantID, actor domain.Identity, authorize Authorizer, now time.Time) (domain.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return domain.Participant{}, ErrRoomClosed
	}
	if !authorize(r.moderatorViewLocked(actor)) {
		return domain.Participant{}, ErrNotAuthorized
	}
	w, ok := r.waiting[waitingID]
	if !ok {
		return domain.Participant{}, ErrNotWaiting
	}
	p, err := r.admitLocked(w.Identity(r.id), now)
	if err != nil {
		return domain.Participant{}, err
	}
	delete(r.waiting, waitingID)
	return p, nil
}

func (r *Room) Reject(waitingID domain.ParticipantID, actor domain.Identity, authorize Authorizer) (domain.WaitingParticipant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !authorize(r.moderatorViewLocked(actor)) {
		return domain.WaitingParticipant{}, ErrNotAuthorized
	}
	w, ok := r.waiting[waitingID]
	if !ok {
		return domain.WaitingParticipant{}, ErrNotWaiting
	}
	delete(r.waiting, waitingID)
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("participant", string(waitingID)).Msg("waiting participant denied")
	return *w, nil
}

// RemoveWaiting drops a pending request without a decision.
func (r *Room) RemoveWaiting(pid domain.ParticipantID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.waiting[pid]; !ok {
		return false
	}
	delete(r.waiting, pid)
	return true
}

// Remove closes the participant's media handles and deletes it from
// whichever scope holds it. It returns who was left in that scope.
// Removing an absent id is a no-op.
func (r *Room) Remove(pid domain.ParticipantID) (domain.Participant, []domain.ParticipantID, bool) {
	r.mu.Lock()
	sc, m, ok := r.findLocked(pid)
	var left []domain.ParticipantID
	if ok {
		delete(sc.members, pid)
		for id := range sc.members {
			left = append(left, id)
		}
	}
	r.mu.Unlock()
	if !ok {
		return domain.Participant{}, nil, false
	}
	for _, h := range m.handles {
		if err := h.Close(); err != nil {
			log.Warn().Err(err).Str("module", "core.room").Str("participant", string(pid)).Msg("close media handle")
		}
	}
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("participant", string(pid)).Msg("participant removed")
	return *m.p, left, true
}

func (r *Room) AttachHandle(pid domain.ParticipantID, h MediaHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, m, ok := r.findLocked(pid)
	if !ok {
		return ErrParticipantNotFound
	}
	m.handles = append(m.handles, h)
	return nil
}

func (r *Room) Participant(pid domain.ParticipantID) (domain.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, m, ok := r.findLocked(pid)
	if !ok {
		return domain.Participant{}, false
	}
	return *m.p, true
}

// Update mutates a participant in place and returns the new copy.
func (r *Room) Update(pid domain.ParticipantID, fn func(p *domain.Participant)) (domain.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, m, ok := r.findLocked(pid)
	if !ok {
		return domain.Participant{}, false
	}
	fn(m.p)
	return *m.p, true
}

// Peers returns everyone sharing pid's scope, pid excluded.
func (r *Room) Peers(pid domain.ParticipantID) ([]domain.ParticipantID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sc, _, ok := r.findLocked(pid)
	if !ok {
		return nil, false
	}
	out := make([]domain.ParticipantID, 0, len(sc.members))
	for id := range sc.members {
		if id != pid {
			out = append(out, id)
		}
	}
	return out, true
}

func (r *Room) SameScope(a, b domain.ParticipantID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sa, _, ok := r.findLocked(a)
	if !ok {
		return false
	}
	sb, _, ok := r.findLocked(b)
	return ok && sa == sb
}

// Moderators lists who can decide on waiting requests right now.
func (r *Room) Moderators() []domain.ParticipantID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ParticipantID
	for _, sc := range r.scopesLocked() {
		for id, m := range sc.members {
			if m.p.IsTeacher || (r.creator != nil && r.creator.ParticipantID == id) {
				out = append(out, id)
			}
		}
	}
	return out
}

func (r *Room) Members() []domain.ParticipantID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ParticipantID
	for _, sc := range r.scopesLocked() {
		for id := range sc.members {
			out = append(out, id)
		}
	}
	return out
}

func (r *Room) ParticipantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countLocked()
}

func (r *Room) IsWaiting(pid domain.ParticipantID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.waiting[pid]
	return ok
}

func (r *Room) Waiting() []WaitingInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]WaitingInfo, 0, len(r.waiting))
	for _, w := range r.waiting {
		out = append(out, WaitingInfo{ID: w.ID, Name: w.Username, IsTeacher: w.IsTeacher, RequestedAt: w.RequestedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out
}

// ScopeSnapshot lists the participants pid can see, pid excluded.
func (r *Room) ScopeSnapshot(pid domain.ParticipantID) []ParticipantInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	sc, _, ok := r.findLocked(pid)
	if !ok {
		return nil
	}
	return scopeInfo(sc, pid)
}

func (r *Room) Snapshot() RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	info := RoomInfo{
		ID:               r.id,
		CreatedAt:        r.createdAt,
		Settings:         r.settings,
		Recording:        r.recording,
		ParticipantCount: r.countLocked(),
		WaitingCount:     len(r.waiting),
	}
	if r.creator != nil {
		info.Creator = r.creator.ParticipantID
	}
	var all []*member
	for _, sc := range r.scopesLocked() {
		for _, m := range sc.members {
			all = append(all, m)
		}
	}
	info.Participants = sortedInfo(all, "")
	for _, b := range r.breakouts {
		info.Breakouts = append(info.Breakouts, BreakoutInfo{ID: b.id, Name: b.name, ParticipantCount: len(b.members)})
	}
	sort.Slice(info.Breakouts, func(i, j int) bool { return info.Breakouts[i].ID < info.Breakouts[j].ID })
	return info
}

func (r *Room) CreateBreakout(id domain.RoomID, name string, now time.Time) BreakoutInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakouts[id] = newScope(id, name, now)
	return BreakoutInfo{ID: id, Name: name}
}

// MoveTo places pid into breakout id, or back into the main room when id
// is empty. It returns the scope pid left.
func (r *Room) MoveTo(pid domain.ParticipantID, id domain.RoomID) (domain.RoomID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	from, m, ok := r.findLocked(pid)
	if !ok {
		return "", ErrParticipantNotFound
	}
	to := r.main
	if id != "" {
		if to, ok = r.breakouts[id]; !ok {
			return "", ErrBreakoutNotFound
		}
	}
	if from == to {
		return from.id, nil
	}
	delete(from.members, pid)
	to.members[pid] = m
	m.p.BreakoutID = to.id
	return from.id, nil
}

// CloseBreakouts returns every breakout participant to the main room.
func (r *Room) CloseBreakouts() []domain.ParticipantID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var moved []domain.ParticipantID
	for id, b := range r.breakouts {
		for pid, m := range b.members {
			m.p.BreakoutID = ""
			r.main.members[pid] = m
			moved = append(moved, pid)
		}
		delete(r.breakouts, id)
	}
	return moved
}

// Closed reports whether the room was torn down.
func (r *Room) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// CloseIfEmpty marks the room closed when nobody is left in any scope.
// Pending waiting requests are handed back to the caller.
func (r *Room) CloseIfEmpty() ([]domain.WaitingParticipant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, true
	}
	if r.countLocked() > 0 {
		return nil, false
	}
	r.closed = true
	out := make([]domain.WaitingParticipant, 0, len(r.waiting))
	for id, w := range r.waiting {
		out = append(out, *w)
		delete(r.waiting, id)
	}
	return out, true
}

func (r *Room) containsLocked(pid domain.ParticipantID) bool {
	if _, ok := r.waiting[pid]; ok {
		return true
	}
	_, _, ok := r.findLocked(pid)
	return ok
}

func (r *Room) findLocked(pid domain.ParticipantID) (*scope, *member, bool) {
	for _, sc := range r.scopesLocked() {
		if m, ok := sc.members[pid]; ok {
			return sc, m, true
		}
	}
	return nil, nil, false
}

func (r *Room) scopesLocked() []*scope {
	out := make([]*scope, 0, len(r.breakouts)+1)
	out = append(out, r.main)
	for _, b := range r.breakouts {
		out = append(out, b)
	}
	return out
}

func (r *Room) countLocked() int {
	n := 0
	for _, sc := range r.scopesLocked() {
		n += len(sc.members)
	}
	return n
}

func scopeInfo(sc *scope, exclude domain.ParticipantID) []ParticipantInfo {
	ms := make([]*member, 0, len(sc.members))
	for _, m := range sc.members {
		ms = append(ms, m)
	}
	return sortedInfo(ms, exclude)
}

func sortedInfo(ms []*member, exclude domain.ParticipantID) []ParticipantInfo {
	sort.Slice(ms, func(i, j int) bool { return ms[i].seq < ms[j].seq })
	out := make([]ParticipantInfo, 0, len(ms))
	for _, m := range ms {
		if m.p.ID == exclude {
			continue
		}
		out = append(out, participantInfo(m.p))
	}
	return out
}
