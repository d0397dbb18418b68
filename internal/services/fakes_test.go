package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"circles-backend/internal/models"
	"circles-backend/internal/repository"
)

// fakeProfiles is an in-memory ProfileStore
type fakeProfiles struct {
	mu   sync.Mutex
	byID map[string]*models.Profile
}

func newFakeProfiles(ps ...*models.Profile) *fakeProfiles {
	f := &fakeProfiles{byID: map[string]*models.Profile{}}
	for _, p := range ps {
		f.byID[p.ID] = p
	}
	return f
}

func (f *fakeProfiles) get(id string) *models.Profile {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[id]
}

func (f *fakeProfiles) Create(_ context.Context, p *models.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.byID {
		if strings.EqualFold(existing.Username, p.Username) || strings.EqualFold(existing.Email, p.Email) {
			return fmt.Errorf("failed to create profile: %w", repository.ErrAlreadyExists)
		}
	}
	cp := *p
	f.byID[p.ID] = &cp
	return nil
}

func (f *fakeProfiles) GetByID(_ context.Context, id string) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok {
		return nil, fmt.Errorf("profile: %w", repository.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProfiles) GetByEmail(_ context.Context, email string) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.byID {
		if strings.EqualFold(p.Email, email) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("profile: %w", repository.ErrNotFound)
}

func (f *fakeProfiles) UsernameExists(_ context.Context, username string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.byID {
		if strings.EqualFold(p.Username, username) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeProfiles) EmailExists(ctx context.Context, email string) (bool, error) {
	_, err := f.GetByEmail(ctx, email)
	return err == nil, nil
}

func (f *fakeProfiles) Update(_ context.Context, id string, upd repository.ProfileUpdate) (*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok {
		return nil, fmt.Errorf("profile: %w", repository.ErrNotFound)
	}
	if upd.Username != nil {
		for _, other := range f.byID {
			if other.ID != id && strings.EqualFold(other.Username, *upd.Username) {
				return nil, fmt.Errorf("failed to update profile: %w", repository.ErrAlreadyExists)
			}
		}
		p.Username = *upd.Username
	}
	if upd.FirstName != nil {
		p.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		p.LastName = *upd.LastName
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProfiles) mutate(id string, fn func(p *models.Profile)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok {
		return fmt.Errorf("profile: %w", repository.ErrNotFound)
	}
	fn(p)
	return nil
}

func (f *fakeProfiles) UpdateLocation(_ context.Context, id string, loc models.Location) error {
	return f.mutate(id, func(p *models.Profile) { p.Location = &loc })
}

func (f *fakeProfiles) UpdatePushToken(_ context.Context, id string, token *string) error {
	return f.mutate(id, func(p *models.Profile) { p.PushToken = token })
}

func (f *fakeProfiles) UpdateAvatarURL(_ context.Context, id, url string) error {
	return f.mutate(id, func(p *models.Profile) { p.AvatarURL = &url })
}

func (f *fakeProfiles) UpdateStatus(_ context.Context, id, status string) error {
	return f.mutate(id, func(p *models.Profile) { p.Status = status })
}

func (f *fakeProfiles) UpdatePasswordHash(ctx context.Context, email, hash string) error {
	p, err := f.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	return f.mutate(p.ID, func(p *models.Profile) { p.PasswordHash = hash })
}

func (f *fakeProfiles) ListExcept(_ context.Context, excludeID, search string, limit, offset int) ([]*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Profile
	for _, p := range f.byID {
		if p.ID == excludeID {
			continue
		}
		if search != "" && !strings.HasPrefix(strings.ToLower(p.Username), strings.ToLower(search)) {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeProfiles) PushTokens(_ context.Context, ids []string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tokens := map[string]string{}
	for _, id := range ids {
		if p, ok := f.byID[id]; ok && p.PushToken != nil && *p.PushToken != "" {
			tokens[id] = *p.PushToken
		}
	}
	return tokens, nil
}

// fakeResets is an in-memory PasswordResetStore
type fakeResets struct {
	mu       sync.Mutex
	byEmail  map[string]*models.PasswordReset
	reserved int
	deleted  int64
}

func newFakeResets() *fakeResets {
	return &fakeResets{byEmail: map[string]*models.PasswordReset{}}
}

func (f *fakeResets) Upsert(_ context.Context, pr *models.PasswordReset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *pr
	cp.Attempts = 0
	f.byEmail[strings.ToLower(pr.Email)] = &cp
	return nil
}

func (f *fakeResets) ReserveAttempt(_ context.Context, email string, maxAttempts int, now time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pr, ok := f.byEmail[strings.ToLower(email)]
	if !ok || pr.Attempts >= maxAttempts || !now.Before(pr.ExpiresAt) {
		return "", fmt.Errorf("password reset: %w", repository.ErrNotFound)
	}
	pr.Attempts++
	f.reserved++
	return pr.CodeHash, nil
}

func (f *fakeResets) Delete(_ context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byEmail, strings.ToLower(email))
	return nil
}

func (f *fakeResets) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	return f.deleted, nil
}

// fakeInvitations is a function-field InvitationStore
type fakeInvitations struct {
	CreateFn          func(ctx context.Context, inv *models.Invitation) error
	GetActiveByCodeFn func(ctx context.Context, code string, now time.Time) (*models.Invitation, error)
	DeleteExpiredFn   func(ctx context.Context, now time.Time) (int64, error)
}

func (f *fakeInvitations) Create(ctx context.Context, inv *models.Invitation) error {
	if f.CreateFn != nil {
		return f.CreateFn(ctx, inv)
	}
	return nil
}

func (f *fakeInvitations) GetActiveByCode(ctx context.Context, code string, now time.Time) (*models.Invitation, error) {
	if f.GetActiveByCodeFn != nil {
		return f.GetActiveByCodeFn(ctx, code, now)
	}
	return nil, fmt.Errorf("invitation: %w", repository.ErrNotFound)
}

func (f *fakeInvitations) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	if f.DeleteExpiredFn != nil {
		return f.DeleteExpiredFn(ctx, now)
	}
	return 0, nil
}

// fakeCircles is a function-field CircleStore. Unset functions return zero values.
type fakeCircles struct {
	CreateWithAdminFn  func(ctx context.Context, c *models.Circle, admin *models.Membership, inv *models.Invitation) error
	GetByIDFn          func(ctx context.Context, id string) (*models.Circle, error)
	GetMembershipFn    func(ctx context.Context, circleID, profileID string) (*models.Membership, error)
	AddMemberFn        func(ctx context.Context, m *models.Membership) error
	MemberIDsFn        func(ctx context.Context, circleID string) ([]string, error)
	RemoveMemberFn     func(ctx context.Context, circleID, profileID string) (*repository.LeaveResult, error)
	SetShareLocationFn func(ctx context.Context, circleID, profileID string, share bool) error
	LocationAudienceFn func(ctx context.Context, profileID string) ([]string, error)
	RelatedIDsFn       func(ctx context.Context, profileID string) ([]string, error)
}

func (f *fakeCircles) CreateWithAdmin(ctx context.Context, c *models.Circle, admin *models.Membership, inv *models.Invitation) error {
	if f.CreateWithAdminFn != nil {
		return f.CreateWithAdminFn(ctx, c, admin, inv)
	}
	return nil
}

func (f *fakeCircles) GetByID(ctx context.Context, id string) (*models.Circle, error) {
	if f.GetByIDFn != nil {
		return f.GetByIDFn(ctx, id)
	}
	return &models.Circle{ID: id, Name: "circle"}, nil
}

func (f *fakeCircles) ListForProfile(context.Context, string) ([]*models.CircleSummary, error) {
	return []*models.CircleSummary{}, nil
}

func (f *fakeCircles) GetMembership(ctx context.Context, circleID, profileID string) (*models.Membership, error) {
	if f.GetMembershipFn != nil {
		return f.GetMembershipFn(ctx, circleID, profileID)
	}
	return nil, fmt.Errorf("membership: %w", repository.ErrNotFound)
}

func (f *fakeCircles) AddMember(ctx context.Context, m *models.Membership) error {
	if f.AddMemberFn != nil {
		return f.AddMemberFn(ctx, m)
	}
	return nil
}

func (f *fakeCircles) MemberIDs(ctx context.Context, circleID string) ([]string, error) {
	if f.MemberIDsFn != nil {
		return f.MemberIDsFn(ctx, circleID)
	}
	return nil, nil
}

func (f *fakeCircles) RemoveMember(ctx context.Context, circleID, profileID string) (*repository.LeaveResult, error) {
	if f.RemoveMemberFn != nil {
		return f.RemoveMemberFn(ctx, circleID, profileID)
	}
	return &repository.LeaveResult{}, nil
}

func (f *fakeCircles) SetShareLocation(ctx context.Context, circleID, profileID string, share bool) error {
	if f.SetShareLocationFn != nil {
		return f.SetShareLocationFn(ctx, circleID, profileID, share)
	}
	return nil
}

func (f *fakeCircles) RelatedProfiles(context.Context, string) ([]*models.RelatedProfile, error) {
	return []*models.RelatedProfile{}, nil
}

func (f *fakeCircles) RelatedCircleMappings(context.Context, string) ([]*models.CircleMapping, error) {
	return []*models.CircleMapping{}, nil
}

func (f *fakeCircles) RelatedProfileMappings(context.Context, string) ([]*models.ProfileMapping, error) {
	return []*models.ProfileMapping{}, nil
}

func (f *fakeCircles) LocationAudience(ctx context.Context, profileID string) ([]string, error) {
	if f.LocationAudienceFn != nil {
		return f.LocationAudienceFn(ctx, profileID)
	}
	return nil, nil
}

func (f *fakeCircles) RelatedIDs(ctx context.Context, profileID string) ([]string, error) {
	if f.RelatedIDsFn != nil {
		return f.RelatedIDsFn(ctx, profileID)
	}
	return nil, nil
}

// fakeCache is an in-memory ProfileCache
type fakeCache struct {
	items       map[string]*models.Profile
	invalidated []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{items: map[string]*models.Profile{}}
}

func (f *fakeCache) Get(_ context.Context, id string) (*models.Profile, bool, error) {
	p, ok := f.items[id]
	return p, ok, nil
}

func (f *fakeCache) Set(_ context.Context, p *models.Profile) error {
	f.items[p.ID] = p
	return nil
}

func (f *fakeCache) Invalidate(_ context.Context, id string) error {
	delete(f.items, id)
	f.invalidated = append(f.invalidated, id)
	return nil
}

// fakeRevoker is an in-memory TokenRevoker
type fakeRevoker struct {
	revoked map[string]time.Duration
}

func newFakeRevoker() *fakeRevoker {
	return &fakeRevoker{revoked: map[string]time.Duration{}}
}

func (f *fakeRevoker) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	f.revoked[jti] = ttl
	return nil
}

func (f *fakeRevoker) IsRevoked(_ context.Context, jti string) (bool, error) {
	_, ok := f.revoked[jti]
	return ok, nil
}

// fakeMailer records sent mail
type fakeMailer struct {
	sent []sentMail
}

type sentMail struct {
	to, subject, body string
}

func (f *fakeMailer) Send(_ context.Context, to, subject, body string) error {
	f.sent = append(f.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

// fakeNotifier records push sends. When block is set Send waits for it to
// be closed first.
type fakeNotifier struct {
	mu          sync.Mutex
	tokens      []string
	msgs        []PushMessage
	ctxErrs     []error
	hasDeadline []bool
	block       chan struct{}
	err         error
}

func (f *fakeNotifier) Send(ctx context.Context, tokens []string, msg PushMessage) error {
	if f.block != nil {
		<-f.block
	}
	_, deadline := ctx.Deadline()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	f.hasDeadline = append(f.hasDeadline, deadline)
	f.tokens = append(f.tokens, tokens...)
	f.msgs = append(f.msgs, msg)
	return f.err
}

// fakeHub records broadcasts and treats every id in online as connected
type fakeHub struct {
	mu     sync.Mutex
	online map[string]bool
	sent   map[string][]WSMessage
}

func newFakeHub(online ...string) *fakeHub {
	h := &fakeHub{online: map[string]bool{}, sent: map[string][]WSMessage{}}
	for _, id := range online {
		h.online[id] = true
	}
	return h
}

func (h *fakeHub) SendToProfile(id string, msg WSMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.online[id] {
		return fmt.Errorf("profile %s is not connected", id)
	}
	h.sent[id] = append(h.sent[id], msg)
	return nil
}

func (h *fakeHub) Broadcast(ids []string, msg WSMessage) int {
	n := 0
	for _, id := range ids {
		if h.SendToProfile(id, msg) == nil {
			n++
		}
	}
	return n
}

func (h *fakeHub) IsOnline(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.online[id]
}

func (h *fakeHub) messages(id string) []WSMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sent[id]
}

// fakeRecorder counts domain events
type fakeRecorder struct {
	mu                 sync.Mutex
	locations          int
	invitationsCreated int
	redeemed           int
	pushes             map[string]int
}

func (r *fakeRecorder) RecordLocationUpdate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locations++
}

func (r *fakeRecorder) RecordInvitationCreated() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invitationsCreated++
}

func (r *fakeRecorder) RecordInvitationRedeemed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.redeemed++
}

func (r *fakeRecorder) RecordPushDelivery(provider string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pushes == nil {
		r.pushes = map[string]int{}
	}
	r.pushes[fmt.Sprintf("%s:%t", provider, ok)]++
}

// fakeStorage is an in-memory ObjectStorage
type fakeStorage struct {
	objects map[string]*ObjectInfo
}

func (f *fakeStorage) PresignPut(_ context.Context, key, contentType string, size int64, ttl time.Duration) (string, error) {
	return "https://upload.example.com/" + key + "?ct=" + contentType, nil
}

func (f *fakeStorage) Head(_ context.Context, key string) (*ObjectInfo, error) {
	info, ok := f.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return info, nil
}

func (f *fakeStorage) PublicURL(key string) string {
	return "https://cdn.example.com/" + key
}
