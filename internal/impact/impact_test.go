package impact

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"paperevents/internal/host"
	logx "paperevents/pkg/logx"
)

const (
	bandit   host.FormID = 0x100
	guard    host.FormID = 0x101
	player   host.FormID = 0x14
	barrel   host.FormID = 0x200
	ironAxe  host.FormID = 0x300
	firebolt host.FormID = 0x301
	flames   host.FormID = 0x302
	healing  host.FormID = 0x303
	fireEnch host.FormID = 0x304
	poison   host.FormID = 0x305
	arrow    host.FormID = 0x306
	unbound  host.FormID = 0x102
)

type forms map[host.FormID]host.Form

func (f forms) LookupForm(id host.FormID) (host.Form, bool) {
	v, ok := f[id]
	return v, ok
}

func testForms() forms {
	return forms{
		bandit:  {ID: bandit, Type: host.FormActor},
		guard:   {ID: guard, Type: host.FormActor},
		unbound: {ID: unbound, Type: host.FormActor},
		player:  {ID: player, Type: host.FormActor},
		barrel:  {ID: barrel, Type: host.FormReference},
		ironAxe: {ID: ironAxe, Type: host.FormWeapon},
		firebolt: {ID: firebolt, Type: host.FormSpell, Spell: &host.SpellData{
			Casting: host.CastFireAndForget, Delivery: host.DeliveryAimed, HostileCount: 1,
		}},
		flames: {ID: flames, Type: host.FormSpell, Spell: &host.SpellData{
			Casting: host.CastConcentration, Delivery: host.DeliveryAimed, HostileCount: 1,
		}},
		healing: {ID: healing, Type: host.FormSpell, Spell: &host.SpellData{
			Casting: host.CastFireAndForget, Delivery: host.DeliverySelf,
		}},
		fireEnch: {ID: fireEnch, Type: host.FormEnchantment},
		poison:   {ID: poison, Type: host.FormAlchemyItem},
		arrow:    {ID: arrow, Type: host.FormProjectile},
	}
}

type world struct {
	handles map[host.FormID]host.Handle
	effects map[host.FormID][]host.Handle
}

func (w world) LookupContainer(id host.FormID) bool { _, ok := w.handles[id]; return ok }
func (w world) HandleFor(id host.FormID) (host.Handle, bool) {
	h, ok := w.handles[id]
	return h, ok
}
func (w world) ActiveEffects(id host.FormID) []host.Handle { return w.effects[id] }

type sent struct {
	Handle host.Handle
	Args   host.ImpactArgs
}

type recorder struct {
	mu  sync.Mutex
	got []sent
}

func (r *recorder) Deliver(h host.Handle, ev host.Event, late host.LateFilter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, sent{Handle: h, Args: ev.Args.(host.ImpactArgs)})
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func newDedup(t *testing.T, max int) (*Deduplicator, *recorder) {
	t.Helper()
	rec := &recorder{}
	d := New(Deps{
		World: world{
			handles: map[host.FormID]host.Handle{bandit: 1, guard: 2, unbound: host.EmptyHandle, barrel: 9},
			effects: map[host.FormID][]host.Handle{bandit: {11, host.EmptyHandle, 12}},
		},
		Forms:      testForms(),
		Dispatcher: rec,
		Log:        logx.Nop(),
		MaxEntries: max,
	})
	return d, rec
}

func TestClassify(t *testing.T) {
	t.Parallel()
	f := testForms()
	form := func(id host.FormID) *host.Form {
		v := f[id]
		return &v
	}

	tests := []struct {
		name       string
		source     *host.Form
		projectile *host.Form
		flags      host.HitFlags
		want       bool
		reason     string
	}{
		{name: "weapon", source: form(ironAxe), want: true, reason: ReasonSource},
		{name: "enchantment even with bash", source: form(fireEnch), flags: host.HitBashAttack | host.HitPowerAttack, reason: ReasonExcludedSource},
		{name: "alchemy item", source: form(poison), projectile: form(arrow), reason: ReasonExcludedSource},
		{name: "hostile aimed spell", source: form(firebolt), want: true, reason: ReasonHostileSpell},
		{name: "concentration spell", source: form(flames), reason: ReasonSpellFiltered},
		{name: "self spell", source: form(healing), reason: ReasonSpellFiltered},
		{name: "spell without data", source: &host.Form{ID: 1, Type: host.FormSpell}, reason: ReasonSpellFiltered},
		{name: "bash without source", flags: host.HitBashAttack, want: true, reason: ReasonBash},
		{name: "projectile without source", projectile: form(arrow), want: true, reason: ReasonProjectile},
		{name: "nothing", flags: host.HitSneakAttack, reason: ReasonNoEvidence},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, reason := Classify(tt.source, tt.projectile, tt.flags)
			require.Equal(t, tt.want, got)
			require.Equal(t, tt.reason, reason)
		})
	}
}

func TestDuplicateInSameTickIsSuppressed(t *testing.T) {
	t.Parallel()
	d, rec := newDedup(t, 0)
	hit := host.HitEvent{Target: bandit, Cause: player, Source: ironAxe, Tick: 10}

	require.Equal(t, Delivered, d.OnHit(hit))
	n := rec.count()
	require.Equal(t, Duplicate, d.OnHit(hit))
	require.Equal(t, n, rec.count())

	// Same tick, different cause is novel.
	require.Equal(t, Delivered, d.OnHit(host.HitEvent{Target: bandit, Cause: guard, Source: ironAxe, Tick: 10}))
	require.Len(t, d.Window(), 2)
}

func TestNewTickClearsWindow(t *testing.T) {
	t.Parallel()
	d, _ := newDedup(t, 0)
	hit := host.HitEvent{Target: bandit, Cause: player, Source: ironAxe, Tick: 10}

	require.Equal(t, Delivered, d.OnHit(hit))
	require.Equal(t, Delivered, d.OnHit(host.HitEvent{Target: guard, Cause: player, Source: ironAxe, Tick: 10}))

	hit.Tick = 11
	require.Equal(t, Delivered, d.OnHit(hit))
	require.Equal(t, []RecentHit{{Target: bandit, Cause: player, Tick: 11}}, d.Window())
}

func TestDeliveryReachesTargetAndEffects(t *testing.T) {
	t.Parallel()
	d, rec := newDedup(t, 0)

	out := d.OnHit(host.HitEvent{
		Target: bandit, Cause: player, Source: ironAxe, Projectile: arrow,
		Flags: host.HitPowerAttack | host.HitBlocked, Tick: 1,
	})
	require.Equal(t, Delivered, out)

	want := host.ImpactArgs{Aggressor: player, Source: ironAxe, Projectile: arrow, PowerAttack: true, HitBlocked: true}
	require.Equal(t, []sent{{1, want}, {11, want}, {12, want}}, rec.got)
}

func TestNonImpactsAreNotRecorded(t *testing.T) {
	t.Parallel()
	d, rec := newDedup(t, 0)

	hit := host.HitEvent{Target: bandit, Cause: player, Source: fireEnch, Flags: host.HitBashAttack, Tick: 3}
	require.Equal(t, NotImpact, d.OnHit(hit))
	require.Empty(t, d.Window())

	hit = host.HitEvent{Target: bandit, Cause: player, Flags: host.HitBashAttack, Tick: 3}
	require.Equal(t, Delivered, d.OnHit(hit))
	require.Equal(t, 3, rec.count())
}

func TestNonActorTargetsAreIgnored(t *testing.T) {
	t.Parallel()
	d, rec := newDedup(t, 0)

	for _, target := range []host.FormID{barrel, unbound, 0xBEEF} {
		require.Equal(t, Ignored, d.OnHit(host.HitEvent{Target: target, Cause: player, Source: ironAxe, Tick: 5}))
	}
	require.Empty(t, d.Window())
	require.Zero(t, rec.count())
}

func TestUnresolvedSourceFallsThrough(t *testing.T) {
	t.Parallel()
	d, rec := newDedup(t, 0)

	// The source id does not resolve and the projectile is not a projectile form.
	out := d.OnHit(host.HitEvent{Target: guard, Cause: player, Source: 0xF00D, Projectile: ironAxe, Tick: 1})
	require.Equal(t, NotImpact, out)

	out = d.OnHit(host.HitEvent{Target: guard, Cause: player, Source: 0xF00D, Projectile: arrow, Tick: 1})
	require.Equal(t, Delivered, out)
	require.Equal(t, host.ImpactArgs{Aggressor: player, Projectile: arrow}, rec.got[0].Args)
}

func TestWindowIsBounded(t *testing.T) {
	t.Parallel()
	d, _ := newDedup(t, 2)

	for _, cause := range []host.FormID{0x1, 0x2, 0x3} {
		require.Equal(t, Delivered, d.OnHit(host.HitEvent{Target: bandit, Cause: cause, Source: ironAxe, Tick: 7}))
	}
	require.Equal(t, []RecentHit{{bandit, 0x2, 7}, {bandit, 0x3, 7}}, d.Window())
	require.Equal(t, uint64(1), d.Evicted())

	d.SetMaxEntries(1)
	require.Equal(t, []RecentHit{{bandit, 0x3, 7}}, d.Window())
	require.Equal(t, uint64(2), d.Evicted())
}
