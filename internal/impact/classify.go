package impact

import "paperevents/internal/host"

// Reasons reported by Classify. They end up in debug logs and bus events.
const (
	ReasonExcludedSource = "excluded_source"
	ReasonHostileSpell   = "hostile_spell"
	ReasonSpellFiltered  = "spell_filtered"
	ReasonSource         = "source"
	ReasonBash           = "bash"
	ReasonProjectile     = "projectile"
	ReasonNoEvidence     = "no_evidence"
)

// Classify decides whether a hit is a genuine physical impact. source and
// projectile are nil when the hit did not carry one (or it did not resolve).
// The first matching rule wins.
func Classify(source, projectile *host.Form, flags host.HitFlags) (bool, string) {
	if source != nil {
		switch source.Type {
		case host.FormIngredient, host.FormAlchemyItem, host.FormEnchantment:
			// Weapon poisons and enchantments fire their own hit next to the weapon's.
			return false, ReasonExcludedSource
		case host.FormSpell:
			if hostileRanged(source.Spell) {
				return true, ReasonHostileSpell
			}
			return false, ReasonSpellFiltered
		default:
			return true, ReasonSource
		}
	}
	if flags.Has(host.HitBashAttack) {
		// Bashes with a torch and similar arrive without a source.
		return true, ReasonBash
	}
	if projectile != nil {
		return true, ReasonProjectile
	}
	return false, ReasonNoEvidence
}

func hostileRanged(s *host.SpellData) bool {
	if s == nil || s.Casting == host.CastConcentration || s.HostileCount <= 0 {
		return false
	}
	return s.Delivery != host.DeliveryTouch && s.Delivery != host.DeliverySelf
}
