package host

// FormType is the kind of a form as reported by the host.
type FormType uint8

const (
	FormNone FormType = iota
	FormWeapon
	FormArmor
	FormSpell
	FormScroll
	FormEnchantment
	FormIngredient
	FormAlchemyItem
	FormProjectile
	FormExplosion
	FormActor
	FormReference
	FormList
)

var formTypeNames = [...]string{
	FormNone:        "none",
	FormWeapon:      "weapon",
	FormArmor:       "armor",
	FormSpell:       "spell",
	FormScroll:      "scroll",
	FormEnchantment: "enchantment",
	FormIngredient:  "ingredient",
	FormAlchemyItem: "alchemy_item",
	FormProjectile:  "projectile",
	FormExplosion:   "explosion",
	FormActor:       "actor",
	FormReference:   "reference",
	FormList:        "form_list",
}

func (t FormType) String() string {
	if int(t) < len(formTypeNames) {
		return formTypeNames[t]
	}
	return "unknown"
}

// ParseFormType is the inverse of FormType.String. Unknown names map to FormNone.
func ParseFormType(s string) FormType {
	for i, n := range formTypeNames {
		if n == s {
			return FormType(i)
		}
	}
	return FormNone
}

type CastingType uint8

const (
	CastConstantEffect CastingType = iota
	CastFireAndForget
	CastConcentration
	CastScroll
)

type Delivery uint8

const (
	DeliverySelf Delivery = iota
	DeliveryTouch
	DeliveryAimed
	DeliveryTargetActor
	DeliveryTargetLocation
)

// SpellData is the part of a spell the impact classifier looks at.
type SpellData struct {
	Casting      CastingType
	Delivery     Delivery
	HostileCount int
}

// Form is a read-only view of a host form.
type Form struct {
	ID    FormID
	Type  FormType
	Spell *SpellData // set when Type is FormSpell
}

// Forms resolves form ids.
type Forms interface {
	LookupForm(id FormID) (Form, bool)
}

// HitFlags mirror the host's hit event flags.
type HitFlags uint8

const (
	HitPowerAttack HitFlags = 1 << iota
	HitSneakAttack
	HitBashAttack
	HitBlocked
)

func (f HitFlags) Has(flag HitFlags) bool { return f&flag != 0 }

// HitEvent is one raw hit notification from the simulation.
// Tick is the simulation timestamp at which it was observed.
type HitEvent struct {
	Target     FormID
	Cause      FormID
	Source     FormID
	Projectile FormID
	Flags      HitFlags
	Tick       uint64
}
