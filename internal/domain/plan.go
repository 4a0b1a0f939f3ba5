package domain

// PlanID enumerates billing plans. The set is closed; webhook payloads
// carrying anything else are rejected with ErrInvalidPlan.
type PlanID string

const (
	PlanNone   PlanID = "none"
	PlanTemel  PlanID = "temel"
	PlanUzman  PlanID = "uzman"
	PlanPro    PlanID = "pro"
	PlanDeneme PlanID = "deneme"
)

// Feature tags gate credit-consuming operations.
const (
	FeatureGenerate = "generate"
	FeatureLyrics   = "lyrics"
	FeatureExtend   = "extend"
	FeatureCover    = "cover"
	FeaturePersona  = "persona"
)

// PlanDefinition is a static catalog entry. Read-only at runtime; the
// entitlement bundle is snapshotted onto the account at grant time, not
// re-derived per request.
type PlanDefinition struct {
	ID            PlanID
	Name          string
	Credits       int
	DurationDays  int
	PriceTRY      int
	Features      []string
	AllowedModels []string
}

var planCatalog = map[PlanID]PlanDefinition{
	PlanNone: {
		ID:   PlanNone,
		Name: "Paketsiz",
	},
	PlanTemel: {
		ID:            PlanTemel,
		Name:          "Temel Paket",
		Credits:       50,
		DurationDays:  30,
		PriceTRY:      300,
		Features:      []string{FeatureGenerate, FeatureLyrics},
		AllowedModels: []string{"V4", "V4_5"},
	},
	PlanUzman: {
		ID:            PlanUzman,
		Name:          "Uzman Paket",
		Credits:       500,
		DurationDays:  180,
		PriceTRY:      2800,
		Features:      []string{FeatureGenerate, FeatureLyrics, FeatureExtend, FeatureCover},
		AllowedModels: []string{"V4", "V4_5", "V4_5PLUS", "V5"},
	},
	PlanPro: {
		ID:            PlanPro,
		Name:          "Pro Paket",
		Credits:       1000,
		DurationDays:  365,
		PriceTRY:      5000,
		Features:      []string{FeatureGenerate, FeatureLyrics, FeatureExtend, FeatureCover, FeaturePersona},
		AllowedModels: []string{"V4", "V4_5", "V4_5PLUS", "V4_5ALL", "V5"},
	},
	PlanDeneme: {
		ID:            PlanDeneme,
		Name:          "Deneme Paket",
		Credits:       1000,
		DurationDays:  30,
		PriceTRY:      0,
		Features:      []string{FeatureGenerate, FeatureLyrics, FeatureExtend, FeatureCover, FeaturePersona},
		AllowedModels: []string{"V4", "V4_5", "V4_5PLUS", "V4_5ALL", "V5"},
	},
}

// PlanByID resolves a catalog entry. Purchasable plans only; PlanNone is a
// valid account state but not a grantable plan.
func PlanByID(id PlanID) (PlanDefinition, error) {
	def, ok := planCatalog[id]
	if !ok || id == PlanNone {
		return PlanDefinition{}, ErrInvalidPlan
	}
	return def, nil
}

// Plans returns the purchasable catalog entries.
func Plans() []PlanDefinition {
	out := make([]PlanDefinition, 0, len(planCatalog)-1)
	for id, def := range planCatalog {
		if id == PlanNone {
			continue
		}
		out = append(out, def)
	}
	return out
}
