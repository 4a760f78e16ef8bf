// Package catalog serves the static insurance plan and medication lists.
package catalog

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/vitwit/healthpay/types"
	"github.com/vitwit/healthpay/utils"
)

// Catalog is a read-only product list. Accessors return copies.
type Catalog struct {
	plans       []types.InsurancePlan
	medications []types.Medication
}

// New builds a catalog from the given products after validating each.
func New(plans []types.InsurancePlan, meds []types.Medication) (*Catalog, error) {
	for _, p := range plans {
		if err := utils.ValidatePlan(p); err != nil {
			return nil, err
		}
	}
	for _, m := range meds {
		if err := utils.ValidateMedication(m); err != nil {
			return nil, err
		}
	}
	return &Catalog{
		plans:       append([]types.InsurancePlan(nil), plans...),
		medications: append([]types.Medication(nil), meds...),
	}, nil
}

// Default returns the built-in storefront catalog.
func Default() *Catalog {
	return &Catalog{plans: defaultPlans(), medications: defaultMedications()}
}

func (c *Catalog) Plans() []types.InsurancePlan {
	out := make([]types.InsurancePlan, len(c.plans))
	for i, p := range c.plans {
		p.Benefits = append([]string(nil), p.Benefits...)
		out[i] = p
	}
	return out
}

func (c *Catalog) Plan(id int) (types.InsurancePlan, bool) {
	for _, p := range c.plans {
		if p.ID == id {
			p.Benefits = append([]string(nil), p.Benefits...)
			return p, true
		}
	}
	return types.InsurancePlan{}, false
}

func (c *Catalog) Medications() []types.Medication {
	return append([]types.Medication(nil), c.medications...)
}

func (c *Catalog) Medication(id int) (types.Medication, bool) {
	for _, m := range c.medications {
		if m.ID == id {
			return m, true
		}
	}
	return types.Medication{}, false
}

// MedicationsByCategory filters by a category slug such as "pain-relief".
// An empty slug returns everything.
func (c *Catalog) MedicationsByCategory(slug string) []types.Medication {
	if strings.TrimSpace(slug) == "" {
		return c.Medications()
	}
	want := utils.NormalizeCategory(slug)
	out := make([]types.Medication, 0)
	for _, m := range c.medications {
		if strings.EqualFold(m.Category, want) {
			out = append(out, m)
		}
	}
	return out
}

// Categories lists the distinct medication categories, sorted.
func (c *Catalog) Categories() []string {
	seen := map[string]struct{}{}
	for _, m := range c.medications {
		seen[m.Category] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for cat := range seen {
		out = append(out, cat)
	}
	sort.Strings(out)
	return out
}

func eth(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func defaultPlans() []types.InsurancePlan {
	return []types.InsurancePlan{
		{
			ID:           0,
			Name:         "Dental Care",
			Description:  "Basic dental coverage including cleanings and fillings",
			BasePriceEth: eth("0.01"),
			Benefits: []string{
				"Regular dental checkups",
				"Basic fillings and repairs",
				"Teeth cleaning and maintenance",
				"X-rays and diagnostics",
				"Emergency dental care",
			},
		},
		{
			ID:           1,
			Name:         "General Health",
			Description:  "Comprehensive health coverage for regular checkups and emergency care",
			BasePriceEth: eth("0.02"),
			Benefits: []string{
				"Primary care physician visits",
				"Specialist consultations",
				"Emergency room services",
				"Hospital stays and treatments",
				"Prescription medication coverage",
				"Preventive care services",
			},
		},
		{
			ID:           2,
			Name:         "Vision Care",
			Description:  "Eye exams and prescription glasses/contacts coverage",
			BasePriceEth: eth("0.008"),
			Benefits: []string{
				"Annual eye examinations",
				"Prescription glasses coverage",
				"Contact lenses allowance",
				"Vision correction procedures",
				"Specialized eye treatments",
			},
		},
		{
			ID:           3,
			Name:         "Preventative Care",
			Description:  "Wellness visits, vaccinations, and preventative screenings",
			BasePriceEth: eth("0.015"),
			Benefits: []string{
				"Annual wellness check-ups",
				"Vaccinations and immunizations",
				"Health screenings and tests",
				"Nutrition and dietary guidance",
				"Fitness and wellness programs",
			},
		},
	}
}

func defaultMedications() []types.Medication {
	return []types.Medication{
		{ID: 0, Name: "Ibuprofen", Description: "Pain reliever and fever reducer", Category: "Pain Relief", PriceEth: eth("0.001")},
		{ID: 1, Name: "Acetaminophen", Description: "Pain reliever and fever reducer", Category: "Pain Relief", PriceEth: eth("0.0008")},
		{ID: 2, Name: "Amoxicillin", Description: "Antibiotic for bacterial infections", Category: "Antibiotics", PriceEth: eth("0.003")},
		{ID: 3, Name: "Loratadine", Description: "Antihistamine for allergy relief", Category: "Allergy", PriceEth: eth("0.0015")},
		{ID: 4, Name: "Pseudoephedrine", Description: "Decongestant for cold and sinus", Category: "Cold & Flu", PriceEth: eth("0.002")},
		{ID: 5, Name: "Multivitamin", Description: "Daily nutritional supplement", Category: "Vitamins", PriceEth: eth("0.001")},
		{ID: 6, Name: "Naproxen", Description: "Anti-inflammatory pain reliever", Category: "Pain Relief", PriceEth: eth("0.0012")},
		{ID: 7, Name: "Cetirizine", Description: "Non-drowsy antihistamine for allergies", Category: "Allergy", PriceEth: eth("0.0018")},
		{ID: 8, Name: "Vitamin C", Description: "Immune system support", Category: "Vitamins", PriceEth: eth("0.0007")},
		{ID: 9, Name: "Dextromethorphan", Description: "Cough suppressant", Category: "Cold & Flu", PriceEth: eth("0.0017")},
		{ID: 10, Name: "Aspirin", Description: "Pain reliever and blood thinner", Category: "Pain Relief", PriceEth: eth("0.0009")},
		{ID: 11, Name: "Ciprofloxacin", Description: "Broad-spectrum antibiotic", Category: "Antibiotics", PriceEth: eth("0.0035")},
	}
}
