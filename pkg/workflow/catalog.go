package workflow

import (
	"fmt"
	"regexp"
	"sort"
)

// Family identifies which phase catalog, state namespace, and bot marker apply.
type Family string

const (
	// FamilyApp covers application change workflows.
	FamilyApp Family = "app"

	// FamilyInfra covers infrastructure change workflows.
	FamilyInfra Family = "infra"
)

// IDPattern returns the regular expression matching this family's instance
// id shape: the family prefix plus an 8 character lowercase hex suffix.
func (f Family) IDPattern() *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`^%s-[0-9a-f]{8}$`, f))
}

// Phase is one routable pipeline step within a family catalog.
type Phase struct {
	// Token is the literal trigger token, e.g. "app-build-workflow".
	Token string

	// Family fixes which catalog the phase belongs to.
	Family Family

	// Name is the bare phase name, e.g. "build".
	Name string

	// Dependent phases require a pre-existing instance id to execute.
	Dependent bool
}

// WorkedExample returns a complete trigger example using this exact token.
func (p Phase) WorkedExample() string {
	if !p.Dependent {
		return p.Token
	}
	return fmt.Sprintf("%s %s-xxxxxxxx", p.Token, p.Family)
}

// Catalog is an ordered list of phase tokens for one family, most specific
// (longest) first so a short token never shadows a longer compound token.
type Catalog struct {
	family Family
	phases []Phase
}

// NewCatalog builds a catalog for a family, sorting tokens longest-first.
func NewCatalog(family Family, phases []Phase) Catalog {
	sorted := make([]Phase, len(phases))
	copy(sorted, phases)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Token) > len(sorted[j].Token)
	})
	return Catalog{family: family, phases: sorted}
}

// Family returns the family this catalog routes for.
func (c Catalog) Family() Family {
	return c.family
}

// Phases returns the catalog's phases in matching order.
func (c Catalog) Phases() []Phase {
	return c.phases
}

// Tokens returns the catalog's trigger tokens in matching order.
func (c Catalog) Tokens() []string {
	tokens := make([]string, len(c.phases))
	for i, p := range c.phases {
		tokens[i] = p.Token
	}
	return tokens
}

// Lookup finds a phase in the catalog by its bare name.
func (c Catalog) Lookup(name string) (Phase, bool) {
	for _, p := range c.phases {
		if p.Name == name {
			return p, true
		}
	}
	return Phase{}, false
}

// phaseNames lists each family's phases. plan, full-pipeline, and patch are
// independent (they may create a new instance); everything else requires one.
var appPhases = []Phase{
	{Token: "app-plan-workflow", Family: FamilyApp, Name: "plan"},
	{Token: "app-full-pipeline-workflow", Family: FamilyApp, Name: "full-pipeline"},
	{Token: "app-patch-workflow", Family: FamilyApp, Name: "patch"},
	{Token: "app-build-workflow", Family: FamilyApp, Name: "build", Dependent: true},
	{Token: "app-test-workflow", Family: FamilyApp, Name: "test", Dependent: true},
	{Token: "app-review-workflow", Family: FamilyApp, Name: "review", Dependent: true},
	{Token: "app-document-workflow", Family: FamilyApp, Name: "document", Dependent: true},
	{Token: "app-ship-workflow", Family: FamilyApp, Name: "ship", Dependent: true},
}

var infraPhases = []Phase{
	{Token: "infra-plan-workflow", Family: FamilyInfra, Name: "plan"},
	{Token: "infra-full-pipeline-workflow", Family: FamilyInfra, Name: "full-pipeline"},
	{Token: "infra-patch-workflow", Family: FamilyInfra, Name: "patch"},
	{Token: "infra-build-workflow", Family: FamilyInfra, Name: "build", Dependent: true},
	{Token: "infra-build-ami-workflow", Family: FamilyInfra, Name: "build-ami", Dependent: true},
	{Token: "infra-test-workflow", Family: FamilyInfra, Name: "test", Dependent: true},
	{Token: "infra-review-workflow", Family: FamilyInfra, Name: "review", Dependent: true},
	{Token: "infra-document-workflow", Family: FamilyInfra, Name: "document", Dependent: true},
	{Token: "infra-ship-workflow", Family: FamilyInfra, Name: "ship", Dependent: true},
}

// DefaultCatalogs returns the catalogs in priority order: infra before app.
// When both families' tokens appear in one text, infra wins.
func DefaultCatalogs() []Catalog {
	return []Catalog{
		NewCatalog(FamilyInfra, infraPhases),
		NewCatalog(FamilyApp, appPhases),
	}
}

// CatalogFor returns the default catalog for one family.
func CatalogFor(family Family) (Catalog, bool) {
	for _, c := range DefaultCatalogs() {
		if c.family == family {
			return c, true
		}
	}
	return Catalog{}, false
}
