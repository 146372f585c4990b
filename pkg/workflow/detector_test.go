package workflow

import (
	"testing"
)

func TestDetectSingleToken(t *testing.T) {
	detector := NewDetector()

	tests := []struct {
		name       string
		text       string
		wantFamily Family
		wantPhase  string
	}{
		{
			name:       "bare app token",
			text:       "app-plan-workflow",
			wantFamily: FamilyApp,
			wantPhase:  "plan",
		},
		{
			name:       "token in prose",
			text:       "Please run app-build-workflow app-1a2b3c4d when you get a chance.",
			wantFamily: FamilyApp,
			wantPhase:  "build",
		},
		{
			name:       "uppercase text",
			text:       "APP-SHIP-WORKFLOW APP-DEADBEEF",
			wantFamily: FamilyApp,
			wantPhase:  "ship",
		},
		{
			name:       "token with trailing punctuation",
			text:       "Kick off infra-plan-workflow.",
			wantFamily: FamilyInfra,
			wantPhase:  "plan",
		},
		{
			name:       "token in markdown emphasis",
			text:       "Run *infra-test-workflow* against infra-0badf00d",
			wantFamily: FamilyInfra,
			wantPhase:  "test",
		},
		{
			name: "token on later line",
			text: "Here is some context about the problem.\n\napp-patch-workflow\n\nThanks!",
			wantFamily: FamilyApp,
			wantPhase:  "patch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			phase, ok := detector.Detect(tt.text)
			if !ok {
				t.Fatalf("Detect(%q) found nothing", tt.text)
			}
			if phase.Family != tt.wantFamily {
				t.Errorf("family = %s, want %s", phase.Family, tt.wantFamily)
			}
			if phase.Name != tt.wantPhase {
				t.Errorf("phase = %s, want %s", phase.Name, tt.wantPhase)
			}
		})
	}
}

func TestDetectNoToken(t *testing.T) {
	detector := NewDetector()

	tests := []struct {
		name string
		text string
	}{
		{name: "empty text", text: ""},
		{name: "plain prose", text: "This deployment looks broken, can someone take a look?"},
		{name: "partial token", text: "the app-build pipeline"},
		{name: "token as substring of a word", text: "xapp-plan-workflowy"},
		{name: "token embedded without word boundary", text: "prefixapp-plan-workflow"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if phase, ok := detector.Detect(tt.text); ok {
				t.Errorf("Detect(%q) = %s, want no match", tt.text, phase.Token)
			}
		})
	}
}

// Infra tokens outrank app tokens when both families appear in one text.
func TestDetectFamilyPriority(t *testing.T) {
	detector := NewDetector()

	phase, ok := detector.Detect("app-plan-workflow and infra-plan-workflow")
	if !ok {
		t.Fatal("Detect found nothing")
	}
	if phase.Family != FamilyInfra {
		t.Errorf("family = %s, want infra", phase.Family)
	}
}

// infra-build-workflow is a substring of nothing, but infra-build-ami-workflow
// contains "infra-build" style prefixes. Whole-word matching plus longest-first
// ordering must keep the two from shadowing each other.
func TestDetectCompoundTokens(t *testing.T) {
	detector := NewDetector()

	tests := []struct {
		text      string
		wantPhase string
	}{
		{text: "infra-build-ami-workflow infra-11223344", wantPhase: "build-ami"},
		{text: "infra-build-workflow infra-11223344", wantPhase: "build"},
		{text: "run infra-build-ami-workflow then infra-build-workflow", wantPhase: "build-ami"},
	}

	for _, tt := range tests {
		phase, ok := detector.Detect(tt.text)
		if !ok {
			t.Fatalf("Detect(%q) found nothing", tt.text)
		}
		if phase.Name != tt.wantPhase {
			t.Errorf("Detect(%q) = %s, want %s", tt.text, phase.Name, tt.wantPhase)
		}
	}
}

func TestCatalogTokensLongestFirst(t *testing.T) {
	for _, catalog := range DefaultCatalogs() {
		tokens := catalog.Tokens()
		for i := 1; i < len(tokens); i++ {
			if len(tokens[i-1]) < len(tokens[i]) {
				t.Errorf("%s catalog tokens out of order: %q before %q",
					catalog.Family(), tokens[i-1], tokens[i])
			}
		}
	}
}
