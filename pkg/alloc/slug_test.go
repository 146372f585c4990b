package alloc

import (
	"strings"
	"testing"

	"github.com/issueops/dispatchd/pkg/workflow"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "Login is broken", want: "login-is-broken"},
		{in: "  Fix: the / weird .. chars!  ", want: "fix-the-weird-chars"},
		{in: "ALL CAPS TITLE", want: "all-caps-title"},
		{in: "update to v2.1.0", want: "update-to-v2-1-0"},
		{in: "---", want: ""},
		{in: "", want: ""},
		{in: "émoji 🎉 title", want: "moji-title"},
	}

	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSlugifyTruncates(t *testing.T) {
	long := strings.Repeat("word ", 30)
	slug := Slugify(long)
	if len(slug) > slugMaxLen {
		t.Errorf("len(slug) = %d, want <= %d", len(slug), slugMaxLen)
	}
	if strings.HasSuffix(slug, "-") || strings.HasPrefix(slug, "-") {
		t.Errorf("slug has dangling hyphen: %q", slug)
	}
}

func TestBranchName(t *testing.T) {
	tests := []struct {
		family workflow.Family
		id     string
		title  string
		want   string
	}{
		{
			family: workflow.FamilyApp,
			id:     "app-1a2b3c4d",
			title:  "Login is broken",
			want:   "app/app-1a2b3c4d-login-is-broken",
		},
		{
			family: workflow.FamilyInfra,
			id:     "infra-0badf00d",
			title:  "",
			want:   "infra/infra-0badf00d",
		},
	}

	for _, tt := range tests {
		if got := BranchName(tt.family, tt.id, tt.title); got != tt.want {
			t.Errorf("BranchName(%s, %s, %q) = %q, want %q", tt.family, tt.id, tt.title, got, tt.want)
		}
	}
}
