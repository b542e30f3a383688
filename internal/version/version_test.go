package version

import (
	"testing"
	"time"

	"github.com/kubot64/apigw-release/internal/definition"
	"github.com/kubot64/apigw-release/internal/gateway"
)

func TestFromDefinition(t *testing.T) {
	tests := []struct {
		name    string
		version string
		title   string
		want    string
	}{
		{name: "nothing declared", want: Unknown},
		{name: "version only", version: "1.0.0", want: "1.0.0"},
		{name: "title fallback", title: "1.0.0", want: "1.0.0"},
		{name: "version wins over title", version: "1.0.1", title: "1.0.0", want: "1.0.1"},
		{name: "version tag prefix", version: "v1.0.0", want: "1.0.0"},
		{name: "title tag prefix", title: "v1.0.0", want: "1.0.0"},
		{name: "word prefix", version: "release-2.3.4", want: "2.3.4"},
		{name: "blank version falls back", version: "  ", title: "3.0.0", want: "3.0.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromDefinition(definition.Definition{Version: tt.version, Title: tt.title})
			if err != nil {
				t.Fatalf("FromDefinition: %v", err)
			}
			if got.String() != tt.want {
				t.Fatalf("FromDefinition = %q, want %q", got.String(), tt.want)
			}
		})
	}
}

func TestFromResourceVersion(t *testing.T) {
	tests := []struct {
		name string
		in   *gateway.ResourceVersion
		want string
	}{
		{name: "no record", in: nil, want: Unknown},
		{name: "version", in: &gateway.ResourceVersion{Version: "1.0.0"}, want: "1.0.0"},
		{name: "version tag prefix", in: &gateway.ResourceVersion{Version: "v1.0.0"}, want: "1.0.0"},
		{name: "title", in: &gateway.ResourceVersion{Title: "1.0.0"}, want: "1.0.0"},
		{name: "title tag prefix", in: &gateway.ResourceVersion{Title: "v1.0.0"}, want: "1.0.0"},
		{name: "empty record", in: &gateway.ResourceVersion{Name: "rv"}, want: Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromResourceVersion(tt.in)
			if err != nil {
				t.Fatalf("FromResourceVersion: %v", err)
			}
			if got.String() != tt.want {
				t.Fatalf("FromResourceVersion = %q, want %q", got.String(), tt.want)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, in := range []string{"latest", "v", "1.x.y.z"} {
		if _, err := Parse(in); err == nil {
			t.Errorf("Parse(%q): expected error", in)
		}
	}
}

func TestFix(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name        string
		current     string
		latest      string
		wantCurrent string
		wantLatest  string
	}{
		{name: "both unset", wantCurrent: "0.0.1", wantLatest: "?"},
		{name: "current unset", latest: "1.0.0", wantCurrent: "1.0.0+20240102030405", wantLatest: "1.0.0"},
		{name: "both set", current: "1.0.1", latest: "1.0.0", wantCurrent: "1.0.1", wantLatest: "1.0.0"},
		{name: "latest unset", current: "1.0.1", wantCurrent: "1.0.1", wantLatest: "?"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			current, latest := Fix(MustParse(tt.current), MustParse(tt.latest), now)
			if current.String() != tt.wantCurrent {
				t.Errorf("current = %q, want %q", current.String(), tt.wantCurrent)
			}
			if latest.String() != tt.wantLatest {
				t.Errorf("latest = %q, want %q", latest.String(), tt.wantLatest)
			}
		})
	}
}

func TestFix_ManufacturedVersionEqualsLatest(t *testing.T) {
	latest := MustParse("1.0.0")
	current, _ := Fix(Unset, latest, time.Now())

	if !current.Equal(latest) {
		t.Fatalf("%s should equal %s", current, latest)
	}
	if current.String() == latest.String() {
		t.Fatalf("expected build metadata on %s", current)
	}
}

func TestFix_DerivedIgnoresMetadataOnBothSides(t *testing.T) {
	latest := MustParse("1.0.0+20230101000000")
	current, _ := Fix(Unset, latest, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))

	if !latest.Equal(current) {
		t.Fatalf("%s should equal %s", latest, current)
	}
	if current.Equal(MustParse("1.0.1")) {
		t.Fatalf("%s should not equal 1.0.1", current)
	}
}

func TestEqual(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"1.0.0", "1.0.0", true},
		{"v1.0.0", "1.0.0", true},
		{"1.0", "1.0.0", true},
		{"1.0.0+build1", "1.0.0+build1", true},
		{"1.0.0+build1", "1.0.0+build2", false},
		{"1.0.0+hotfix", "1.0.0", false},
		{"1.0.0-rc.1", "1.0.0", false},
		{"1.0.1", "1.0.0", false},
		{"", "", true},
		{"", "1.0.0", false},
	}

	for _, tt := range tests {
		if got := MustParse(tt.a).Equal(MustParse(tt.b)); got != tt.want {
			t.Errorf("Equal(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestLessThan(t *testing.T) {
	if !MustParse("1.0.0").LessThan(MustParse("1.0.1")) {
		t.Error("1.0.0 < 1.0.1")
	}
	if MustParse("1.0.1").LessThan(MustParse("1.0.0")) {
		t.Error("1.0.1 is not < 1.0.0")
	}
	if !Unset.LessThan(MustParse("0.0.1")) {
		t.Error("unset sorts first")
	}
	if MustParse("0.0.1").LessThan(Unset) {
		t.Error("nothing is less than unset")
	}
}

func TestMarshalText(t *testing.T) {
	b, err := MustParse("v2.1.0").MarshalText()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "2.1.0" {
		t.Fatalf("MarshalText = %q", b)
	}
}
