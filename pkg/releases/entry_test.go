package releases

import (
	"strings"
	"testing"

	"github.com/hashicorp/go-version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHash = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func TestParseFilename(t *testing.T) {
	var cases = []struct {
		in      string
		id      string
		version string
		delta   bool
		ok      bool
	}{
		{"myapp.1.2.3-full.upkg", "myapp", "1.2.3", false, true},
		{"myapp.1.2.3-delta.upkg", "myapp", "1.2.3", true, true},
		{"my.dotted.app.2.0.0-full.upkg", "my.dotted.app", "2.0.0", false, true},
		{"myapp.1.0.0-beta.1-full.upkg", "myapp", "1.0.0-beta.1", false, true},
		{"myapp.1.2.3.upkg", "", "", false, false},
		{"myapp-full.upkg", "", "", false, false},
		{"myapp.1.2.3-full", "", "", false, false},
		{"dir/myapp.1.2.3-full.upkg", "", "", false, false},
		{"", "", "", false, false},
	}

	for _, tt := range cases {
		t.Run(tt.in, func(t *testing.T) {
			id, v, delta, err := ParseFilename(tt.in)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.EqualValues(t, tt.id, id)
			assert.EqualValues(t, tt.version, v.Original())
			assert.EqualValues(t, tt.delta, delta)
		})
	}
}

func TestFilename(t *testing.T) {
	v := version.Must(version.NewSemver("1.2.3"))
	assert.EqualValues(t, "myapp.1.2.3-full.upkg", Filename("myapp", v, false, ""))
	assert.EqualValues(t, "myapp.1.2.3-delta.zip", Filename("myapp", v, true, ".zip"))

	// short versions are written in canonical form
	short := version.Must(version.NewSemver("1.0"))
	assert.EqualValues(t, "myapp.1.0.0-full.upkg", Filename("myapp", short, false, ""))
}

func TestValidateID(t *testing.T) {
	var cases = []struct {
		id      string
		version string
		ok      bool
	}{
		{"MyApp", "1.0.0", true},
		{"my.dotted.app", "2.0.0", true},
		{"Company.MyApp", "1.0.0-beta.1", true},
		{"Foo.2", "1.0.0", false},
		{"Company.v2", "1.0.0", false},
		{"My App", "1.0.0", false},
		{"", "1.0.0", false},
	}
	for _, tt := range cases {
		t.Run(tt.id, func(t *testing.T) {
			err := ValidateID(tt.id, version.Must(version.NewSemver(tt.version)))
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
		})
	}
}

func TestParseEntry(t *testing.T) {
	var cases = []struct {
		name  string
		in    string
		base  string
		query string
		ok    bool
	}{
		{"minimal", testHash + " myapp.1.0.0-full.upkg 1024", "", "", true},
		{"carriage return", testHash + " myapp.1.0.0-full.upkg 1024\r", "", "", true},
		{"base url", testHash + " myapp.1.0.0-full.upkg 1024 https://example.com/releases", "https://example.com/releases", "", true},
		{"query only", testHash + " myapp.1.0.0-full.upkg 1024 ?token=abc", "", "?token=abc", true},
		{"base url and query", testHash + " myapp.1.0.0-full.upkg 1024 https://example.com ?token=abc", "https://example.com", "?token=abc", true},
		{"short hash", "aaaa myapp.1.0.0-full.upkg 1024", "", "", false},
		{"non hex hash", strings.Repeat("z", 40) + " myapp.1.0.0-full.upkg 1024", "", "", false},
		{"non numeric length", testHash + " myapp.1.0.0-full.upkg big", "", "", false},
		{"double space", testHash + "  myapp.1.0.0-full.upkg 1024", "", "", false},
		{"too many fields", testHash + " myapp.1.0.0-full.upkg 1024 a ?b c", "", "", false},
		{"query before base", testHash + " myapp.1.0.0-full.upkg 1024 ?b https://example.com", "", "", false},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			e, err := ParseEntry(tt.in)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.EqualValues(t, 1024, e.Size)
			assert.EqualValues(t, tt.base, e.BaseURL)
			assert.EqualValues(t, tt.query, e.Query)
			assert.EqualValues(t, strings.TrimSuffix(tt.in, "\r"), e.String())
		})
	}
}

func TestEntry_URL(t *testing.T) {
	e, err := ParseEntry(testHash + " myapp.1.0.0-full.upkg 10 ?sig=1")
	require.NoError(t, err)
	assert.EqualValues(t, "https://cdn.example.com/app/myapp.1.0.0-full.upkg?sig=1", e.URL("https://cdn.example.com/app/"))

	e.BaseURL = "https://mirror.example.com"
	assert.EqualValues(t, "https://mirror.example.com/myapp.1.0.0-full.upkg?sig=1", e.URL("https://cdn.example.com/app"))
}

func TestEntry_FullFilename(t *testing.T) {
	e, err := NewEntry(testHash, "myapp.1.0.0-delta.upkg", 1)
	require.NoError(t, err)
	assert.EqualValues(t, "myapp.1.0.0-full.upkg", e.FullFilename())
}
