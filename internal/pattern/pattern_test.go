package pattern

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile(t *testing.T) {
	tests := []struct {
		source   string
		captures int
		names    []string
	}{
		{source: "confirm", captures: 0, names: []string{}},
		{source: "button_:arg", captures: 1, names: []string{"arg"}},
		{source: "button_[arg]", captures: 1, names: []string{"arg"}},
		{source: "page_:n_of_[total]", captures: 2, names: []string{"n", "total"}},
		{source: ":a_:b_:c", captures: 3, names: []string{"a", "b", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			p, err := Compile(tt.source)
			require.NoError(t, err)
			assert.Equal(t, tt.source, p.String())
			assert.Equal(t, tt.captures, p.Captures())
			assert.Equal(t, tt.names, p.Names())
			assert.Equal(t, tt.captures == 0, p.IsLiteral())
		})
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name   string
		source string
	}{
		{name: "empty", source: ""},
		{name: "empty segment", source: "a__b"},
		{name: "trailing delimiter", source: "a_"},
		{name: "empty colon capture", source: "a_:"},
		{name: "empty bracket capture", source: "a_[]"},
		{name: "unterminated bracket", source: "a_[arg"},
		{name: "stray bracket", source: "a_arg]"},
		{name: "colon inside literal", source: "a_b:c"},
		{name: "bad capture name", source: "a_:1st"},
		{name: "duplicate capture", source: ":id_x_[id]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.source)
			require.Error(t, err)

			var syn *SyntaxError
			require.True(t, errors.As(err, &syn))
			assert.Equal(t, tt.source, syn.Pattern)
			assert.Contains(t, err.Error(), `"`+tt.source+`"`)
		})
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		key     string
		match   bool
		params  map[string]string
	}{
		{name: "colon capture", pattern: "button_:arg", key: "button_hello", match: true, params: map[string]string{"arg": "hello"}},
		{name: "bracket capture", pattern: "button_[arg]", key: "button_hello", match: true, params: map[string]string{"arg": "hello"}},
		{name: "segment count mismatch", pattern: "button_:arg", key: "button_hello_world"},
		{name: "too few segments", pattern: "button_:arg", key: "button"},
		{name: "literal is not a prefix match", pattern: "button_:arg", key: "buttonx_hello"},
		{name: "literal is case sensitive", pattern: "button_:arg", key: "Button_hello"},
		{name: "capture must be non-empty", pattern: "button_:arg", key: "button_"},
		{name: "literal pattern", pattern: "confirm_delete", key: "confirm_delete", match: true, params: map[string]string{}},
		{name: "literal pattern mismatch", pattern: "confirm_delete", key: "confirm_remove"},
		{name: "multiple captures", pattern: "page_:n_of_[total]", key: "page_2_of_9", match: true, params: map[string]string{"n": "2", "total": "9"}},
		{name: "capture keeps punctuation", pattern: "user_:id", key: "user_175928847299117063", match: true, params: map[string]string{"id": "175928847299117063"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := MustCompile(tt.pattern)
			params, ok := p.Match(tt.key)
			assert.Equal(t, tt.match, ok)
			if tt.match {
				assert.Equal(t, tt.params, params)
			} else {
				assert.Nil(t, params)
			}
		})
	}
}

func TestSyntaxEquivalence(t *testing.T) {
	colon := MustCompile("vote_:choice_:round")
	bracket := MustCompile("vote_[choice]_[round]")
	mixed := MustCompile("vote_:choice_[round]")

	for _, key := range []string{"vote_yes_1", "vote_no_2", "vote_yes", "vote__1", "poll_yes_1"} {
		a, okA := colon.Match(key)
		b, okB := bracket.Match(key)
		c, okC := mixed.Match(key)
		assert.Equal(t, okA, okB, key)
		assert.Equal(t, okA, okC, key)
		assert.Equal(t, a, b, key)
		assert.Equal(t, a, c, key)
	}
}

func TestSegmentsIsACopy(t *testing.T) {
	p := MustCompile("a_:b")
	segs := p.Segments()
	segs[0].Literal = "changed"
	assert.Equal(t, "a", p.Segments()[0].Literal)
}

func TestExpand(t *testing.T) {
	p := MustCompile("page_:n_of_[total]")

	id, err := p.Expand(map[string]string{"n": "3", "total": "10"})
	require.NoError(t, err)
	assert.Equal(t, "page_3_of_10", id)

	params, ok := p.Match(id)
	require.True(t, ok)
	assert.Equal(t, map[string]string{"n": "3", "total": "10"}, params)

	_, err = p.Expand(map[string]string{"n": "3"})
	assert.Error(t, err)

	_, err = p.Expand(map[string]string{"n": "3", "total": "1_0"})
	assert.Error(t, err)
}

func TestMustCompilePanics(t *testing.T) {
	assert.Panics(t, func() { MustCompile("a__b") })
}
