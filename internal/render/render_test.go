package render

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRSTParagraph(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"plain", "Hello World!", "<p>Hello World!</p>\n"},
		{"strong", "**Hello World!**", "<p><strong>Hello World!</strong></p>\n"},
		{"emphasis", "*Hello*", "<p><em>Hello</em></p>\n"},
		{"escaped html", "a <b> & c", "<p>a &lt;b&gt; &amp; c</p>\n"},
		{"multi line", "one\ntwo", "<p>one\ntwo</p>\n"},
		{
			"literal",
			"use ``zuul.yaml``",
			`<p>use <code class="docutils literal notranslate"><span class="pre">zuul.yaml</span></code></p>` + "\n",
		},
		{
			"external link",
			"`Zuul <https://zuul-ci.org>`_",
			`<p><a class="reference external" href="https://zuul-ci.org">Zuul</a></p>` + "\n",
		},
		{
			"bare url",
			"see https://zuul-ci.org.",
			`<p>see <a class="reference external" href="https://zuul-ci.org">https://zuul-ci.org</a>.</p>` + "\n",
		},
		{
			"role",
			"set :zuul:rolevar:`foo.bar`",
			`<p>set <code class="xref docutils literal notranslate"><span class="pre">foo.bar</span></code></p>` + "\n",
		},
		{"lone asterisk", "2 * 3", "<p>2 * 3</p>\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := RST(tt.content)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.HTML)
			assert.Equal(t, []string{}, res.Platforms)
			assert.False(t, res.Reusable)
		})
	}
}

func TestRSTJobDescription(t *testing.T) {
	content := "This is just a job for testing purposes.\n\n.. supported_os:: Linux\n\n.. reusable:: True\n"

	res, err := RST(content)
	require.NoError(t, err)
	assert.Equal(t, "<p>This is just a job for testing purposes.</p>\n", res.HTML)
	assert.Equal(t, []string{"linux"}, res.Platforms)
	assert.True(t, res.Reusable)
}

func TestRSTSupportedOSList(t *testing.T) {
	content := "This works on Linux and Windows!\n\n.. supported_os:: Linux, Windows\n"

	res, err := RST(content)
	require.NoError(t, err)
	assert.Equal(t, "<p>This works on Linux and Windows!</p>\n", res.HTML)
	assert.Equal(t, []string{"linux", "windows"}, res.Platforms)
	assert.False(t, res.Reusable)
}

func TestRSTReusableFalse(t *testing.T) {
	res, err := RST(".. reusable:: no\n")
	require.NoError(t, err)
	assert.False(t, res.Reusable)
	assert.Equal(t, "", res.HTML)
}

func TestRSTHeadings(t *testing.T) {
	content := "Title\n=====\n\nSection\n-------\n\nText\n\nOther\n=====\n"

	res, err := RST(content)
	require.NoError(t, err)
	assert.Equal(t, "<h1>Title</h1>\n<h2>Section</h2>\n<p>Text</p>\n<h1>Other</h1>\n", res.HTML)
}

func TestRSTLists(t *testing.T) {
	res, err := RST("* one\n* two\n\n1. first\n2. second\n")
	require.NoError(t, err)
	want := "<ul class=\"simple\">\n<li><p>one</p></li>\n<li><p>two</p></li>\n</ul>\n" +
		"<ol class=\"arabic simple\">\n<li><p>first</p></li>\n<li><p>second</p></li>\n</ol>\n"
	assert.Equal(t, want, res.HTML)
}

func TestRSTCodeBlock(t *testing.T) {
	content := ".. code-block:: yaml\n\n   - job:\n       name: foo\n"

	res, err := RST(content)
	require.NoError(t, err)
	want := "<div class=\"highlight-yaml notranslate\"><div class=\"highlight\"><pre><span></span>- job:\n    name: foo\n</pre></div>\n</div>\n"
	assert.Equal(t, want, res.HTML)
}

func TestRSTLiteralBlock(t *testing.T) {
	res, err := RST("Example::\n\n    a < b\n")
	require.NoError(t, err)
	want := "<p>Example:</p>\n<div class=\"highlight-default notranslate\"><div class=\"highlight\"><pre><span></span>a &lt; b\n</pre></div>\n</div>\n"
	assert.Equal(t, want, res.HTML)
}

func TestRSTAdmonition(t *testing.T) {
	res, err := RST(".. note::\n\n   Be careful.\n")
	require.NoError(t, err)
	assert.Equal(t, "<div class=\"admonition note\">\n<p class=\"admonition-title\">Note</p>\n<p>Be careful.</p>\n</div>\n", res.HTML)
}

func TestRSTRoleVar(t *testing.T) {
	content := ".. zuul:rolevar:: timeout\n   :default: 30\n\n   Seconds to wait.\n"

	res, err := RST(content)
	require.NoError(t, err)
	want := "<dl class=\"zuul rolevar\">\n<dt><code class=\"descname\">timeout</code></dt>\n" +
		"<dd><p>Default: <code>30</code></p>\n<p>Seconds to wait.</p>\n</dd>\n</dl>\n"
	assert.Equal(t, want, res.HTML)
}

func TestRSTCommentIsSkipped(t *testing.T) {
	res, err := RST(".. this is a comment\n   spanning lines\n\nText\n")
	require.NoError(t, err)
	assert.Equal(t, "<p>Text</p>\n", res.HTML)
}

func TestRSTErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		line    int
	}{
		{"unterminated literal", "Some ``literal text", 1},
		{"unknown directive", "Text\n\n.. frobnicate:: now\n", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := RST(tt.content)
			require.Error(t, err)
			var renderErr *RenderError
			require.True(t, errors.As(err, &renderErr))
			assert.Equal(t, tt.line, renderErr.Line)
		})
	}
}

func TestMarkdown(t *testing.T) {
	res, err := Markdown("# Hello World!")
	require.NoError(t, err)
	assert.Equal(t, "<h1>Hello World!</h1>\n", res.HTML)
	assert.Equal(t, []string{}, res.Platforms)

	res, err = Markdown("Hello World!")
	require.NoError(t, err)
	assert.Equal(t, "<p>Hello World!</p>\n", res.HTML)
}

func TestFile(t *testing.T) {
	res := File("README.rst", "**Hello World!**", nil)
	require.NotNil(t, res)
	assert.Equal(t, "<p><strong>Hello World!</strong></p>\n", res.HTML)

	res = File("docs/README.MD", "# Hello World!", nil)
	require.NotNil(t, res)
	assert.Equal(t, "<h1>Hello World!</h1>\n", res.HTML)

	assert.Nil(t, File("README.txt", "Hello", nil))
	assert.Nil(t, File("README", "Hello", nil))
	assert.Nil(t, File("README.rst", "broken ``literal", nil))
}
