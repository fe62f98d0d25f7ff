package parser

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BadgerOps/jobindex/internal/repository"
	"github.com/BadgerOps/jobindex/internal/repository/repotest"
	"github.com/BadgerOps/jobindex/internal/scraper"
	"github.com/BadgerOps/jobindex/internal/store"
	"github.com/BadgerOps/jobindex/internal/tenant"
)

const (
	job1SHA  = "83bf1474a8a84cc1dddc8da435e2e4d9f4bbdeb1"
	job2SHA  = "1e4008e1c0f4511579e49854c34905b419441331"
	job3SHA  = "728e71a5ab9d095d7b983aee6db6ea4656072658"
	role1SHA = "a336b3fdba7cd8ad535350fd7d249b7285670dfd"
	role2SHA = "f39ee170837cb6a91cbb3d7f9def7584a3a27919"
)

func readFixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return string(data)
}

func date(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func repoData(t *testing.T) (*repotest.Fake, tenant.Tenants, scraper.JobFiles, scraper.RoleFiles) {
	t.Helper()
	repo := repotest.New("my/project", nil)
	repo.BaseURL = "https://github/my/project"

	tenants := tenant.Tenants{Jobs: []string{"foo"}, Roles: []string{"foo", "bar"}}

	jobFiles := scraper.JobFiles{
		"zuul.d/jobs.yaml":             {Content: readFixture(t, "zuul.d/jobs.yaml"), Blame: []repository.BlameRange{}},
		"zuul.d/no-jobs.yaml":          {Content: readFixture(t, "zuul.d/no-jobs.yaml"), Blame: []repository.BlameRange{}},
		"zuul.d/jobs-parse-error.yaml": {Content: readFixture(t, "zuul.d/jobs-parse-error.yaml"), Blame: []repository.BlameRange{}},
	}

	changed := time.Date(2018, 9, 17, 15, 15, 15, 0, time.UTC)
	roleFiles := scraper.RoleFiles{
		"foo": {
			LastChanged: changed,
			Readme:      &scraper.RoleFile{Path: "roles/foo/README.rst", Content: readFixture(t, "roles/foo/README.rst")},
		},
		"bar": {
			LastChanged: changed,
			Readme:      &scraper.RoleFile{Path: "roles/bar/README.rst", Content: readFixture(t, "roles/bar/README.rst")},
			Changelog:   &scraper.RoleFile{Path: "roles/bar/CHANGELOG.md", Content: readFixture(t, "roles/bar/CHANGELOG.md")},
		},
	}
	return repo, tenants, jobFiles, roleFiles
}

func strPtr(s string) *string { return &s }

func TestParse(t *testing.T) {
	scrapeTime := time.Now().UTC()
	repo, tenants, jobFiles, roleFiles := repoData(t)

	jobs, roles := New(repo, tenants, jobFiles, roleFiles, scrapeTime, false, nil).Parse(context.Background())
	require.Len(t, jobs, 4)

	expected := []store.ZuulJob{
		{
			ID:      job1SHA,
			Name:    "my-cool-new-job",
			Repo:    "my/project",
			Tenants: []string{"foo"},
			Description: "This is just a job for testing purposes.\n\n" +
				".. supported_os:: Linux\n\n" +
				".. reusable:: True\n",
			DescriptionHTML: "<p>This is just a job for testing purposes.</p>\n",
			Parent:          strPtr("cool-base-job"),
			URL:             "https://github/my/project/blob/master/zuul.d/jobs.yaml#L1-L11",
			Platforms:       []string{"linux"},
			Reusable:        true,
			LineStart:       1,
			LineEnd:         11,
			ScrapeTime:      scrapeTime,
		},
		{
			ID:              job2SHA,
			Name:            "another-job",
			Repo:            "my/project",
			Tenants:         []string{"foo"},
			Description:     "This time without a playbook and a parent.\n",
			DescriptionHTML: "<p>This time without a playbook and a parent.</p>\n",
			Parent:          strPtr("base"),
			URL:             "https://github/my/project/blob/master/zuul.d/jobs.yaml#L12-L16",
			Platforms:       []string{},
			LineStart:       12,
			LineEnd:         16,
			ScrapeTime:      scrapeTime,
		},
		{
			ID:              job3SHA,
			Name:            "cool-base-job",
			Repo:            "my/project",
			Tenants:         []string{"foo"},
			Description:     "This is a base job with explicitly no parent.\n",
			DescriptionHTML: "<p>This is a base job with explicitly no parent.</p>\n",
			URL:             "https://github/my/project/blob/master/zuul.d/jobs.yaml#L17-L22",
			Platforms:       []string{},
			LineStart:       17,
			LineEnd:         22,
			ScrapeTime:      scrapeTime,
		},
		{
			ID:         store.DocumentID("my/projectno-description-job"),
			Name:       "no-description-job",
			Repo:       "my/project",
			Tenants:    []string{"foo"},
			URL:        "https://github/my/project/blob/master/zuul.d/jobs.yaml#L23-L25",
			Platforms:  []string{},
			LineStart:  23,
			LineEnd:    25,
			ScrapeTime: scrapeTime,
		},
	}
	for i := range expected {
		assert.Equal(t, expected[i], jobs[i], "job %d", i)
	}

	require.Len(t, roles, 2)
	bar, foo := roles[0], roles[1]
	changed := time.Date(2018, 9, 17, 15, 15, 15, 0, time.UTC)

	assert.Equal(t, role1SHA, foo.ID)
	assert.Equal(t, "foo", foo.Name)
	assert.Equal(t, []string{"foo", "bar"}, foo.Tenants)
	assert.Equal(t, "https://github/my/project/tree/master/roles/foo", foo.URL)
	assert.Equal(t, "<p>Just some simple description</p>\n", foo.DescriptionHTML)
	assert.Equal(t, []string{"linux", "windows"}, foo.Platforms)
	assert.True(t, foo.Reusable)
	assert.Equal(t, &changed, foo.LastUpdated)
	assert.Empty(t, foo.Changelog)

	assert.Equal(t, role2SHA, bar.ID)
	assert.Equal(t, "https://github/my/project/tree/master/roles/bar", bar.URL)
	assert.Equal(t, readFixture(t, "roles/bar/README.rst"), bar.Description)
	assert.Contains(t, bar.DescriptionHTML, "<p><strong>Role variables</strong></p>\n")
	assert.Contains(t, bar.DescriptionHTML, `<dl class="zuul rolevar">`)
	assert.Contains(t, bar.DescriptionHTML, "<p>Default: <code>some_value</code></p>")
	assert.Equal(t, []string{}, bar.Platforms)
	assert.False(t, bar.Reusable)
	assert.Contains(t, bar.ChangelogHTML, "<h1>Changelog</h1>")
	assert.Equal(t, readFixture(t, "roles/bar/CHANGELOG.md"), bar.Changelog)
}

func TestParseReusableRepo(t *testing.T) {
	repo, tenants, jobFiles, roleFiles := repoData(t)

	jobs, roles := New(repo, tenants, jobFiles, roleFiles, time.Now(), true, nil).Parse(context.Background())
	require.Len(t, jobs, 4)
	require.Len(t, roles, 2)

	for _, job := range jobs {
		assert.True(t, job.Reusable, job.Name)
	}
	for _, role := range roles {
		assert.True(t, role.Reusable, role.Name)
	}
}

func TestParsePrivateRepoAndBlame(t *testing.T) {
	repo, tenants, _, _ := repoData(t)
	repo.IsPrivate = true

	jobFiles := scraper.JobFiles{
		"zuul.d/jobs.yaml": {
			Content: readFixture(t, "zuul.d/jobs.yaml"),
			Blame: []repository.BlameRange{
				{Start: 1, End: 11, Date: date("2018-01-01")},
				{Start: 12, End: 25, Date: date("2018-02-02")},
			},
		},
	}

	jobs, _ := New(repo, tenants, jobFiles, nil, time.Now(), false, nil).Parse(context.Background())
	require.Len(t, jobs, 4)
	assert.True(t, jobs[0].Private)
	require.NotNil(t, jobs[0].LastUpdated)
	assert.Equal(t, date("2018-01-01"), *jobs[0].LastUpdated)
	require.NotNil(t, jobs[3].LastUpdated)
	assert.Equal(t, date("2018-02-02"), *jobs[3].LastUpdated)
}

func TestParseEncryptedSecrets(t *testing.T) {
	repo, tenants, _, _ := repoData(t)
	jobFiles := scraper.JobFiles{
		"zuul.d/secrets.yaml": {Content: readFixture(t, "zuul.d/secrets.yaml")},
	}

	jobs, _ := New(repo, tenants, jobFiles, nil, time.Now(), false, nil).Parse(context.Background())
	require.Len(t, jobs, 1)
	assert.Equal(t, "secret-job", jobs[0].Name)
	assert.Equal(t, 7, jobs[0].LineStart)
	assert.Equal(t, 10, jobs[0].LineEnd)
}

func TestParseExtraConfigPathTenants(t *testing.T) {
	repo, _, _, _ := repoData(t)
	tenants := tenant.Tenants{
		Jobs:             []string{"foo"},
		ExtraConfigPaths: map[string][]string{"extra": {"bar"}},
	}
	content := readFixture(t, "zuul.d/secrets.yaml")
	jobFiles := scraper.JobFiles{
		"extra/jobs.yaml":     {Content: content},
		"zuul.d/secrets.yaml": {Content: content},
	}

	jobs, roles := New(repo, tenants, jobFiles, nil, time.Now(), false, nil).Parse(context.Background())
	require.Len(t, jobs, 2)
	assert.Equal(t, []string{"foo", "bar"}, jobs[0].Tenants)
	assert.Equal(t, []string{"foo"}, jobs[1].Tenants)
	assert.Empty(t, roles)
}

func TestParseSkipsInvalidDefinitions(t *testing.T) {
	repo, tenants, _, _ := repoData(t)
	jobFiles := scraper.JobFiles{
		"zuul.yaml":      {Content: "- job:\n    parent: base\n- job:\n    name: named\n"},
		"mapping.yaml":   {Content: "job:\n  name: not-a-list\n"},
		"empty.yaml":     {Content: ""},
		"bad-job.yaml":   {Content: "- job: just-a-string\n- nope\n"},
		"two-keys.yaml":  {Content: "- job:\n    name: first\n  other: value\n\n- job:\n    name: second\n"},
		"tabs.yaml":      {Content: "- job:\n\tname: tabs\n"},
		"tagged.yaml":    {Content: "- job:\n    name: !!str 42\n"},
		"flow.yaml":      {Content: "- job: {name: flow}\n- job: {name: flow-2}\n"},
		"comments.yaml":  {Content: "# leading comment\n- job:\n    name: commented\n# trailing\n"},
		"no-trail.yaml":  {Content: "- job:\n    name: no-trailing-newline"},
		"null-desc.yaml": {Content: "- job:\n    name: null-desc\n    description:\n"},
	}

	jobs, _ := New(repo, tenants, jobFiles, nil, time.Now(), false, nil).Parse(context.Background())

	byName := make(map[string]store.ZuulJob)
	for _, j := range jobs {
		byName[j.Name] = j
	}
	assert.Len(t, byName, 9)

	assert.Equal(t, 3, byName["named"].LineStart)
	assert.Equal(t, 4, byName["named"].LineEnd)

	assert.Equal(t, 1, byName["first"].LineStart)
	assert.Equal(t, 2, byName["first"].LineEnd)
	assert.Equal(t, 5, byName["second"].LineStart)
	assert.Equal(t, 6, byName["second"].LineEnd)

	assert.Equal(t, 1, byName["flow"].LineStart)
	assert.Equal(t, 1, byName["flow"].LineEnd)
	assert.Equal(t, 2, byName["flow-2"].LineStart)
	assert.Equal(t, 2, byName["flow-2"].LineEnd)

	assert.Equal(t, 2, byName["commented"].LineStart)
	assert.Equal(t, 4, byName["commented"].LineEnd)

	assert.Equal(t, 1, byName["no-trailing-newline"].LineStart)
	assert.Equal(t, 1, byName["no-trailing-newline"].LineEnd)

	assert.Contains(t, byName, "42")
	assert.Empty(t, byName["null-desc"].Description)
	assert.NotContains(t, byName, "tabs")
	assert.NotContains(t, byName, "not-a-list")
}

func TestLastChangedFromBlameRange(t *testing.T) {
	simple := []repository.BlameRange{
		{Start: 1, End: 7, Date: date("2018-01-01")},
		{Start: 8, End: 15, Date: date("2018-02-02")},
		{Start: 16, End: 38, Date: date("2018-01-01")},
	}
	single := []repository.BlameRange{
		{Start: 1, End: 38, Date: date("2018-01-01")},
	}
	mixed := []repository.BlameRange{
		{Start: 1, End: 5, Date: date("2018-01-01")},
		{Start: 6, End: 6, Date: date("2018-02-02")},
		{Start: 7, End: 7, Date: date("2018-03-03")},
		{Start: 8, End: 9, Date: date("2018-08-08")},
		{Start: 10, End: 20, Date: date("2018-05-05")},
		{Start: 21, End: 22, Date: date("2018-06-06")},
		{Start: 23, End: 30, Date: date("2018-01-01")},
	}

	tests := []struct {
		name   string
		blames []repository.BlameRange
		start  int
		end    int
		want   string
	}{
		{"simple 1-5", simple, 1, 5, "2018-01-01"},
		{"simple 6-18", simple, 6, 18, "2018-02-02"},
		{"simple 20-22", simple, 20, 22, "2018-01-01"},
		{"simple 24-30", simple, 24, 30, "2018-01-01"},
		{"single 1-5", single, 1, 5, "2018-01-01"},
		{"single 6-18", single, 6, 18, "2018-01-01"},
		{"single 20-22", single, 20, 22, "2018-01-01"},
		{"complex 1-1", mixed, 1, 1, "2018-01-01"},
		{"complex 5-22", mixed, 5, 22, "2018-08-08"},
		{"complex 9-22", mixed, 9, 22, "2018-08-08"},
		{"complex 10-21", mixed, 10, 21, "2018-06-06"},
		{"complex 10-22", mixed, 10, 22, "2018-06-06"},
		{"complex 10-25", mixed, 10, 25, "2018-06-06"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LastChangedFromBlameRange(tt.start, tt.end, tt.blames)
			require.NotNil(t, got)
			assert.Equal(t, date(tt.want), *got)
		})
	}
}

func TestLastChangedFromBlameRangeNoMatch(t *testing.T) {
	assert.Nil(t, LastChangedFromBlameRange(1, 5, nil))
	assert.Nil(t, LastChangedFromBlameRange(1, 5, []repository.BlameRange{}))
	assert.Nil(t, LastChangedFromBlameRange(40, 50, []repository.BlameRange{
		{Start: 1, End: 38, Date: date("2018-01-01")},
	}))
}

func TestJobDefinitionLineRanges(t *testing.T) {
	type span struct{ start, end int }
	tests := []struct {
		name    string
		content string
		want    []span
	}{
		{
			name:    "document end marker",
			content: "---\n- job:\n    name: a\n...\n",
			want:    []span{{2, 3}},
		},
		{
			name:    "following document",
			content: "- job:\n    name: a\n---\n- job:\n    name: ignored\n",
			want:    []span{{1, 2}},
		},
		{
			name:    "bare dash",
			content: "- job:\n    name: a\n-\n  job:\n    name: b\n",
			want:    []span{{1, 2}, {4, 5}},
		},
		{
			name:    "bare dash after comment",
			content: "- job:\n    name: a\n# about b\n-\n  job:\n    name: b\n",
			want:    []span{{1, 3}, {5, 6}},
		},
		{
			name:    "indented sequence",
			content: "  - job:\n      name: a\n  - job:\n      name: b\n",
			want:    []span{{1, 2}, {3, 4}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs, err := jobDefinitions(tt.content)
			require.NoError(t, err)

			got := make([]span, 0, len(jobs))
			for _, j := range jobs {
				got = append(got, span{j.start, j.end})
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
