package importer

import (
	"fmt"
	"strings"

	"github.com/google/go-github/v73/github"
	"github.com/owasp/nest/pkg/core"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

const siteURL = "https://owasp.org/"

// frontMatterKeys are copied from index.md into document attributes.
var frontMatterKeys = []string{"level", "type", "region", "country", "tags"}

// ParseFrontMatter decodes the YAML block delimited by "---" lines at the
// top of a markdown file. A file without front matter yields an empty map.
func ParseFrontMatter(content string) (map[string]any, error) {
	content = strings.TrimLeft(content, "\ufeff \t\r\n")
	if !strings.HasPrefix(content, "---") {
		return map[string]any{}, nil
	}
	rest := content[3:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return nil, fmt.Errorf("unterminated front matter")
	}

	meta := make(map[string]any)
	if err := yaml.Unmarshal([]byte(rest[:end]), &meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// projectLevels maps the numeric levels used in index.md to their names.
var projectLevels = map[float64]string{
	1:   "other",
	2:   "incubator",
	3:   "lab",
	3.5: "production",
	4:   "flagship",
}

func attributeValue(key string, v any) any {
	switch val := v.(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(val))
	case int:
		return attributeValue(key, float64(val))
	case float64:
		if name, ok := projectLevels[val]; ok && key == "level" {
			return name
		}
		return val
	case []any:
		tags := make([]string, 0, len(val))
		for _, t := range val {
			tags = append(tags, strings.ToLower(strings.TrimSpace(fmt.Sprint(t))))
		}
		return tags
	}
	return v
}

// humanize turns a repository key like "juice-shop" into "Juice Shop".
func humanize(key string) string {
	return cases.Title(language.English).String(strings.NewReplacer("-", " ", "_", " ").Replace(key))
}

func repositoryDocument(index, key string, repo *github.Repository, meta map[string]any) *core.Document {
	name := humanize(key)
	if title, ok := meta["title"].(string); ok && strings.TrimSpace(title) != "" {
		name = strings.TrimSpace(title)
	}

	doc := core.NewDocument(index, key, name)
	doc.Summary = repo.GetDescription()
	doc.URL = siteURL + repo.GetName()
	doc.UpdatedAt = repo.GetPushedAt().Time
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = repo.GetUpdatedAt().Time
	}

	doc.Set("repository", repo.GetHTMLURL()).
		Set("archived", repo.GetArchived())
	if index == core.IndexProjects {
		doc.Set("stars", repo.GetStargazersCount()).
			Set("forks", repo.GetForksCount()).
			Set("issues", repo.GetOpenIssuesCount())
		if lang := repo.GetLanguage(); lang != "" {
			doc.Set("language", lang)
		}
	}
	if topics := repo.Topics; len(topics) > 0 {
		doc.Set("topics", topics)
	}

	if pitch, ok := meta["pitch"].(string); ok && doc.Summary == "" {
		doc.Summary = strings.TrimSpace(pitch)
	}
	for _, k := range frontMatterKeys {
		if v, ok := meta[k]; ok && v != nil {
			doc.Set(k, attributeValue(k, v))
		}
	}
	return doc
}

func userDocument(u *github.User) *core.Document {
	login := u.GetLogin()
	name := u.GetName()
	if name == "" {
		name = login
	}

	doc := core.NewDocument(core.IndexUsers, login, name)
	doc.Summary = u.GetBio()
	doc.URL = u.GetHTMLURL()
	if doc.URL == "" {
		doc.URL = "https://github.com/" + login
	}
	doc.UpdatedAt = u.GetUpdatedAt().Time

	doc.Set("login", login).
		Set("followers", u.GetFollowers()).
		Set("following", u.GetFollowing()).
		Set("repositories", u.GetPublicRepos())
	if c := u.GetCompany(); c != "" {
		doc.Set("company", c)
	}
	if l := u.GetLocation(); l != "" {
		doc.Set("location", l)
	}
	if a := u.GetAvatarURL(); a != "" {
		doc.Set("avatar_url", a)
	}
	return doc
}

func organizationDocument(o *github.Organization) *core.Document {
	login := o.GetLogin()
	name := o.GetName()
	if name == "" {
		name = login
	}

	doc := core.NewDocument(core.IndexOrganizations, login, name)
	doc.Summary = o.GetDescription()
	doc.URL = o.GetHTMLURL()
	doc.UpdatedAt = o.GetUpdatedAt().Time

	doc.Set("login", login).
		Set("followers", o.GetFollowers()).
		Set("repositories", o.GetPublicRepos())
	if l := o.GetLocation(); l != "" {
		doc.Set("location", l)
	}
	return doc
}
