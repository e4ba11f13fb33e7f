package core

import "github.com/owasp/nest/pkg/search"

// Built-in index names.
const (
	IndexProjects      = "projects"
	IndexChapters      = "chapters"
	IndexCommittees    = "committees"
	IndexUsers         = "users"
	IndexOrganizations = "organizations"
)

func init() {
	RegisterIndex(IndexDefinition{
		Name:          IndexProjects,
		Title:         "Projects",
		PageTitle:     "OWASP Projects",
		Placeholder:   "Search for OWASP projects...",
		DefaultSortBy: search.DefaultSort,
		DefaultOrder:  search.OrderDesc,
		SortOptions: []SortOption{
			{Key: search.DefaultSort, Label: "Relevancy"},
			{Key: "stars", Label: "Stars"},
			{Key: "forks", Label: "Forks"},
			{Key: "contributors", Label: "Contributors"},
			{Key: "name", Label: "Name"},
			{Key: "updated_at", Label: "Last updated"},
		},
		NumericAttributes: []string{"stars", "forks", "contributors", "issues"},
	})

	RegisterIndex(IndexDefinition{
		Name:          IndexChapters,
		Title:         "Chapters",
		PageTitle:     "OWASP Chapters",
		Placeholder:   "Search for OWASP chapters...",
		DefaultSortBy: search.DefaultSort,
		DefaultOrder:  search.OrderDesc,
		SortOptions: []SortOption{
			{Key: search.DefaultSort, Label: "Relevancy"},
			{Key: "name", Label: "Name"},
			{Key: "updated_at", Label: "Last updated"},
		},
	})

	RegisterIndex(IndexDefinition{
		Name:          IndexCommittees,
		Title:         "Committees",
		PageTitle:     "OWASP Committees",
		Placeholder:   "Search for OWASP committees...",
		DefaultSortBy: search.DefaultSort,
		DefaultOrder:  search.OrderDesc,
		SortOptions: []SortOption{
			{Key: search.DefaultSort, Label: "Relevancy"},
			{Key: "name", Label: "Name"},
			{Key: "updated_at", Label: "Last updated"},
		},
	})

	RegisterIndex(IndexDefinition{
		Name:          IndexUsers,
		Title:         "Community",
		PageTitle:     "OWASP Community",
		Placeholder:   "Search for OWASP community members...",
		DefaultSortBy: search.DefaultSort,
		DefaultOrder:  search.OrderDesc,
		SortOptions: []SortOption{
			{Key: search.DefaultSort, Label: "Relevancy"},
			{Key: "followers", Label: "Followers"},
			{Key: "repositories", Label: "Repositories"},
			{Key: "name", Label: "Name"},
		},
		NumericAttributes: []string{"followers", "following", "repositories", "contributions"},
	})

	RegisterIndex(IndexDefinition{
		Name:          IndexOrganizations,
		Title:         "Organizations",
		PageTitle:     "GitHub Organizations",
		Placeholder:   "Search for organizations...",
		DefaultSortBy: search.DefaultSort,
		DefaultOrder:  search.OrderDesc,
		SortOptions: []SortOption{
			{Key: search.DefaultSort, Label: "Relevancy"},
			{Key: "followers", Label: "Followers"},
			{Key: "repositories", Label: "Repositories"},
			{Key: "name", Label: "Name"},
		},
		NumericAttributes: []string{"followers", "repositories"},
	})
}
