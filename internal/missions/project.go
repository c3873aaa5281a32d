package missions

// GroupByProject groups Pending and In Progress items by project tag, for
// the /status command's per-project report.
func GroupByProject(content string) map[string]map[string][]string {
	result := map[string]map[string][]string{}
	sections := ParseSections(content)
	for _, key := range []string{"pending", "in_progress"} {
		for _, item := range sections[key] {
			project := ExtractProjectTag(item)
			if _, ok := result[project]; !ok {
				result[project] = map[string][]string{"pending": {}, "in_progress": {}}
			}
			result[project][key] = append(result[project][key], item)
		}
	}
	return result
}
