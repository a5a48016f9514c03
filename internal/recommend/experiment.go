package recommend

import "github.com/cespare/xxhash/v2"

// AssignVariant deterministically buckets subjectID into one of variants
// for experiment by hashing "experiment:subjectID". The result depends only
// on its arguments, so a subject keeps its variant until the variant list
// changes. It returns "" when variants is empty.
func AssignVariant(experiment, subjectID string, variants []string) string {
	if len(variants) == 0 {
		return ""
	}
	h := xxhash.Sum64String(experiment + ":" + subjectID)
	return variants[h%uint64(len(variants))]
}
