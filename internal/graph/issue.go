package graph

import "fmt"

// Issue reason codes. Issues are not exceptions: a resolution that
// fails materializes as an ISSUE node so any consumer can query
// "what failed" like any other graph entity.
const (
	IssueUnresolvedReference = "UNRESOLVED_REFERENCE"
	IssueAmbiguousReference  = "AMBIGUOUS_REFERENCE"
	IssueGuaranteeViolation  = "GUARANTEE_VIOLATION"
)

// NewIssueNode builds an ISSUE node for an unresolvable or violated
// reference. The ID is derived from the code and the subject node so
// re-running the producing plugin upserts the same issue instead of
// accumulating duplicates.
func NewIssueNode(code, subjectID, message string, suggestions []string) Node {
	meta := map[string]interface{}{
		"code":       code,
		"subject":    subjectID,
		"confidence": 0.0,
	}
	if len(suggestions) > 0 {
		meta["suggestions"] = suggestions
	}
	return Node{
		ID:       fmt.Sprintf("issue:%s#%s", code, subjectID),
		Type:     TypeIssue,
		Name:     message,
		File:     FileBuiltin,
		Line:     0,
		Metadata: meta,
	}
}
