package policy

import (
	"strings"

	"github.com/ampkernel/amp/evidence"
	"github.com/ampkernel/amp/toolspec"
)

// CheckResponseText appends a citation notice to responseText when spec
// requires attribution, ev carries at least one verdict flagged
// needs_citation, and responseText doesn't already reference a source.
// This has no corresponding core operation — it's a convenience a caller
// may run over a call/verify node's bound output before surfacing it.
func CheckResponseText(responseText string, spec toolspec.ToolSpec, ev evidence.Evidence) string {
	if !spec.Provenance.AttributionRequired {
		return responseText
	}

	needsCitation := false
	for _, v := range ev.Verdicts {
		if v.NeedsCitation {
			needsCitation = true
			break
		}
	}
	if !needsCitation {
		return responseText
	}

	lower := strings.ToLower(responseText)
	if strings.Contains(lower, "source:") || strings.Contains(lower, "citation") {
		return responseText
	}

	return responseText + "\n\n[citation required: response derived from a tool requiring attribution]"
}
